package rpcproto

import (
	"google.golang.org/protobuf/proto"

	"github.com/phuhao00/urpc/rpc"
)

// Handler is one method's business logic: given a parsed protobuf request,
// produce a protobuf response or an error (which becomes a FAILED status
// with the error text, same as any other rpc.Service).
type Handler func(request proto.Message) (proto.Message, error)

// MethodSpec binds a method name to its handler and the prototype
// instances used to allocate fresh request/response messages per call.
type MethodSpec struct {
	Name              string
	RequestPrototype  proto.Message
	ResponsePrototype proto.Message
	Handler           Handler
}

// Service is a ready-made rpc.Service for protobuf-defined methods — most
// services built against this engine can use it directly instead of
// implementing rpc.Service by hand.
type Service struct {
	name    string
	methods map[string]MethodSpec
	order   []rpc.MethodDescriptor
}

// NewService builds a Service named name exposing the given methods.
func NewService(name string, specs ...MethodSpec) *Service {
	s := &Service{name: name, methods: make(map[string]MethodSpec, len(specs))}
	for _, spec := range specs {
		s.methods[spec.Name] = spec
		s.order = append(s.order, rpc.MethodDescriptor{Name: spec.Name})
	}
	return s
}

func (s *Service) Descriptor() *rpc.ServiceDescriptor {
	return &rpc.ServiceDescriptor{Name: s.name, Methods: s.order}
}

func (s *Service) FindMethod(name string) (rpc.MethodDescriptor, bool) {
	if _, ok := s.methods[name]; !ok {
		return rpc.MethodDescriptor{}, false
	}
	return rpc.MethodDescriptor{Name: name}, true
}

func (s *Service) RequestPrototype(method rpc.MethodDescriptor) rpc.Message {
	return Wrap(proto.Clone(s.methods[method.Name].RequestPrototype))
}

func (s *Service) ResponsePrototype(method rpc.MethodDescriptor) rpc.Message {
	return Wrap(proto.Clone(s.methods[method.Name].ResponsePrototype))
}

func (s *Service) CallMethod(method rpc.MethodDescriptor, request, response rpc.Message) error {
	spec := s.methods[method.Name]

	reqMsg := request.(*Message).Unwrap()
	result, err := spec.Handler(reqMsg)
	if err != nil {
		return err
	}

	proto.Merge(response.(*Message).Unwrap(), result)
	return nil
}
