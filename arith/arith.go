// Package arith is the example service used by cmd/arithserver and
// cmd/arithclient: Add, Sub, Mul and Div over two int64 operands. It
// stands in for a protoc-generated service — its Request/Result types
// implement rpc.Message by hand, since this engine doesn't assume or
// require a protobuf compiler step at all (rpc/rpcproto is there for
// services that do want generated types).
package arith

import (
	"encoding/binary"
	"fmt"

	"github.com/phuhao00/urpc/rpc"
)

// Request is the argument pair for every Arith method.
type Request struct {
	A, B int64
}

func (r *Request) ByteSize() int { return 16 }

func (r *Request) SerializeInto(buf []byte) error {
	if len(buf) != 16 {
		return fmt.Errorf("arith: request buffer is %d bytes, want 16", len(buf))
	}
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.A))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.B))
	return nil
}

func (r *Request) ParseFrom(buf []byte) error {
	if len(buf) != 16 {
		return fmt.Errorf("arith: request payload is %d bytes, want 16", len(buf))
	}
	r.A = int64(binary.LittleEndian.Uint64(buf[0:8]))
	r.B = int64(binary.LittleEndian.Uint64(buf[8:16]))
	return nil
}

// Result carries a single int64 answer.
type Result struct {
	Value int64
}

func (r *Result) ByteSize() int { return 8 }

func (r *Result) SerializeInto(buf []byte) error {
	if len(buf) != 8 {
		return fmt.Errorf("arith: result buffer is %d bytes, want 8", len(buf))
	}
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.Value))
	return nil
}

func (r *Result) ParseFrom(buf []byte) error {
	if len(buf) != 8 {
		return fmt.Errorf("arith: result payload is %d bytes, want 8", len(buf))
	}
	r.Value = int64(binary.LittleEndian.Uint64(buf[0:8]))
	return nil
}

const ServiceName = "Arith"

var methods = []rpc.MethodDescriptor{
	{Name: "Add"}, {Name: "Sub"}, {Name: "Mul"}, {Name: "Div"},
}

// Service implements rpc.Service for the four Arith methods. Div fails the
// call with "divisor can't be 0" instead of returning a result.
type Service struct{}

func (Service) Descriptor() *rpc.ServiceDescriptor {
	return &rpc.ServiceDescriptor{Name: ServiceName, Methods: methods}
}

func (Service) FindMethod(name string) (rpc.MethodDescriptor, bool) {
	for _, m := range methods {
		if m.Name == name {
			return m, true
		}
	}
	return rpc.MethodDescriptor{}, false
}

func (Service) RequestPrototype(rpc.MethodDescriptor) rpc.Message  { return &Request{} }
func (Service) ResponsePrototype(rpc.MethodDescriptor) rpc.Message { return &Result{} }

func (Service) CallMethod(method rpc.MethodDescriptor, request, response rpc.Message) error {
	req := request.(*Request)
	res := response.(*Result)

	switch method.Name {
	case "Add":
		res.Value = req.A + req.B
	case "Sub":
		res.Value = req.A - req.B
	case "Mul":
		res.Value = req.A * req.B
	case "Div":
		if req.B == 0 {
			return fmt.Errorf("divisor can't be 0")
		}
		res.Value = req.A / req.B
	default:
		return fmt.Errorf("arith: unknown method %q", method.Name)
	}
	return nil
}
