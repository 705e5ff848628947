package rpc

// Message is the payload contract the engine requires of request and
// response types. The engine never inspects payload bytes itself — it only
// asks a Message to size and serialize itself, and asks a fresh instance
// (from Service.RequestPrototype/ResponsePrototype) to parse one. A
// google.golang.org/protobuf message satisfies this via the rpcproto
// adapter; so does anything else that can size and flatten itself.
type Message interface {
	// ByteSize reports how many bytes SerializeInto will write.
	ByteSize() int
	// SerializeInto writes the message into buf, which is exactly
	// ByteSize() bytes long.
	SerializeInto(buf []byte) error
	// ParseFrom populates the message from buf.
	ParseFrom(buf []byte) error
}

// MethodDescriptor names one RPC a Service exposes.
type MethodDescriptor struct {
	Name string
}

// ServiceDescriptor is the static shape of a Service: its registered name
// and the methods it answers to. Dispatch in Session splits an incoming
// "service.method" request name on the dot and looks the service up by
// ServiceDescriptor.Name, then the method up within it.
type ServiceDescriptor struct {
	Name    string
	Methods []MethodDescriptor
}

// Service is anything a Server can register and dispatch requests to. A
// generated service (protobuf-rpc style) or a hand-written one both
// implement this the same way: describe yourself, hand out empty
// request/response messages for a method by name, and execute.
type Service interface {
	// Descriptor returns the service's static shape.
	Descriptor() *ServiceDescriptor

	// FindMethod looks up a method by name, returning false if this
	// service doesn't expose it.
	FindMethod(name string) (MethodDescriptor, bool)

	// RequestPrototype and ResponsePrototype return a fresh, empty
	// message for the given method, to be filled by ParseFrom or by the
	// handler respectively.
	RequestPrototype(method MethodDescriptor) Message
	ResponsePrototype(method MethodDescriptor) Message

	// CallMethod invokes method with request already parsed, filling
	// response in place. An error return becomes a FAILED response with
	// the error's text as the response's Status message.
	CallMethod(method MethodDescriptor, request, response Message) error
}
