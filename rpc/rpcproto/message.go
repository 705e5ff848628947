// Package rpcproto adapts google.golang.org/protobuf messages to the
// rpc.Message interface, so a service can describe its requests and
// responses as ordinary generated protobuf types instead of hand-rolling
// ByteSize/SerializeInto/ParseFrom.
package rpcproto

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Wrap adapts msg to rpc.Message. msg must be non-nil; a typical caller
// wraps a freshly constructed generated message (e.g. &pb.AddRequest{}).
func Wrap(msg proto.Message) *Message {
	return &Message{msg: msg}
}

// Message is the rpc.Message implementation backing every protobuf-defined
// request/response in services built with this package. Marshal results
// are cached between ByteSize and SerializeInto so a caller that asks for
// both (as the Connection's request encoder and Session.writeResponse do)
// only pays for one proto.Marshal.
type Message struct {
	msg    proto.Message
	cached []byte
}

// Unwrap returns the underlying protobuf message, for a handler that wants
// its concrete generated type back.
func (m *Message) Unwrap() proto.Message { return m.msg }

func (m *Message) ByteSize() int {
	if m.cached == nil {
		b, err := proto.Marshal(m.msg)
		if err != nil {
			// ByteSize has no error return; SerializeInto reports it for real.
			return 0
		}
		m.cached = b
	}
	return len(m.cached)
}

func (m *Message) SerializeInto(buf []byte) error {
	if m.cached == nil {
		b, err := proto.Marshal(m.msg)
		if err != nil {
			return fmt.Errorf("rpcproto: marshal: %w", err)
		}
		m.cached = b
	}
	if len(buf) != len(m.cached) {
		return fmt.Errorf("rpcproto: serialize: buffer is %d bytes, message is %d", len(buf), len(m.cached))
	}
	copy(buf, m.cached)
	return nil
}

func (m *Message) ParseFrom(buf []byte) error {
	m.cached = nil
	if err := proto.Unmarshal(buf, m.msg); err != nil {
		return fmt.Errorf("rpcproto: unmarshal: %w", err)
	}
	return nil
}
