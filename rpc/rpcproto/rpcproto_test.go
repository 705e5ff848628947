package rpcproto

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/phuhao00/urpc/rpc"
)

func TestMessageRoundTrip(t *testing.T) {
	in := Wrap(wrapperspb.Int64(7))

	buf := make([]byte, in.ByteSize())
	require.NoError(t, in.SerializeInto(buf))

	out := Wrap(&wrapperspb.Int64Value{})
	require.NoError(t, out.ParseFrom(buf))
	assert.Equal(t, int64(7), out.Unwrap().(*wrapperspb.Int64Value).Value)
}

func TestMessageMarshalCacheInvalidatedByParse(t *testing.T) {
	m := Wrap(wrapperspb.Int64(300))
	first := m.ByteSize()
	assert.Equal(t, first, m.ByteSize()) // cached, stable

	small := Wrap(wrapperspb.Int64(1))
	buf := make([]byte, small.ByteSize())
	require.NoError(t, small.SerializeInto(buf))

	// ParseFrom drops the stale marshal so the next ByteSize reflects the
	// new contents.
	require.NoError(t, m.ParseFrom(buf))
	assert.Equal(t, int64(1), m.Unwrap().(*wrapperspb.Int64Value).Value)
	assert.Equal(t, small.ByteSize(), m.ByteSize())
}

func TestMessageSerializeRejectsWrongSizeBuffer(t *testing.T) {
	m := Wrap(wrapperspb.Int64(42))
	err := m.SerializeInto(make([]byte, m.ByteSize()+1))
	assert.Error(t, err)
}

func newEchoService() *Service {
	return NewService("Echo",
		MethodSpec{
			Name:              "Double",
			RequestPrototype:  &wrapperspb.Int64Value{},
			ResponsePrototype: &wrapperspb.Int64Value{},
			Handler: func(request proto.Message) (proto.Message, error) {
				in := request.(*wrapperspb.Int64Value)
				return wrapperspb.Int64(in.Value * 2), nil
			},
		},
		MethodSpec{
			Name:              "Fail",
			RequestPrototype:  &wrapperspb.Int64Value{},
			ResponsePrototype: &wrapperspb.Int64Value{},
			Handler: func(request proto.Message) (proto.Message, error) {
				return nil, fmt.Errorf("echo is down")
			},
		},
	)
}

func TestServiceDescriptorAndLookup(t *testing.T) {
	svc := newEchoService()

	desc := svc.Descriptor()
	assert.Equal(t, "Echo", desc.Name)
	assert.Len(t, desc.Methods, 2)

	_, ok := svc.FindMethod("Double")
	assert.True(t, ok)
	_, ok = svc.FindMethod("Triple")
	assert.False(t, ok)
}

func TestServicePrototypesAreFresh(t *testing.T) {
	svc := newEchoService()
	method, ok := svc.FindMethod("Double")
	require.True(t, ok)

	a := svc.RequestPrototype(method).(*Message).Unwrap()
	b := svc.RequestPrototype(method).(*Message).Unwrap()
	assert.NotSame(t, a, b)
}

func startEchoServer(t *testing.T) *rpc.Server {
	t.Helper()
	srv := rpc.NewServer()
	require.True(t, srv.RegisterService(newEchoService()))

	go func() { _ = srv.Listen("localhost:0") }()
	require.Eventually(t, func() bool { return srv.Addr() != nil },
		2*time.Second, 5*time.Millisecond, "server never started listening")
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

// A protobuf-typed service served and called through the engine: the
// payload crosses the wire as opaque bytes, with Wrap on both ends.
func TestServiceEndToEnd(t *testing.T) {
	srv := startEchoServer(t)
	ch := rpc.NewChannel(nil)
	t.Cleanup(ch.Close)

	host, port, err := net.SplitHostPort(srv.Addr().String())
	require.NoError(t, err)

	ctrl := rpc.NewController(host, port, 2000)
	res := &wrapperspb.Int64Value{}
	err = ch.CallMethod(ctrl, "Echo.Double", Wrap(wrapperspb.Int64(12)), Wrap(res))

	require.NoError(t, err)
	assert.False(t, ctrl.Failed())
	assert.Equal(t, int64(24), res.Value)
}

func TestServiceEndToEnd_HandlerError(t *testing.T) {
	srv := startEchoServer(t)
	ch := rpc.NewChannel(nil)
	t.Cleanup(ch.Close)

	host, port, err := net.SplitHostPort(srv.Addr().String())
	require.NoError(t, err)

	ctrl := rpc.NewController(host, port, 2000)
	err = ch.CallMethod(ctrl, "Echo.Fail", Wrap(wrapperspb.Int64(1)), Wrap(&wrapperspb.Int64Value{}))

	require.Error(t, err)
	assert.True(t, ctrl.Failed())
	assert.Equal(t, rpc.FAILED, ctrl.ErrorCode())
	assert.Equal(t, "echo is down", ctrl.ErrorText())
}
