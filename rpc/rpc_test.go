package rpc

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// intMessage is the payload type used throughout these tests: a single
// int64, the simplest thing that can round-trip through ByteSize/
// SerializeInto/ParseFrom.
type intMessage struct {
	Value int64
}

func (m *intMessage) ByteSize() int { return 8 }

func (m *intMessage) SerializeInto(buf []byte) error {
	if len(buf) != 8 {
		return fmt.Errorf("want 8 bytes, got %d", len(buf))
	}
	byteOrder.PutUint64(buf, uint64(m.Value))
	return nil
}

func (m *intMessage) ParseFrom(buf []byte) error {
	if len(buf) != 8 {
		return fmt.Errorf("want 8 bytes, got %d", len(buf))
	}
	m.Value = int64(byteOrder.Uint64(buf))
	return nil
}

// arithService exposes Add, Div (which fails on a zero divisor) and Slow
// (which blocks until slow is closed). Requests are pairMessages carrying
// both operands; responses are intMessages.
type arithService struct {
	slow chan struct{} // closed to release a deliberately stalled handler
}

type pairMessage struct {
	A, B int64
}

func (m *pairMessage) ByteSize() int { return 16 }

func (m *pairMessage) SerializeInto(buf []byte) error {
	if len(buf) != 16 {
		return fmt.Errorf("want 16 bytes, got %d", len(buf))
	}
	byteOrder.PutUint64(buf[0:8], uint64(m.A))
	byteOrder.PutUint64(buf[8:16], uint64(m.B))
	return nil
}

func (m *pairMessage) ParseFrom(buf []byte) error {
	if len(buf) != 16 {
		return fmt.Errorf("want 16 bytes, got %d", len(buf))
	}
	m.A = int64(byteOrder.Uint64(buf[0:8]))
	m.B = int64(byteOrder.Uint64(buf[8:16]))
	return nil
}

var arithMethods = []MethodDescriptor{{Name: "Add"}, {Name: "Div"}, {Name: "Slow"}}

func (s *arithService) Descriptor() *ServiceDescriptor {
	return &ServiceDescriptor{Name: "Arith", Methods: arithMethods}
}

func (s *arithService) FindMethod(name string) (MethodDescriptor, bool) {
	for _, m := range arithMethods {
		if m.Name == name {
			return m, true
		}
	}
	return MethodDescriptor{}, false
}

func (s *arithService) RequestPrototype(MethodDescriptor) Message  { return &pairMessage{} }
func (s *arithService) ResponsePrototype(MethodDescriptor) Message { return &intMessage{} }

func (s *arithService) CallMethod(method MethodDescriptor, request, response Message) error {
	req := request.(*pairMessage)
	res := response.(*intMessage)

	switch method.Name {
	case "Add":
		res.Value = req.A + req.B
	case "Div":
		if req.B == 0 {
			return fmt.Errorf("divisor can't be 0")
		}
		res.Value = req.A / req.B
	case "Slow":
		<-s.slow
		res.Value = req.A
	}
	return nil
}

func startTestServer(t *testing.T, svc Service) *Server {
	t.Helper()
	srv := NewServer()
	require.True(t, srv.RegisterService(svc))

	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = srv.Listen("localhost:0")
	}()
	<-ready

	// Listen assigns the listener from inside the goroutine above; give it
	// a moment to be bound before callers read Addr().
	for i := 0; i < 100 && srv.Addr() == nil; i++ {
		time.Sleep(time.Millisecond)
	}
	require.NotNil(t, srv.Addr(), "server never started listening")

	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func dialController(t *testing.T, srv *Server) *Controller {
	t.Helper()
	host, port, err := net.SplitHostPort(srv.Addr().String())
	require.NoError(t, err)
	return NewController(host, port, 2000)
}

func TestCallMethod_Success(t *testing.T) {
	srv := startTestServer(t, &arithService{})
	ch := NewChannel(nil)
	t.Cleanup(ch.Close)

	ctrl := dialController(t, srv)
	res := &intMessage{}
	err := ch.CallMethod(ctrl, "Arith.Add", &pairMessage{A: 4, B: 2}, res)

	require.NoError(t, err)
	assert.Equal(t, int64(6), res.Value)
	assert.False(t, ctrl.Failed())
}

func TestCallMethod_HandlerFailure(t *testing.T) {
	srv := startTestServer(t, &arithService{})
	ch := NewChannel(nil)
	t.Cleanup(ch.Close)

	ctrl := dialController(t, srv)
	res := &intMessage{}
	err := ch.CallMethod(ctrl, "Arith.Div", &pairMessage{A: 4, B: 0}, res)

	require.Error(t, err)
	assert.True(t, ctrl.Failed())
	assert.Equal(t, FAILED, ctrl.ErrorCode())
	assert.Contains(t, ctrl.ErrorText(), "divisor can't be 0")
}

func TestCallMethod_UnknownMethod(t *testing.T) {
	srv := startTestServer(t, &arithService{})
	ch := NewChannel(nil)
	t.Cleanup(ch.Close)

	ctrl := dialController(t, srv)
	res := &intMessage{}
	err := ch.CallMethod(ctrl, "Arith.NoSuchMethod", &pairMessage{A: 1, B: 1}, res)

	require.Error(t, err)
	assert.Equal(t, UNFOUND, ctrl.ErrorCode())
	assert.Equal(t, "method not found", ctrl.ErrorText())
}

func TestCallMethod_UnknownService(t *testing.T) {
	srv := startTestServer(t, &arithService{})
	ch := NewChannel(nil)
	t.Cleanup(ch.Close)

	ctrl := dialController(t, srv)
	res := &intMessage{}
	err := ch.CallMethod(ctrl, "NoSuchService.Add", &pairMessage{A: 1, B: 1}, res)

	require.Error(t, err)
	assert.Equal(t, UNFOUND, ctrl.ErrorCode())
	assert.Equal(t, "service not found", ctrl.ErrorText())
}

func TestCallMethod_DotlessNameIsInvalidIdentity(t *testing.T) {
	srv := startTestServer(t, &arithService{})
	ch := NewChannel(nil)
	t.Cleanup(ch.Close)

	ctrl := dialController(t, srv)
	err := ch.CallMethod(ctrl, "NoDotHere", &pairMessage{A: 1, B: 1}, &intMessage{})

	require.Error(t, err)
	assert.Equal(t, UNFOUND, ctrl.ErrorCode())
	assert.Equal(t, "invalid method identity", ctrl.ErrorText())
}

func TestCallMethod_Timeout(t *testing.T) {
	svc := &arithService{slow: make(chan struct{})}
	srv := startTestServer(t, svc)
	t.Cleanup(func() { close(svc.slow) }) // unblock the handler so the server goroutine can exit

	ch := NewChannel(nil)
	t.Cleanup(ch.Close)

	host, port, err := net.SplitHostPort(srv.Addr().String())
	require.NoError(t, err)
	ctrl := NewController(host, port, 50) // 50ms, handler never returns in time

	res := &intMessage{}
	err = ch.CallMethod(ctrl, "Arith.Slow", &pairMessage{A: 1, B: 0}, res)

	require.Error(t, err)
	assert.Equal(t, TIMEDOUT, ctrl.ErrorCode())
}

// poisonMessage always fails ParseFrom, simulating a payload the service's
// message type rejects (a malformed client, not an application failure).
type poisonMessage struct{}

func (poisonMessage) ByteSize() int                  { return 0 }
func (poisonMessage) SerializeInto(buf []byte) error { return nil }
func (poisonMessage) ParseFrom(buf []byte) error     { return fmt.Errorf("poison: always fails") }

// poisonService always hands out a poisonMessage as its request prototype,
// so any non-empty payload sent to it fails to parse.
type poisonService struct{}

var poisonMethods = []MethodDescriptor{{Name: "Accept"}}

func (poisonService) Descriptor() *ServiceDescriptor {
	return &ServiceDescriptor{Name: "Poison", Methods: poisonMethods}
}

func (poisonService) FindMethod(name string) (MethodDescriptor, bool) {
	if name == "Accept" {
		return MethodDescriptor{Name: "Accept"}, true
	}
	return MethodDescriptor{}, false
}

func (poisonService) RequestPrototype(MethodDescriptor) Message  { return poisonMessage{} }
func (poisonService) ResponsePrototype(MethodDescriptor) Message { return &intMessage{} }

func (poisonService) CallMethod(method MethodDescriptor, request, response Message) error {
	t := response.(*intMessage)
	t.Value = 1
	return nil
}

func TestSession_MalformedPayloadClosesConnectionWithoutResponse(t *testing.T) {
	srv := startTestServer(t, poisonService{})

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	name := "Poison.Accept"
	payload := []byte{0xff} // any non-empty payload: poisonMessage.ParseFrom always errors
	rpcLen := requestPreambleLen(name)
	frame := make([]byte, headerSize+rpcLen+len(payload))
	putHeader(frame, uint32(rpcLen), uint32(len(payload)))
	encodeRequestPreamble(frame[headerSize:], 1, name)
	copy(frame[headerSize+rpcLen:], payload)

	_, err = conn.Write(frame)
	require.NoError(t, err)

	// The session closes the socket instead of writing a response; the
	// next read observes EOF rather than a frame header.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	assert.Error(t, err)
}

// panicService exposes a single method whose handler panics, to exercise
// Session's recover() path.
type panicService struct{}

var panicMethods = []MethodDescriptor{{Name: "Boom"}}

func (panicService) Descriptor() *ServiceDescriptor {
	return &ServiceDescriptor{Name: "Panicky", Methods: panicMethods}
}

func (panicService) FindMethod(name string) (MethodDescriptor, bool) {
	if name == "Boom" {
		return MethodDescriptor{Name: "Boom"}, true
	}
	return MethodDescriptor{}, false
}

func (panicService) RequestPrototype(MethodDescriptor) Message  { return &intMessage{} }
func (panicService) ResponsePrototype(MethodDescriptor) Message { return &intMessage{} }

func (panicService) CallMethod(method MethodDescriptor, request, response Message) error {
	panic("handler exploded")
}

func TestCallMethod_HandlerPanicBecomesFailedResponse(t *testing.T) {
	srv := startTestServer(t, panicService{})
	ch := NewChannel(nil)
	t.Cleanup(ch.Close)

	ctrl := dialController(t, srv)
	res := &intMessage{}
	err := ch.CallMethod(ctrl, "Panicky.Boom", &intMessage{Value: 1}, res)

	require.Error(t, err)
	assert.True(t, ctrl.Failed())
	assert.Equal(t, FAILED, ctrl.ErrorCode())
	assert.Contains(t, ctrl.ErrorText(), "Server Internal Error")

	// the session survived the panic: a second call on the same
	// connection still gets a real response.
	ctrl2 := dialController(t, srv)
	err = ch.CallMethod(ctrl2, "Panicky.Boom", &intMessage{Value: 1}, res)
	require.Error(t, err)
	assert.Equal(t, FAILED, ctrl2.ErrorCode())
}

func TestCallMethod_SequentialOrderingPerConnection(t *testing.T) {
	srv := startTestServer(t, &arithService{})
	ch := NewChannel(nil)
	t.Cleanup(ch.Close)

	host, port, err := net.SplitHostPort(srv.Addr().String())
	require.NoError(t, err)

	for i := int64(0); i < 5; i++ {
		ctrl := NewController(host, port, 2000)
		res := &intMessage{}
		err := ch.CallMethod(ctrl, "Arith.Add", &pairMessage{A: i, B: i}, res)
		require.NoError(t, err)
		assert.Equal(t, i+i, res.Value)
	}
}
