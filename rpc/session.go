package rpc

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// DispatchEvent describes one completed request, handed to every
// DispatchObserver after the response has been written. The accounting and
// calllog packages both implement DispatchObserver against this same event
// instead of each hooking the Session separately.
type DispatchEvent struct {
	Service  string
	Method   string
	Status   Status
	Duration time.Duration
	Err      error
}

// DispatchObserver is notified once per request a Session finishes
// dispatching. Session calls every observer synchronously and in order;
// an observer that needs to do its own I/O (Redis, Mongo, NSQ) is
// responsible for making that asynchronous itself, same as the accounting
// and calllog packages do.
type DispatchObserver interface {
	OnDispatch(DispatchEvent)
}

// Session owns one accepted connection and runs its strict
// request-response-request loop: read exactly one request, dispatch it,
// write exactly one response, then read the next. There is no pipelining
// on the server side. A client Connection may have several requests in
// flight and write them back to back; the Session handles that simply by
// never looking at the socket again until the current response is fully
// written.
type Session struct {
	conn      net.Conn
	registry  *registry
	observers []DispatchObserver

	readBuf frameBuffer
}

func newSession(conn net.Conn, registry *registry, observers []DispatchObserver) *Session {
	return &Session{conn: conn, registry: registry, observers: observers}
}

// serve runs the read-dispatch-write loop until the connection is closed
// or a transport error occurs.
func (s *Session) serve() {
	defer s.conn.Close()

	header := make([]byte, headerSize)
	for {
		if _, err := readFull(s.conn, header); err != nil {
			return
		}
		rpcLen, argLen := parseHeader(header)
		if int64(rpcLen)+int64(argLen) > maxFrameBody {
			return
		}

		body := s.readBuf.ensure(int(rpcLen) + int(argLen))
		if _, err := readFull(s.conn, body); err != nil {
			return
		}

		if err := s.handleRequest(body[:rpcLen], body[rpcLen:rpcLen+argLen]); err != nil {
			return
		}
	}
}

// handleRequest dispatches one request and writes its response. A returned
// error always means the connection is being torn down with no response
// written — reserved for protocol-level corruption (an unparseable preamble
// or a payload the service's own message type rejects), never for an
// ordinary UNFOUND/FAILED outcome, which is written back to the client and
// leaves the session open.
func (s *Session) handleRequest(preamble, payload []byte) error {
	start := time.Now()

	id, name, ok := decodeRequestPreamble(preamble)
	if !ok {
		return fmt.Errorf("rpc: malformed request preamble")
	}

	serviceName, methodName, ok := splitServiceMethod(name)
	if !ok {
		status, message := UNFOUND, "invalid method identity"
		err := s.writeResponse(id, status, message, nil)
		s.notify(serviceName, methodName, status, start, errFromStatus(status, message))
		return err
	}

	svc, found := s.registry.lookup(serviceName)
	method, methodFound := MethodDescriptor{}, false
	if found {
		method, methodFound = svc.FindMethod(methodName)
	}

	var status Status
	var message string
	var response Message

	switch {
	case !found:
		status, message = UNFOUND, "service not found"
	case !methodFound:
		status, message = UNFOUND, "method not found"
	default:
		request := svc.RequestPrototype(method)
		if len(payload) > 0 {
			if err := request.ParseFrom(payload); err != nil {
				// A request payload the service's own message type
				// rejects is a malformed client, not an application
				// failure — close the session instead of answering it.
				return fmt.Errorf("rpc: parse request %q: %w", name, err)
			}
		}
		response = svc.ResponsePrototype(method)
		if err := s.invokeHandler(svc, method, request, response); err != nil {
			status, message, response = FAILED, err.Error(), nil
		} else {
			status = SUCCEED
		}
	}

	err := s.writeResponse(id, status, message, response)
	s.notify(serviceName, methodName, status, start, errFromStatus(status, message))
	return err
}

// invokeHandler calls svc.CallMethod, recovering a panicking handler into
// an error instead of taking the whole Session (and the listener's accept
// loop, absent this recover) down with it.
func (s *Session) invokeHandler(svc Service, method MethodDescriptor, request, response Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("Server Internal Error: %v", r)
		}
	}()
	return svc.CallMethod(method, request, response)
}

func errFromStatus(status Status, message string) error {
	if status == SUCCEED {
		return nil
	}
	return fmt.Errorf("rpc: %s: %s", status, message)
}

func (s *Session) notify(service, method string, status Status, start time.Time, err error) {
	if len(s.observers) == 0 {
		return
	}
	event := DispatchEvent{Service: service, Method: method, Status: status, Duration: time.Since(start), Err: err}
	for _, obs := range s.observers {
		obs.OnDispatch(event)
	}
}

func (s *Session) writeResponse(id uint64, status Status, message string, response Message) error {
	argLen := 0
	if response != nil {
		argLen = response.ByteSize()
	}
	rpcLen := responsePreambleLen(message)

	frame := make([]byte, headerSize+rpcLen+argLen)
	putHeader(frame, uint32(rpcLen), uint32(argLen))
	encodeResponsePreamble(frame[headerSize:], id, status, message)
	if argLen > 0 {
		if err := response.SerializeInto(frame[headerSize+rpcLen:]); err != nil {
			return err
		}
	}

	_, err := s.conn.Write(frame)
	return err
}

// splitServiceMethod splits "service.method" on its first dot.
func splitServiceMethod(name string) (service, method string, ok bool) {
	i := strings.IndexByte(name, '.')
	if i < 0 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}
