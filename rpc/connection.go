package rpc

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrConnectionClosed is returned to every call still pending when Close is
// called, and to any CallMethod issued after the Connection has shut down.
// A Connection that dies of a transport error settles its pending calls
// with that error instead.
var ErrConnectionClosed = errors.New("rpc: connection closed")

// AlertFunc is notified when a Connection closes because of an error — the
// ops-facing counterpart to the error a caller already sees on its own
// call. Wired to the alerting package's NSQ publisher by whatever
// constructs the Channel; nil means no alerting.
type AlertFunc func(endpoint string, err error)

// Connection owns one TCP socket to a single endpoint and every in-flight
// call issued over it. All state — the pending-call table, the id counter,
// the dial — is only ever touched from the goroutine draining mailbox, so
// none of it needs a lock. CallMethod and the reader goroutine both reach
// into that state only by handing the mailbox a closure, never directly.
//
// A Connection is single-use: the first transport-level failure (dial,
// write, read, or an explicit Close) is terminal. shutdown settles every
// pending call with FAILED, removes the Connection from its Channel, and
// stops the mailbox; the next CallMethod through the Channel gets a fresh
// Connection whose id space restarts at 1.
type Connection struct {
	endpoint string

	mailbox chan func()
	closeCh chan struct{}

	onAlert  AlertFunc
	onRemove func(endpoint string, c *Connection)

	// touched only inside the mailbox goroutine:
	netConn  net.Conn
	nextID   uint64
	pending  map[uint64]*call
	closed   bool
	closeErr error
}

// NewConnection creates a Connection to endpoint ("host:port"). The socket
// is not opened until the first CallMethod. Most callers want a Channel
// instead; a bare Connection never removes itself from anything on close.
func NewConnection(endpoint string, onAlert AlertFunc) *Connection {
	return newConnection(endpoint, onAlert, nil)
}

func newConnection(endpoint string, onAlert AlertFunc, onRemove func(string, *Connection)) *Connection {
	c := &Connection{
		endpoint: endpoint,
		mailbox:  make(chan func()),
		closeCh:  make(chan struct{}),
		onAlert:  onAlert,
		onRemove: onRemove,
		pending:  make(map[uint64]*call),
	}
	go c.run()
	return c
}

func (c *Connection) run() {
	for {
		select {
		case fn := <-c.mailbox:
			fn()
		case <-c.closeCh:
			return
		}
	}
}

// submit hands fn to the mailbox goroutine. Reports false without running
// fn if the connection is already closed.
func (c *Connection) submit(fn func()) bool {
	select {
	case c.mailbox <- fn:
		return true
	case <-c.closeCh:
		return false
	}
}

// CallMethod issues name (a "service.method" string) with request, blocking
// until response is filled, controller's timeout elapses, or the
// connection fails. The controller carries the outcome:
// Failed()/ErrorText()/ErrorCode() reflect the first problem encountered,
// separate from the returned error.
func (c *Connection) CallMethod(controller *Controller, name string, request, response Message) error {
	ct := newCall(0, name, request, response, controller)

	if !c.submit(func() { c.startCall(ct, controller.Timeout()) }) {
		controller.SetFailedCode(ErrConnectionClosed.Error(), ERROR)
		return ErrConnectionClosed
	}

	<-ct.done

	if ct.err != nil {
		// startCall/deliver/timeoutCall/shutdown set the controller's
		// failure code precisely (UNFOUND/FAILED/TIMEDOUT/ERROR) at the
		// point they settle a call; this fallback only catches a call
		// settled before the connection could even look at it.
		if !controller.Failed() {
			controller.SetFailedCode(ct.err.Error(), ERROR)
		}
		return ct.err
	}
	return nil
}

var errTimedOut = errors.New("rpc: call timed out")

// startCall runs on the mailbox goroutine: connects lazily, assigns an id,
// registers the call, arms its timer, and writes the request frame.
func (c *Connection) startCall(ct *call, timeoutMillis uint32) {
	if c.closed {
		err := fmt.Errorf("%w: %v", ErrConnectionClosed, c.closeErr)
		ct.controller.SetFailedCode(err.Error(), FAILED)
		ct.settle(err)
		return
	}

	if c.netConn == nil {
		conn, err := net.DialTimeout("tcp", c.endpoint, time.Duration(timeoutMillis)*time.Millisecond)
		if err != nil {
			err = fmt.Errorf("rpc: dial %s: %w", c.endpoint, err)
			// A deadline expiring mid-connect is the call's timeout
			// firing, not the network actively refusing the connect; the
			// two settle with different codes. Both close the connection.
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				ct.controller.SetFailedCode(err.Error(), TIMEDOUT)
			} else {
				ct.controller.SetFailedCode(err.Error(), FAILED)
			}
			ct.settle(err)
			c.shutdown(err)
			return
		}
		c.netConn = conn
		go c.readLoop(conn)
	}

	c.nextID++
	ct.id = c.nextID

	// A request the caller's own message type can't serialize fails only
	// that call; the socket is untouched and stays usable.
	frame, err := encodeRequestFrame(ct)
	if err != nil {
		ct.controller.SetFailedCode(err.Error(), ERROR)
		ct.settle(err)
		return
	}

	// The call is visible in the table before the first byte goes out, so
	// a response can never beat its own registration.
	c.pending[ct.id] = ct

	if timeoutMillis > 0 {
		ct.timer = time.AfterFunc(time.Duration(timeoutMillis)*time.Millisecond, func() {
			c.submit(func() { c.timeoutCall(ct.id) })
		})
	}

	if _, err := c.netConn.Write(frame); err != nil {
		c.shutdown(fmt.Errorf("rpc: write to %s: %w", c.endpoint, err))
	}
}

func encodeRequestFrame(ct *call) ([]byte, error) {
	argLen := ct.request.ByteSize()
	rpcLen := requestPreambleLen(ct.name)

	frame := make([]byte, headerSize+rpcLen+argLen)
	putHeader(frame, uint32(rpcLen), uint32(argLen))
	encodeRequestPreamble(frame[headerSize:], ct.id, ct.name)
	if argLen > 0 {
		if err := ct.request.SerializeInto(frame[headerSize+rpcLen:]); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

func (c *Connection) timeoutCall(id uint64) {
	ct, ok := c.pending[id]
	if !ok {
		return
	}
	delete(c.pending, id)
	ct.controller.SetFailedCode(errTimedOut.Error(), TIMEDOUT)
	ct.settle(errTimedOut)
}

// readLoop runs on its own goroutine (never the mailbox goroutine, so a
// slow or stalled peer can't block other calls' writes) and hands each
// decoded response back to the mailbox for delivery.
func (c *Connection) readLoop(conn net.Conn) {
	var buf frameBuffer
	header := make([]byte, headerSize)

	for {
		if _, err := readFull(conn, header); err != nil {
			c.submit(func() { c.onReadError(conn, err) })
			return
		}
		rpcLen, argLen := parseHeader(header)
		if int64(rpcLen)+int64(argLen) > maxFrameBody {
			c.submit(func() { c.onReadError(conn, fmt.Errorf("rpc: frame body of %d bytes exceeds limit", int64(rpcLen)+int64(argLen))) })
			return
		}

		body := buf.ensure(int(rpcLen) + int(argLen))
		if _, err := readFull(conn, body); err != nil {
			c.submit(func() { c.onReadError(conn, err) })
			return
		}

		id, status, message, ok := decodeResponsePreamble(body[:rpcLen])
		if !ok {
			c.submit(func() { c.onReadError(conn, fmt.Errorf("rpc: malformed response preamble")) })
			return
		}
		payload := append([]byte(nil), body[rpcLen:rpcLen+uint32(argLen)]...)

		c.submit(func() { c.deliver(id, status, message, payload) })
	}
}

func (c *Connection) deliver(id uint64, status Status, message string, payload []byte) {
	ct, ok := c.pending[id]
	if !ok {
		return // response for a call that already timed out
	}
	delete(c.pending, id)

	if status != SUCCEED {
		ct.controller.SetFailedCode(message, status)
		ct.settle(fmt.Errorf("rpc: %s: %s", status, message))
		return
	}

	if len(payload) > 0 {
		if err := ct.response.ParseFrom(payload); err != nil {
			err = fmt.Errorf("rpc: parse response: %w", err)
			ct.controller.SetFailedCode(err.Error(), ERROR)
			ct.settle(err)
			return
		}
	}
	ct.settle(nil)
}

func (c *Connection) onReadError(conn net.Conn, err error) {
	if c.netConn != conn {
		return // already shut down, stale reader
	}
	c.shutdown(err)
}

// shutdown is the single terminal transition: tears the socket down,
// settles every pending call with FAILED and err's text, removes the
// Connection from its Channel, and stops the mailbox goroutine. Runs on
// the mailbox goroutine; every path that kills a Connection funnels here.
func (c *Connection) shutdown(err error) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeErr = err

	if c.netConn != nil {
		c.netConn.Close()
		c.netConn = nil
	}
	for id, ct := range c.pending {
		delete(c.pending, id)
		ct.controller.SetFailedCode(err.Error(), FAILED)
		ct.settle(err)
	}
	if c.onRemove != nil {
		c.onRemove(c.endpoint, c)
	}
	if c.onAlert != nil && !errors.Is(err, ErrConnectionClosed) {
		c.onAlert(c.endpoint, err)
	}
	close(c.closeCh)
}

// Close shuts the connection down: every pending call settles with
// ErrConnectionClosed, the Connection leaves its Channel, and no further
// CallMethod on it will ever dial. Safe to call more than once.
func (c *Connection) Close() error {
	c.submit(func() { c.shutdown(ErrConnectionClosed) })
	<-c.closeCh
	return nil
}

// activeCalls reports how many calls are currently in flight.
func (c *Connection) activeCalls() int {
	done := make(chan int, 1)
	if !c.submit(func() { done <- len(c.pending) }) {
		return 0
	}
	return <-done
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
