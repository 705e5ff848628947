package rpc

import "sync"

// Channel multiplexes Connections by endpoint ("host:port"), handing the
// same Connection back to every caller that targets the same address and
// lazily creating one the first time an address is seen. This is the
// client's single entry point: callers never construct a Connection
// themselves. Service discovery (picking which endpoint to resolve a
// logical service name to) is explicitly one layer above Channel — see the
// resolver package — Channel only ever sees concrete addresses.
type Channel struct {
	mu      sync.Mutex
	conns   map[string]*Connection
	onAlert AlertFunc
}

// NewChannel builds an empty Channel. onAlert, if non-nil, is passed to
// every Connection it creates.
func NewChannel(onAlert AlertFunc) *Channel {
	return &Channel{
		conns:   make(map[string]*Connection),
		onAlert: onAlert,
	}
}

// Get returns the Connection for endpoint, creating it if this is the
// first call for that address or the previous Connection has died and
// removed itself. A fresh Connection's id space restarts at 1.
func (ch *Channel) Get(endpoint string) *Connection {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if conn, ok := ch.conns[endpoint]; ok {
		return conn
	}
	conn := newConnection(endpoint, ch.onAlert, ch.forget)
	ch.conns[endpoint] = conn
	return conn
}

// forget drops conn from the map if it is still the registered Connection
// for its endpoint. Runs on the dying Connection's own mailbox goroutine
// as part of its shutdown sequence; identity-checked so a replacement
// created in the meantime is left alone.
func (ch *Channel) forget(endpoint string, conn *Connection) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.conns[endpoint] == conn {
		delete(ch.conns, endpoint)
	}
}

// contains reports whether an endpoint currently has a live Connection.
func (ch *Channel) contains(endpoint string) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	_, ok := ch.conns[endpoint]
	return ok
}

// CallMethod resolves controller's endpoint to a Connection and issues the
// call on it — the convenience path most callers use instead of Get
// followed by Connection.CallMethod.
func (ch *Channel) CallMethod(controller *Controller, name string, request, response Message) error {
	conn := ch.Get(controller.Endpoint())
	return conn.CallMethod(controller, name, request, response)
}

// Remove closes and forgets the Connection for endpoint, if one exists.
// A Connection that dies on its own already removes itself; this is for a
// caller that wants to retire a healthy endpoint.
func (ch *Channel) Remove(endpoint string) {
	ch.mu.Lock()
	conn, ok := ch.conns[endpoint]
	if ok {
		delete(ch.conns, endpoint)
	}
	ch.mu.Unlock()

	if ok {
		conn.Close()
	}
}

// Close tears down every Connection the Channel owns.
func (ch *Channel) Close() {
	ch.mu.Lock()
	conns := ch.conns
	ch.conns = make(map[string]*Connection)
	ch.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
