package rpc

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
)

// registry is the server-side name→Service table, keyed by
// ServiceDescriptor.Name. Split out from Server so Session can look
// services up without holding a reference to the whole Server.
type registry struct {
	mu       sync.RWMutex
	services map[string]Service
}

func newRegistry() *registry {
	return &registry{services: make(map[string]Service)}
}

func (r *registry) register(svc Service) bool {
	name := svc.Descriptor().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[name]; exists {
		return false
	}
	r.services[name] = svc
	return true
}

func (r *registry) lookup(name string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

// Server accepts TCP connections and serves each one with a Session,
// dispatching to whatever Services have been registered.
type Server struct {
	registry  *registry
	observers []DispatchObserver

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer builds a Server with no services registered yet. observers are
// notified after every dispatched request, in order; typically the
// accounting and calllog packages' observers.
func NewServer(observers ...DispatchObserver) *Server {
	return &Server{
		registry:  newRegistry(),
		observers: observers,
	}
}

// RegisterService adds svc under its own descriptor's name. Returns false
// if a service is already registered under that name; nothing is ever
// silently overwritten.
func (s *Server) RegisterService(svc Service) bool {
	return s.registry.register(svc)
}

// Listen opens address and serves connections until the listener is
// closed. Blocks the calling goroutine; callers that want it in the
// background invoke it in its own goroutine.
func (s *Server) Listen(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", address, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			// Accept errors don't stop the server: log and keep accepting.
			log.Printf("rpc: accept: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			newSession(conn, s.registry, s.observers).serve()
		}()
	}
}

// Addr returns the listener's bound address, valid once Listen has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener == nil
}

// Close stops accepting new connections and waits for every running
// Session to return. It does not close accepted connections: a Session
// returns only once its peer closes the connection or an I/O error ends it.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	return err
}
