// Package resolver turns a logical service name into a concrete "host:port"
// endpoint for rpc.Channel, backed by Consul service discovery. It sits
// above rpc.Channel — Channel itself only ever sees addresses already
// resolved.
package resolver

import (
	"fmt"
	"sync"

	"github.com/hashicorp/consul/api"

	"github.com/phuhao00/urpc/config"
)

// Resolver wraps a Consul client and round-robins across the healthy
// instances of whatever service name it's asked to resolve, so Channel
// never needs to know Consul exists.
type Resolver struct {
	client *api.Client

	mu       sync.Mutex
	counters map[string]uint64 // serviceName -> round-robin cursor
}

// New builds a Resolver from a ConsulConfig. An empty cfg.Addr lets the
// underlying client library fall back to its own default (localhost:8500).
func New(cfg config.ConsulConfig) (*Resolver, error) {
	apiCfg := api.DefaultConfig()
	if cfg.Addr != "" {
		apiCfg.Address = cfg.Addr
	}
	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("resolver: new consul client: %w", err)
	}
	return &Resolver{client: client, counters: make(map[string]uint64)}, nil
}

// Register advertises this process as an instance of name at address:port,
// tagged id.
func (r *Resolver) Register(id, name, address string, port int) error {
	return r.client.Agent().ServiceRegister(&api.AgentServiceRegistration{
		ID:      id,
		Name:    name,
		Address: address,
		Port:    port,
	})
}

// Deregister removes this process's own registration.
func (r *Resolver) Deregister(id string) error {
	return r.client.Agent().ServiceDeregister(id)
}

// Registration is a lifecycle.Component that registers this process with
// Consul on Start and deregisters it on Stop, so any cmd/* built on this
// engine gets the pair for free.
type Registration struct {
	resolver *Resolver
	id       string
	name     string
	address  string
	port     int
}

// NewRegistration builds a Registration for id/name/address/port against
// resolver.
func NewRegistration(r *Resolver, id, name, address string, port int) *Registration {
	return &Registration{resolver: r, id: id, name: name, address: address, port: port}
}

func (reg *Registration) Name() string { return "resolver:" + reg.name }

func (reg *Registration) Start() error {
	return reg.resolver.Register(reg.id, reg.name, reg.address, reg.port)
}

func (reg *Registration) Stop() error {
	return reg.resolver.Deregister(reg.id)
}

// Instance is one healthy endpoint behind a service name.
type Instance struct {
	ID      string
	Address string
	Port    int
}

// Instances returns every healthy instance currently registered under
// name.
func (r *Resolver) Instances(name string) ([]Instance, error) {
	entries, _, err := r.client.Health().Service(name, "", true, nil)
	if err != nil {
		return nil, fmt.Errorf("resolver: query %s: %w", name, err)
	}

	instances := make([]Instance, 0, len(entries))
	for _, entry := range entries {
		if entry.Service == nil {
			continue
		}
		addr := entry.Service.Address
		if addr == "" && entry.Node != nil {
			addr = entry.Node.Address
		}
		instances = append(instances, Instance{
			ID:      entry.Service.ID,
			Address: addr,
			Port:    entry.Service.Port,
		})
	}
	return instances, nil
}

// Resolve picks one healthy instance of name and returns its "host:port"
// endpoint, cycling through instances round-robin across calls so repeat
// traffic spreads across every healthy instance instead of pinning to the
// first one returned.
func (r *Resolver) Resolve(name string) (string, error) {
	instances, err := r.Instances(name)
	if err != nil {
		return "", err
	}
	if len(instances) == 0 {
		return "", fmt.Errorf("resolver: no healthy instances of %q", name)
	}

	r.mu.Lock()
	idx := r.counters[name]
	r.counters[name] = idx + 1
	r.mu.Unlock()

	chosen := instances[idx%uint64(len(instances))]
	return fmt.Sprintf("%s:%d", chosen.Address, chosen.Port), nil
}
