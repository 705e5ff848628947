// Package config loads the runtime's YAML configuration: where to listen,
// and how to reach the backing services the accounting/calllog/alerting/
// resolver packages wire up.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type RedisConfig struct {
	Addr          string   `yaml:"addr"`
	Password      string   `yaml:"password,omitempty"`
	DB            int      `yaml:"db,omitempty"`
	MasterName    string   `yaml:"master_name,omitempty"`
	SentinelAddrs []string `yaml:"sentinel_addrs,omitempty"`
}

type MongoConfig struct {
	URI              string   `yaml:"uri"`
	Hosts            []string `yaml:"hosts,omitempty"`
	ReplicaSet       string   `yaml:"replica_set,omitempty"`
	Username         string   `yaml:"username,omitempty"`
	Password         string   `yaml:"password,omitempty"`
	AuthSource       string   `yaml:"auth_source,omitempty"`
	Database         string   `yaml:"database"`
	Collection       string   `yaml:"collection"`
	ConnectTimeoutMS int64    `yaml:"connect_timeout_ms,omitempty"`
	MaxPoolSize      uint64   `yaml:"max_pool_size,omitempty"`
}

type ConsulConfig struct {
	Addr string `yaml:"addr"`
}

type NSQConfig struct {
	NSQDAddr                string   `yaml:"nsqd_addr,omitempty"`
	NSQDAddresses           []string `yaml:"nsqd_addresses,omitempty"`
	NSQLookupdHTTPAddresses []string `yaml:"nsqlookupd_http_addresses,omitempty"`
	Topic                   string   `yaml:"topic,omitempty"`
	Channel                 string   `yaml:"channel,omitempty"`
}

// ServerConfig is the root document a service built on this engine loads at
// startup.
type ServerConfig struct {
	Listen string `yaml:"listen"` // address Server.Listen binds, e.g. ":9000"

	// ServiceName/ServiceID are what this process registers itself as
	// with Consul, if Resolver.Register is used.
	ServiceName string `yaml:"service_name"`
	ServiceID   string `yaml:"service_id"`

	Redis  RedisConfig  `yaml:"redis"`
	Mongo  MongoConfig  `yaml:"mongo"`
	Consul ConsulConfig `yaml:"consul"`
	NSQ    NSQConfig    `yaml:"nsq"`
}

// Load reads and parses path into a ServerConfig.
func Load(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}
