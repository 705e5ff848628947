// Package alerting publishes an ops-facing notification to NSQ whenever a
// client Connection closes because of an error — distinct from the error
// the caller whose call failed already sees, this is for whoever is
// watching the fleet.
package alerting

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/phuhao00/urpc/config"
	"github.com/phuhao00/urpc/rpc"
)

// Alert is the message body published to NSQ.
type Alert struct {
	Endpoint string    `json:"endpoint"`
	Error    string    `json:"error"`
	At       time.Time `json:"at"`
}

// Publisher wraps an NSQ producer and exposes an rpc.AlertFunc to hand to
// rpc.NewConnection/rpc.NewChannel. New tries each configured nsqd address
// in order and keeps the first producer that connects; nothing in this
// engine consumes alerts back, so there is no consumer side.
type Publisher struct {
	producer *nsq.Producer
	topic    string
}

func New(cfg config.NSQConfig) (*Publisher, error) {
	nsqCfg := nsq.NewConfig()

	if len(cfg.NSQDAddresses) > 0 {
		var lastErr error
		for _, addr := range cfg.NSQDAddresses {
			p, err := nsq.NewProducer(addr, nsqCfg)
			if err == nil {
				return &Publisher{producer: p, topic: cfg.Topic}, nil
			}
			log.Printf("alerting: failed to connect to %s: %v", addr, err)
			lastErr = err
		}
		return nil, fmt.Errorf("alerting: no reachable nsqd in nsqd_addresses: %w", lastErr)
	}

	if cfg.NSQDAddr != "" {
		p, err := nsq.NewProducer(cfg.NSQDAddr, nsqCfg)
		if err != nil {
			return nil, fmt.Errorf("alerting: connect to %s: %w", cfg.NSQDAddr, err)
		}
		return &Publisher{producer: p, topic: cfg.Topic}, nil
	}

	return nil, fmt.Errorf("alerting: no nsqd address configured (nsqd_addr or nsqd_addresses)")
}

// Alert implements rpc.AlertFunc.
func (p *Publisher) Alert(endpoint string, err error) {
	body, marshalErr := json.Marshal(Alert{Endpoint: endpoint, Error: err.Error(), At: time.Now()})
	if marshalErr != nil {
		log.Printf("alerting: marshal alert for %s: %v", endpoint, marshalErr)
		return
	}
	if pubErr := p.producer.Publish(p.topic, body); pubErr != nil {
		log.Printf("alerting: publish alert for %s: %v", endpoint, pubErr)
	}
}

// AlertFunc adapts Alert to rpc.AlertFunc's signature without forcing a
// direct import of this package's exact method value style at call sites.
func (p *Publisher) AlertFunc() rpc.AlertFunc {
	return p.Alert
}

func (p *Publisher) Close() {
	p.producer.Stop()
}

// Name, Start and Stop let Publisher double as a lifecycle.Component.
func (p *Publisher) Name() string { return "alerting" }
func (p *Publisher) Start() error { return nil }
func (p *Publisher) Stop() error  { p.Close(); return nil }
