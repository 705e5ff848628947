// Package accounting implements rpc.DispatchObserver on top of Redis,
// incrementing per-method counters on every dispatched request.
package accounting

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/phuhao00/urpc/config"
	"github.com/phuhao00/urpc/rpc"
)

// Recorder is an rpc.DispatchObserver that bumps a Redis hash counter per
// service.method.status on every request a Session finishes.
type Recorder struct {
	client *redis.Client
	prefix string
}

// New builds a Recorder from a RedisConfig, choosing a Sentinel failover
// client when master_name and sentinel_addrs are set, a single-node client
// otherwise.
func New(cfg config.RedisConfig, keyPrefix string) (*Recorder, error) {
	var client *redis.Client
	switch {
	case cfg.MasterName != "" && len(cfg.SentinelAddrs) > 0:
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.SentinelAddrs,
			Password:      cfg.Password,
			DB:            cfg.DB,
		})
	case cfg.Addr != "":
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	default:
		return nil, fmt.Errorf("accounting: redis configuration is insufficient: need addr or master_name+sentinel_addrs")
	}

	return &Recorder{client: client, prefix: keyPrefix}, nil
}

// OnDispatch implements rpc.DispatchObserver. It fires the Redis call on
// its own short-lived goroutine so a slow or unreachable Redis never adds
// latency to the Session that just finished writing its response.
func (r *Recorder) OnDispatch(event rpc.DispatchEvent) {
	key := fmt.Sprintf("%s:%s.%s", r.prefix, event.Service, event.Method)
	field := event.Status.String()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.client.HIncrBy(ctx, key, field, 1).Err(); err != nil {
			// Counters are best-effort; a miss here never affects the call
			// the caller already got a response for.
			return
		}
	}()
}

// Name, Start and Stop let Recorder double as a lifecycle.Component; the
// connection is already live once New returns, so Start is a no-op.
func (r *Recorder) Name() string { return "accounting" }
func (r *Recorder) Start() error { return nil }
func (r *Recorder) Stop() error  { return r.Close() }

// Close releases the underlying Redis connection pool.
func (r *Recorder) Close() error {
	return r.client.Close()
}
