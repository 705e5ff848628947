// Package calllog implements rpc.DispatchObserver on top of MongoDB,
// writing one document per completed call — an audit trail alongside the
// dispatch counters in accounting.
package calllog

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/phuhao00/urpc/config"
	"github.com/phuhao00/urpc/rpc"
)

// Entry is the document written per dispatched call.
type Entry struct {
	Service    string    `bson:"service"`
	Method     string    `bson:"method"`
	Status     string    `bson:"status"`
	DurationMS int64     `bson:"duration_ms"`
	Error      string    `bson:"error,omitempty"`
	At         time.Time `bson:"at"`
}

// Logger is an rpc.DispatchObserver that inserts an Entry per call into a
// fixed "call_log" collection.
type Logger struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func New(cfg config.MongoConfig) (*Logger, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOpts := options.Client()
	if cfg.URI != "" {
		clientOpts.ApplyURI(cfg.URI)
	} else if len(cfg.Hosts) > 0 {
		clientOpts.SetHosts(cfg.Hosts)
	}
	if cfg.ReplicaSet != "" {
		clientOpts.SetReplicaSet(cfg.ReplicaSet)
	}
	if cfg.Username != "" && cfg.Password != "" {
		clientOpts.SetAuth(options.Credential{
			AuthSource: cfg.AuthSource,
			Username:   cfg.Username,
			Password:   cfg.Password,
		})
	}
	if cfg.ConnectTimeoutMS > 0 {
		clientOpts.SetConnectTimeout(time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond)
	}
	if cfg.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, err
	}

	collection := client.Database(cfg.Database).Collection("call_log")
	return &Logger{client: client, collection: collection}, nil
}

// OnDispatch implements rpc.DispatchObserver, inserting asynchronously so
// Mongo latency never lands on the request path.
func (l *Logger) OnDispatch(event rpc.DispatchEvent) {
	entry := Entry{
		Service:    event.Service,
		Method:     event.Method,
		Status:     event.Status.String(),
		DurationMS: event.Duration.Milliseconds(),
		At:         time.Now(),
	}
	if event.Err != nil {
		entry.Error = event.Err.Error()
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = l.collection.InsertOne(ctx, entry)
	}()
}

func (l *Logger) Close(ctx context.Context) error {
	return l.client.Disconnect(ctx)
}

// Name, Start and Stop let Logger double as a lifecycle.Component.
func (l *Logger) Name() string { return "calllog" }
func (l *Logger) Start() error { return nil }
func (l *Logger) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.Close(ctx)
}
