// Command arithserver serves the example Arith service on top of
// rpc.Server: load config, bring up the backing components, register with
// Consul, serve until a signal arrives, tear everything down in reverse
// order.
package main

import (
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"

	"github.com/phuhao00/urpc/accounting"
	"github.com/phuhao00/urpc/arith"
	"github.com/phuhao00/urpc/calllog"
	"github.com/phuhao00/urpc/config"
	"github.com/phuhao00/urpc/lifecycle"
	"github.com/phuhao00/urpc/resolver"
	"github.com/phuhao00/urpc/rpc"
)

func main() {
	configPath := flag.String("config", "config/arithserver.yaml", "path to server config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("arithserver: %v", err)
	}

	mgr := lifecycle.NewManager()
	var observers []rpc.DispatchObserver

	if cfg.Redis.Addr != "" || cfg.Redis.MasterName != "" {
		rec, err := accounting.New(cfg.Redis, "arithserver")
		if err != nil {
			log.Fatalf("arithserver: accounting: %v", err)
		}
		mgr.Add(rec)
		observers = append(observers, rec)
	}

	if cfg.Mongo.URI != "" || len(cfg.Mongo.Hosts) > 0 {
		logger, err := calllog.New(cfg.Mongo)
		if err != nil {
			log.Fatalf("arithserver: calllog: %v", err)
		}
		mgr.Add(logger)
		observers = append(observers, logger)
	}

	srv := rpc.NewServer(observers...)
	if !srv.RegisterService(arith.Service{}) {
		log.Fatalf("arithserver: service %q already registered", arith.ServiceName)
	}

	if cfg.Consul.Addr != "" && cfg.ServiceName != "" {
		res, err := resolver.New(cfg.Consul)
		if err != nil {
			log.Fatalf("arithserver: resolver: %v", err)
		}
		id := cfg.ServiceID
		if id == "" {
			id = cfg.ServiceName + "-" + uuid.NewString()
		}
		host, port := splitListen(cfg.Listen)
		mgr.Add(resolver.NewRegistration(res, id, cfg.ServiceName, host, port))
	}

	if err := mgr.Start(); err != nil {
		log.Fatalf("arithserver: %v", err)
	}
	defer func() {
		if err := mgr.Stop(); err != nil {
			log.Printf("arithserver: shutdown: %v", err)
		}
	}()

	go func() {
		if err := srv.Listen(cfg.Listen); err != nil {
			log.Printf("arithserver: listen: %v", err)
		}
	}()
	log.Printf("arithserver: listening on %s", cfg.Listen)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("arithserver: shutting down")
	if err := srv.Close(); err != nil {
		log.Printf("arithserver: close: %v", err)
	}
}

// splitListen turns a Listen address like ":9000" or "127.0.0.1:9000" into
// the host/port pair Resolver.Register wants. An empty host (the common
// ":9000" form) becomes "127.0.0.1" since Consul needs something routable,
// not a bind wildcard.
func splitListen(listen string) (host string, port int) {
	h, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return "127.0.0.1", 0
	}
	if h == "" {
		h = "127.0.0.1"
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return h, 0
	}
	return h, p
}
