// Command arithclient exercises an arithserver over rpc.Channel: issues
// Add/Sub/Mul/Div and prints each result, including the divide-by-zero
// failure case.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"

	"github.com/phuhao00/urpc/alerting"
	"github.com/phuhao00/urpc/arith"
	"github.com/phuhao00/urpc/config"
	"github.com/phuhao00/urpc/rpc"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9000", "arithserver address")
	timeoutMS := flag.Uint("timeout-ms", 2000, "per-call timeout in milliseconds")
	configPath := flag.String("config", "", "optional path to a config with an nsq section for connection-failure alerts")
	flag.Parse()

	host, port, err := net.SplitHostPort(*addr)
	if err != nil {
		log.Fatalf("arithclient: %v", err)
	}

	var onAlert rpc.AlertFunc
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("arithclient: %v", err)
		}
		if cfg.NSQ.NSQDAddr != "" || len(cfg.NSQ.NSQDAddresses) > 0 {
			pub, err := alerting.New(cfg.NSQ)
			if err != nil {
				log.Fatalf("arithclient: alerting: %v", err)
			}
			defer pub.Close()
			onAlert = pub.AlertFunc()
		}
	}

	ch := rpc.NewChannel(onAlert)
	defer ch.Close()

	calls := []struct {
		method string
		a, b   int64
	}{
		{"Add", 4, 2},
		{"Sub", 4, 2},
		{"Mul", 4, 2},
		{"Div", 4, 2},
		{"Div", 4, 0},
	}

	for _, c := range calls {
		ctrl := rpc.NewController(host, port, uint32(*timeoutMS))
		req := &arith.Request{A: c.a, B: c.b}
		res := &arith.Result{}

		err := ch.CallMethod(ctrl, arith.ServiceName+"."+c.method, req, res)
		if err != nil {
			fmt.Printf("%s(%d, %d) failed: %v\n", c.method, c.a, c.b, err)
			continue
		}
		fmt.Printf("%s(%d, %d) = %d\n", c.method, c.a, c.b, res.Value)
	}
}
