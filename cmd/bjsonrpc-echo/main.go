// Command bjsonrpc-echo serves the echodemo handler over a TCP listener,
// optionally multiplexing many bjsonrpc connections over each accepted
// socket with yamux, or speaking bjsonrpc over a websocket upgrade instead
// of a raw TCP stream.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	hyamux "github.com/hashicorp/yamux"

	"github.com/floegence/bjsonrpc/conn"
	"github.com/floegence/bjsonrpc/internal/echodemo"
	"github.com/floegence/bjsonrpc/metrics/prom"
	"github.com/floegence/bjsonrpc/mux/yamux"
	"github.com/floegence/bjsonrpc/transport/ws"
)

func main() {
	var listen string
	var transport string
	var wsPath string
	var metricsListen string
	var multiplex bool
	flag.StringVar(&listen, "listen", "127.0.0.1:0", "listen address")
	flag.StringVar(&transport, "transport", "tcp", "transport: tcp or ws")
	flag.StringVar(&wsPath, "ws-path", "/bjsonrpc", "websocket upgrade path (transport=ws only)")
	flag.StringVar(&metricsListen, "metrics-listen", "", "address to serve Prometheus metrics on (empty disables)")
	flag.BoolVar(&multiplex, "multiplex", false, "multiplex many connections per socket with yamux (transport=tcp only)")
	flag.Parse()

	reg := prom.NewRegistry()
	observer := prom.New(reg)

	if metricsListen != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", prom.Handler(reg))
			if err := http.ListenAndServe(metricsListen, mux); err != nil {
				log.Printf("bjsonrpc-echo: metrics server exited: %v", err)
			}
		}()
	}

	opts := []conn.Option{conn.WithMetrics(observer)}

	var ready map[string]string
	switch transport {
	case "tcp":
		ln, err := net.Listen("tcp", listen)
		if err != nil {
			log.Fatal(err)
		}
		ready = map[string]string{"listen": ln.Addr().String(), "transport": "tcp"}
		if multiplex {
			go serveYamuxListener(ln, opts)
		} else {
			go serveTCPListener(ln, opts)
		}
	case "ws":
		mux := http.NewServeMux()
		mux.HandleFunc(wsPath, wsHandler(opts))
		ln, err := net.Listen("tcp", listen)
		if err != nil {
			log.Fatal(err)
		}
		ready = map[string]string{"listen": ln.Addr().String(), "transport": "ws", "ws_path": wsPath}
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				log.Fatal(err)
			}
		}()
	default:
		log.Fatalf("unknown -transport %q, want tcp or ws", transport)
	}

	_ = json.NewEncoder(os.Stdout).Encode(ready)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

func serveTCPListener(ln net.Listener, opts []conn.Option) {
	for {
		c, err := ln.Accept()
		if err != nil {
			log.Printf("bjsonrpc-echo: accept failed: %v", err)
			return
		}
		go func() {
			connection := conn.New(c, echodemo.New(), opts...)
			if err := connection.Serve(); err != nil {
				log.Printf("bjsonrpc-echo: connection ended: %v", err)
			}
		}()
	}
}

func serveYamuxListener(ln net.Listener, opts []conn.Option) {
	for {
		c, err := ln.Accept()
		if err != nil {
			log.Printf("bjsonrpc-echo: accept failed: %v", err)
			return
		}
		go serveYamuxSession(c, opts)
	}
}

func serveYamuxSession(c net.Conn, opts []conn.Option) {
	sess, err := yamux.NewServerSession(c, hyamux.DefaultConfig())
	if err != nil {
		log.Printf("bjsonrpc-echo: yamux session setup failed: %v", err)
		_ = c.Close()
		return
	}
	defer sess.Close()
	for {
		connection, err := yamux.Accept(sess, echodemo.New(), opts...)
		if err != nil {
			return
		}
		go func() {
			if err := connection.Serve(); err != nil {
				log.Printf("bjsonrpc-echo: multiplexed connection ended: %v", err)
			}
		}()
	}
}

func wsHandler(opts []conn.Option) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stream, err := ws.Upgrade(w, r, ws.UpgraderOptions{})
		if err != nil {
			log.Printf("bjsonrpc-echo: websocket upgrade failed: %v", err)
			return
		}
		connection := conn.New(stream, echodemo.New(), opts...)
		if err := connection.Serve(); err != nil {
			log.Printf("bjsonrpc-echo: websocket connection ended: %v", err)
		}
	}
}
