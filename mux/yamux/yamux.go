// Package yamux multiplexes many bjsonrpc connections over one underlying
// stream socket: each yamux-multiplexed substream becomes one
// conn.Connection, so a single TCP connection can carry many independent
// peer-to-peer sessions.
package yamux

import (
	"net"

	"github.com/hashicorp/yamux"

	"github.com/floegence/bjsonrpc/conn"
	"github.com/floegence/bjsonrpc/handler"
)

// NewClientSession opens a yamux session as the dialing side of c.
func NewClientSession(c net.Conn, cfg *yamux.Config) (*yamux.Session, error) {
	if cfg == nil {
		cfg = yamux.DefaultConfig()
	}
	return yamux.Client(c, cfg)
}

// NewServerSession opens a yamux session as the accepting side of c.
func NewServerSession(c net.Conn, cfg *yamux.Config) (*yamux.Session, error) {
	if cfg == nil {
		cfg = yamux.DefaultConfig()
	}
	return yamux.Server(c, cfg)
}

// Open opens a new substream on sess and wraps it as a bjsonrpc Connection
// dispatching inbound invocations to h. Call Serve on the result to start
// its read loop.
func Open(sess *yamux.Session, h handler.Handler, opts ...conn.Option) (*conn.Connection, error) {
	stream, err := sess.Open()
	if err != nil {
		return nil, err
	}
	return conn.New(stream, h, opts...), nil
}

// Accept blocks for the next incoming substream on sess and wraps it as a
// bjsonrpc Connection dispatching inbound invocations to h.
func Accept(sess *yamux.Session, h handler.Handler, opts ...conn.Option) (*conn.Connection, error) {
	stream, err := sess.Accept()
	if err != nil {
		return nil, err
	}
	return conn.New(stream, h, opts...), nil
}
