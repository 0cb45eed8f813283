// Package conn implements the bidirectional connection engine: one
// Connection owns a single stream transport, dispatches inbound
// invocations to a local handler, and issues outbound invocations against
// the peer through its Root and RemoteObject proxies.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/floegence/bjsonrpc/codec"
	"github.com/floegence/bjsonrpc/framing"
	"github.com/floegence/bjsonrpc/handler"
	"github.com/floegence/bjsonrpc/metrics"
	"github.com/floegence/bjsonrpc/refs"
	"github.com/floegence/bjsonrpc/registry"
	"github.com/floegence/bjsonrpc/reqtable"
	"github.com/floegence/bjsonrpc/rpcerr"
)

type lifecycle int32

const (
	lifecycleOpen lifecycle = iota
	lifecycleClosed
)

// Connection is one end of a peer-to-peer bjsonrpc stream. Both ends run
// the identical type: there is no separate client/server split, since
// either side may invoke the other at any time.
type Connection struct {
	id       refs.HostID
	framer   *framing.Framer
	handler  handler.Handler
	registry *registry.Registry
	reqs     *reqtable.Table
	metrics  *metrics.Atomic
	logger   *log.Logger

	cfg atomic.Pointer[Config]

	// writeMu serializes everything that touches the wire and the request
	// ID counter together, so the ID a call is assigned always matches the
	// order its frame lands on the socket.
	writeMu    sync.Mutex
	requestSeq int64

	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error

	root *Proxy
}

// New constructs a Connection over rwc, dispatching inbound invocations to
// h (use handler.Null to accept none). The connection does not start
// reading until Serve is called.
func New(rwc io.ReadWriteCloser, h handler.Handler, opts ...Option) *Connection {
	if h == nil {
		h = handler.Null
	}
	c := &Connection{
		id:       refs.NewHostID(),
		framer:   framing.New(rwc),
		handler:  h,
		registry: registry.New(),
		reqs:     reqtable.New(),
		metrics:  metrics.NewAtomic(),
		logger:   log.New(os.Stderr, "", log.LstdFlags),
	}
	cfg := DefaultConfig()
	c.cfg.Store(&cfg)
	c.root = &Proxy{conn: c, object: ""}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID is this connection's process-unique host identity.
func (c *Connection) ID() refs.HostID { return c.id }

// Root is the proxy through which the peer's top-level handler is called.
func (c *Connection) Root() *Proxy { return c.root }

// Config returns the connection's current configuration.
func (c *Connection) Config() Config { return *c.cfg.Load() }

// Reconfigure atomically replaces the connection's configuration. Safe to
// call concurrently with Serve and any proxy call.
func (c *Connection) Reconfigure(cfg Config) { c.cfg.Store(&cfg) }

func (c *Connection) logf(format string, args ...any) {
	c.logger.Printf(format, args...)
}

// Serve runs the read/dispatch loop until the peer closes the stream, a
// transport error occurs, or Close is called. It blocks the calling
// goroutine, so callers typically run it as `go c.Serve()`. The returned
// error is nil only when Close was called locally; any other return is the
// transport failure that ended the loop.
func (c *Connection) Serve() error {
	for c.state.Load() != int32(lifecycleClosed) {
		line, err := c.framer.ReadLine(c.readTimeout())
		if err != nil {
			c.metrics.FrameError(metrics.FrameRead)
			c.shutdown(err)
			break
		}
		if line == nil {
			continue // bounded wait elapsed with nothing buffered; keep serving
		}
		c.dispatchFrame(line)
	}
	var rerr *rpcerr.Error
	if errors.As(c.closeErr, &rerr) && rerr.Code == rpcerr.CodeClosed {
		return nil // closed locally
	}
	return c.closeErr
}

// DispatchUntilEmpty drains any frames already buffered in the framer
// without blocking on the socket for more, dispatching each in turn. It
// returns the number of frames dispatched. Useful for tests and for
// embedding the connection's dispatch loop into a caller-driven event loop
// instead of a dedicated goroutine.
func (c *Connection) DispatchUntilEmpty() (int, error) {
	n := 0
	for c.framer.HasBufferedLine() {
		zero := time.Duration(0)
		line, err := c.framer.ReadLine(&zero)
		if err != nil {
			c.metrics.FrameError(metrics.FrameRead)
			c.shutdown(err)
			return n, c.closeErr
		}
		if line == nil {
			break
		}
		c.dispatchFrame(line)
		n++
	}
	return n, nil
}

func (c *Connection) readTimeout() *time.Duration {
	return c.Config().clampRead(nil)
}

func (c *Connection) writeTimeout() *time.Duration {
	return c.Config().clampWrite(nil)
}

// Close shuts the connection down: the transport is closed, Serve (if
// running) returns, and every outstanding sync/async call fails with a
// transport error. Close is idempotent.
func (c *Connection) Close() error {
	c.shutdown(rpcerr.Wrap(rpcerr.StageFrame, rpcerr.CodeClosed, errors.New("connection closed locally")))
	return nil
}

func (c *Connection) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(lifecycleClosed))
		c.closeErr = err
		_ = c.framer.Close()
		c.reqs.FailAll(err)
		c.metrics.PendingRequests(0)
	})
}

// writeFrame marshals v and writes it as one frame, under the write lock.
func (c *Connection) writeFrame(v any) error {
	data, err := marshalFrame(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLineLocked(data)
}

// writeLineLocked writes data as a frame; the caller must already hold
// writeMu. Used by the proxy call path, which allocates a request ID,
// inserts it into the request table, and puts the frame on the wire all as
// one critical section, so ids are assigned in the same order frames reach
// the peer.
func (c *Connection) writeLineLocked(data json.RawMessage) error {
	if c.Config().TraceFrames {
		c.logf("bjsonrpc: write frame: %s", data)
	}
	if err := c.framer.WriteLine(data, c.writeTimeout()); err != nil {
		c.metrics.FrameError(metrics.FrameWrite)
		return err
	}
	return nil
}

var _ codec.Host = (*Connection)(nil)

// ResolveObjectReference implements codec.Host.
func (c *Connection) ResolveObjectReference(name string) (any, error) {
	h, err := c.registry.Resolve(name)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// ResolveFunctionReference implements codec.Host.
func (c *Connection) ResolveFunctionReference(name string) (refs.BoundMethod, error) {
	object, method, dotted := codec.SplitDotted(name)
	h := c.handler
	if dotted {
		var err error
		h, err = c.registry.Resolve(object)
		if err != nil {
			return refs.BoundMethod{}, err
		}
	}
	fn, err := h.GetMethod(method)
	if err != nil {
		return refs.BoundMethod{}, rpcerr.Wrap(rpcerr.StageCodec, rpcerr.CodeNoSuchMethod, err)
	}
	return refs.BoundMethod{
		HostID:   c.id,
		WireName: name,
		Call: func(positional []any, keyword map[string]any) (any, error) {
			return fn(handler.Args{Positional: positional, Keyword: keyword})
		},
	}, nil
}

// NewRemoteObject implements codec.Host.
func (c *Connection) NewRemoteObject(name string) any {
	return newRemoteObject(c, name)
}

// RegisterInstance implements codec.Host.
func (c *Connection) RegisterInstance(h handler.Handler) string {
	name, reused := c.registry.RegisterReused(h)
	if !reused {
		c.metrics.ObjectRegistered()
	}
	return name
}

// recordCallMetric classifies the outcome of one outbound sync/async call
// for the metrics observer: a ServerError (or NoSuchMethodError) counts as
// an application-level failure distinct from a transport failure.
func (c *Connection) recordCallMetric(err error, d time.Duration) {
	result := metrics.CallOK
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		result = metrics.CallCanceled
	default:
		if _, ok := serverFacingMessage(err); ok {
			result = metrics.CallServerError
		} else {
			result = metrics.CallTransportErr
		}
	}
	c.metrics.Call(result, d)
}
