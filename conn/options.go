package conn

import (
	"log"

	"github.com/floegence/bjsonrpc/metrics"
)

// Option configures a Connection at construction time.
type Option func(*Connection)

// WithConfig overrides the connection's initial Config.
func WithConfig(cfg Config) Option {
	return func(c *Connection) { c.cfg.Store(&cfg) }
}

// WithMetrics routes connection events to obs instead of the default
// no-op observer.
func WithMetrics(obs metrics.Observer) Option {
	return func(c *Connection) { c.metrics.Set(obs) }
}

// WithLogger overrides the connection's logger, used for diagnostics that
// have no caller left to report back to: malformed frames, unhandled
// handler errors, a failed best-effort __delete__ notification.
func WithLogger(l *log.Logger) Option {
	return func(c *Connection) {
		if l != nil {
			c.logger = l
		}
	}
}
