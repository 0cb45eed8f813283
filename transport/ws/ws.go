// Package ws adapts a gorilla/websocket connection into a byte stream:
// framing.Framer (and so conn.Connection) can run over a websocket
// transport exactly as it runs over a TCP socket, with no change to the
// dispatch engine.
//
// gorilla/websocket is message-oriented and context-deadline-driven, while
// framing.Framer wants a plain io.ReadWriteCloser with the net.Conn-style
// SetReadDeadline/SetWriteDeadline pair. Stream bridges the two: each Read
// call drains a buffered inbound text message (fetching the next one with
// ReadMessage as needed), and each Write call sends its argument as exactly
// one text message. Since every framing.Framer.WriteLine call writes its
// whole newline-terminated frame in a single Write, each websocket message
// carries exactly one bjsonrpc frame.
package ws

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// UpgraderOptions configures the server side of a handshake.
type UpgraderOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// Upgrade promotes an inbound HTTP request to a websocket stream.
func Upgrade(w http.ResponseWriter, r *http.Request, opts UpgraderOptions) (*Stream, error) {
	up := websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     opts.CheckOrigin,
	}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Stream{c: c}, nil
}

// DialOptions configures the client side of a handshake.
type DialOptions struct {
	Header http.Header
}

// Dial opens a websocket stream to urlStr.
func Dial(ctx context.Context, urlStr string, opts DialOptions) (*Stream, *http.Response, error) {
	d := websocket.Dialer{}
	if deadline, ok := ctx.Deadline(); ok {
		d.HandshakeTimeout = time.Until(deadline)
	}
	c, resp, err := d.DialContext(ctx, urlStr, opts.Header)
	if err != nil {
		return nil, resp, err
	}
	return &Stream{c: c}, resp, nil
}

// Stream wraps a *websocket.Conn as an io.ReadWriteCloser with deadlines,
// one bjsonrpc frame per websocket text message.
type Stream struct {
	c    *websocket.Conn
	rest bytes.Buffer // unread tail of the current inbound message
}

// SetReadLimit caps the size of a single inbound message.
func (s *Stream) SetReadLimit(n int64) { s.c.SetReadLimit(n) }

// Read implements io.Reader, pulling a new websocket message once the
// buffered tail of the previous one is exhausted.
func (s *Stream) Read(p []byte) (int, error) {
	if s.rest.Len() == 0 {
		mt, data, err := s.c.ReadMessage()
		if err != nil {
			return 0, err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			return 0, fmt.Errorf("bjsonrpc/transport/ws: unexpected message type %d", mt)
		}
		s.rest.Write(data)
	}
	return s.rest.Read(p)
}

// Write implements io.Writer, sending p as one websocket text message. A
// framing.Framer never calls Write with a partial frame, so every call here
// is exactly one bjsonrpc line.
func (s *Stream) Write(p []byte) (int, error) {
	if err := s.c.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetReadDeadline satisfies framing's deadliner interface.
func (s *Stream) SetReadDeadline(t time.Time) error { return s.c.SetReadDeadline(t) }

// SetWriteDeadline satisfies framing's deadliner interface.
func (s *Stream) SetWriteDeadline(t time.Time) error { return s.c.SetWriteDeadline(t) }

// Close closes the underlying websocket connection.
func (s *Stream) Close() error { return s.c.Close() }

// CloseWithStatus sends a close control frame carrying code/text before
// closing the connection, for a graceful shutdown instead of an abrupt one.
func (s *Stream) CloseWithStatus(code int, text string) error {
	_ = s.c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(2*time.Second))
	return s.c.Close()
}

// Underlying exposes the wrapped *websocket.Conn for callers that need
// gorilla-specific behavior (ping/pong handlers, compression settings).
func (s *Stream) Underlying() *websocket.Conn { return s.c }
