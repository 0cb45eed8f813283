// Package framing implements newline-delimited frame reading and writing on
// top of a stream socket, with per-operation timeouts and partial-read/
// partial-write buffering.
package framing

import (
	"bytes"
	"io"
	"net"
	"time"

	"github.com/floegence/bjsonrpc/rpcerr"
)

// readChunkSize mirrors the original protocol's suggested recv() size.
const readChunkSize = 2048

// defaultBlockingTimeout is substituted when a caller asks for a
// non-blocking read (timeout == 0) but the underlying socket error
// indicates the read would otherwise need to block (EAGAIN/EWOULDBLOCK).
const defaultBlockingTimeout = 5 * time.Second

// deadliner is satisfied by net.Conn and every other realistic transport
// (TCP, Unix, the ws and yamux adapters in this module). Frames on a
// transport that doesn't support deadlines (timeout is then advisory only).
type deadliner interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// Framer reads and writes newline-delimited frames on rwc.
type Framer struct {
	rwc io.ReadWriteCloser
	dl  deadliner // nil if rwc doesn't support deadlines

	in  bytes.Buffer // inbound bytes not yet consumed as a full frame
	out bytes.Buffer // outbound bytes not yet fully written (diagnostics)
}

// New wraps rwc. If rwc also implements the net.Conn deadline methods,
// per-call timeouts are enforced; otherwise timeouts are best-effort no-ops.
func New(rwc io.ReadWriteCloser) *Framer {
	f := &Framer{rwc: rwc}
	if dl, ok := rwc.(deadliner); ok {
		f.dl = dl
	}
	return f
}

// PendingWriteBytes returns the number of bytes left unwritten from the most
// recent WriteLine call that terminated early (a zero-byte Write), for
// diagnostics.
func (f *Framer) PendingWriteBytes() int { return f.out.Len() }

func (f *Framer) setDeadline(op string, timeout *time.Duration) {
	if f.dl == nil {
		return
	}
	// nil clears any earlier deadline (block indefinitely); zero sets a
	// deadline that has already passed, so the operation does not block.
	var t time.Time
	if timeout != nil {
		t = time.Now().Add(*timeout)
	}
	if op == "read" {
		_ = f.dl.SetReadDeadline(t)
	} else {
		_ = f.dl.SetWriteDeadline(t)
	}
}

// ReadLine reads one newline-terminated frame, blocking according to
// timeout: nil blocks indefinitely, 0 is non-blocking (but is promoted to
// defaultBlockingTimeout and retried once if the transport signals it would
// otherwise block), and a positive value bounds the wait.
//
// Returns a CodeEOF error on orderly peer shutdown with no newline pending,
// and a CodeTransport error on any other terminal failure (reset, closed
// socket). A bounded timeout that simply elapses with no full frame
// buffered returns (nil, nil): the caller treats that as "no progress"
// without tearing down the connection.
func (f *Framer) ReadLine(timeout *time.Duration) ([]byte, error) {
	if idx := bytes.IndexByte(f.in.Bytes(), '\n'); idx >= 0 {
		return f.takeLine(idx), nil
	}

	buf := make([]byte, readChunkSize)
	effective := timeout
	retried := false
	for {
		f.setDeadline("read", effective)
		n, err := f.rwc.Read(buf)
		if n > 0 {
			f.in.Write(buf[:n])
			if idx := bytes.IndexByte(f.in.Bytes(), '\n'); idx >= 0 {
				return f.takeLine(idx), nil
			}
			// More data arrived but no newline yet; keep reading.
			continue
		}
		if err == nil {
			continue
		}
		if err == io.EOF {
			return nil, rpcerr.Wrap(rpcerr.StageFrame, rpcerr.CodeEOF, io.EOF)
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			if !retried && effective != nil && *effective == 0 {
				d := defaultBlockingTimeout
				effective = &d
				retried = true
				continue
			}
			// A bounded wait simply elapsed with no complete frame buffered.
			return nil, nil
		}
		// Anything else (connection reset, use of a closed socket, ...) is
		// terminal: the caller must close the connection.
		return nil, rpcerr.Wrap(rpcerr.StageFrame, rpcerr.CodeTransport, err)
	}
}

func (f *Framer) takeLine(idx int) []byte {
	full := f.in.Bytes()
	line := make([]byte, idx)
	copy(line, full[:idx])
	rest := make([]byte, len(full)-idx-1)
	copy(rest, full[idx+1:])
	f.in.Reset()
	f.in.Write(rest)
	return line
}

// HasBufferedLine reports whether the inbound buffer already contains a
// complete frame, used by DispatchUntilEmpty to decide whether calling
// ReadLine again can possibly make progress without touching the socket.
func (f *Framer) HasBufferedLine() bool {
	return bytes.IndexByte(f.in.Bytes(), '\n') >= 0
}

// WriteLine appends '\n' to data and writes the full buffer, looping over
// partial sends. data must not already contain '\n'; violating this is a
// programmer error.
func (f *Framer) WriteLine(data []byte, timeout *time.Duration) error {
	if bytes.IndexByte(data, '\n') >= 0 {
		panic("framing: frame payload must not contain a newline")
	}
	f.out.Reset()
	f.out.Write(data)
	f.out.WriteByte('\n')

	f.setDeadline("write", timeout)
	for f.out.Len() > 0 {
		n, err := f.rwc.Write(f.out.Bytes())
		if n > 0 {
			f.out.Next(n)
		}
		if err != nil {
			code := rpcerr.CodeTransport
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				code = rpcerr.CodeTimeout
			}
			return rpcerr.Wrap(rpcerr.StageFrame, code, err)
		}
		if n == 0 {
			// Zero-byte write: stop, leave the remainder for diagnostics.
			break
		}
	}
	return nil
}

// Close closes the underlying transport.
func (f *Framer) Close() error { return f.rwc.Close() }
