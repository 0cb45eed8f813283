// Package reqtable maps outstanding request IDs to pending result slots and
// delivers responses as they arrive.
package reqtable

import (
	"context"
	"fmt"
	"sync"
)

// Result is the one-shot payload delivered to a pending request: either a
// decoded result value, or an error (a *rpcerr.ServerError for an
// application-level failure, or a transport error on connection close).
type Result struct {
	Value any
	Err   error
}

// Pending is a single outstanding request. Call Wait to block until the
// matching response (or connection close) completes it.
type Pending struct {
	id   int64
	done chan struct{}
	res  Result
}

// ID returns the request ID this entry was inserted under.
func (p *Pending) ID() int64 { return p.id }

// Wait blocks until the entry is completed and returns its result.
func (p *Pending) Wait() Result {
	<-p.done
	return p.res
}

// Done returns a channel closed when the entry completes, for callers that
// want to select against it (e.g. alongside a context's Done channel).
func (p *Pending) Done() <-chan struct{} { return p.done }

// WaitContext blocks until the entry completes or ctx is done, whichever
// comes first. A context cancellation does not remove the entry from its
// table: a late response still completes it, but nothing is left waiting
// to observe that.
func (p *Pending) WaitContext(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Peek returns the result without blocking; ok is false if not yet complete.
func (p *Pending) Peek() (Result, bool) {
	select {
	case <-p.done:
		return p.res, true
	default:
		return Result{}, false
	}
}

// Table tracks pending requests by ID.
type Table struct {
	mu      sync.Mutex
	pending map[int64]*Pending
}

// New returns an empty table.
func New() *Table {
	return &Table{pending: make(map[int64]*Pending)}
}

// Insert registers a new pending entry for id. It panics if id is already
// in use, since request IDs are allocated by the connection's own counter
// and must never collide.
func (t *Table) Insert(id int64) *Pending {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[id]; exists {
		panic(fmt.Sprintf("reqtable: request id %d already pending", id))
	}
	p := &Pending{id: id, done: make(chan struct{})}
	t.pending[id] = p
	return p
}

// Complete delivers res to the entry registered under id, removing it from
// the table. ok is false if no such entry exists (an unsolicited or
// duplicate response, handled by the dispatcher as a protocol error).
func (t *Table) Complete(id int64, res Result) (ok bool) {
	t.mu.Lock()
	p, exists := t.pending[id]
	if exists {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !exists {
		return false
	}
	p.res = res
	close(p.done)
	return true
}

// Cancel removes id without completing it, used when issuing a call fails
// before any response could arrive.
func (t *Table) Cancel(id int64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// FailAll completes every outstanding entry with err, used on connection
// close. It leaves the table empty.
func (t *Table) FailAll(err error) {
	t.mu.Lock()
	all := t.pending
	t.pending = make(map[int64]*Pending)
	t.mu.Unlock()

	for _, p := range all {
		p.res = Result{Err: err}
		close(p.done)
	}
}

// Len reports the number of outstanding entries, for metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
