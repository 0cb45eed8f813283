package conn_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/floegence/bjsonrpc/conn"
	"github.com/floegence/bjsonrpc/handler"
	"github.com/floegence/bjsonrpc/rpcerr"
)

// echoHandler exposes the concrete methods used across these scenarios:
// ping, add2, addN, getabc, echo, newList.
type echoHandler struct {
	handler.Base
}

func newEchoHandler() *echoHandler {
	h := &echoHandler{}
	h.Register("ping", func(handler.Args) (any, error) { return "pong", nil })
	h.Register("add2", func(a handler.Args) (any, error) {
		x, err := asInt64(a.Positional[0])
		if err != nil {
			return nil, err
		}
		y, err := asInt64(a.Positional[1])
		if err != nil {
			return nil, err
		}
		return x + y, nil
	})
	h.Register("addN", func(a handler.Args) (any, error) {
		var sum int64
		for _, v := range a.Positional {
			n, err := asInt64(v)
			if err != nil {
				return nil, err
			}
			sum += n
		}
		return sum, nil
	})
	h.Register("getabc", func(a handler.Args) (any, error) {
		get := func(k string) any {
			if v, ok := a.Keyword[k]; ok {
				return v
			}
			return nil
		}
		return []any{get("a"), get("b"), get("c")}, nil
	})
	h.Register("echo", func(a handler.Args) (any, error) {
		if len(a.Positional) > 0 {
			return a.Positional[0], nil
		}
		if v, ok := a.Keyword["s"]; ok {
			return v, nil
		}
		return nil, nil
	})
	h.Register("newList", func(handler.Args) (any, error) {
		return newList(), nil
	})
	return h
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, &badNumberError{v}
	}
}

type badNumberError struct{ v any }

func (e *badNumberError) Error() string { return "not a number" }

// list is the "exposed instance" scenario: a peer-hosted object handed
// back across the wire as a __remoteobject__.
type list struct {
	handler.Base
	items []any
}

func newList() *list {
	l := &list{}
	l.Register("add", func(a handler.Args) (any, error) {
		l.items = append(l.items, a.Positional[0])
		return nil, nil
	})
	l.Register("getitems", func(handler.Args) (any, error) {
		return append([]any(nil), l.items...), nil
	})
	return l
}

// pipePair returns two connections wired together over net.Pipe, each
// serving h1/h2 to the other, already running their dispatch loops.
func pipePair(t *testing.T, h1, h2 handler.Handler) (*conn.Connection, *conn.Connection) {
	t.Helper()
	a, b := net.Pipe()
	ca := conn.New(a, h1)
	cb := conn.New(b, h2)
	go ca.Serve()
	go cb.Serve()
	t.Cleanup(func() {
		ca.Close()
		cb.Close()
	})
	return ca, cb
}

func TestPingSyncCall(t *testing.T) {
	ca, _ := pipePair(t, handler.Null, newEchoHandler())
	got, err := ca.Root().Call("ping", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "pong" {
		t.Fatalf("got %v", got)
	}
}

func TestAdd2PositionalParams(t *testing.T) {
	ca, _ := pipePair(t, handler.Null, newEchoHandler())
	got, err := ca.Root().Call("add2", []any{941, -499}, nil)
	if err != nil {
		t.Fatal(err)
	}
	n, err := asInt64(got)
	if err != nil {
		t.Fatal(err)
	}
	if n != 442 {
		t.Fatalf("got %v", got)
	}
}

func TestAddNVariadic(t *testing.T) {
	ca, _ := pipePair(t, handler.Null, newEchoHandler())
	got, err := ca.Root().Call("addN", []any{1, 2, 3, 4, 5}, nil)
	if err != nil {
		t.Fatal(err)
	}
	n, err := asInt64(got)
	if err != nil {
		t.Fatal(err)
	}
	if n != 15 {
		t.Fatalf("got %v", got)
	}
}

func TestGetABCKeywordParamsAllGiven(t *testing.T) {
	ca, _ := pipePair(t, handler.Null, newEchoHandler())
	got, err := ca.Root().Call("getabc", nil, map[string]any{"a": 1, "b": 2, "c": 3})
	if err != nil {
		t.Fatal(err)
	}
	arr, ok := got.([]any)
	if !ok || len(arr) != 3 {
		t.Fatalf("got %#v", got)
	}
	for i, want := range []int64{1, 2, 3} {
		n, err := asInt64(arr[i])
		if err != nil || n != want {
			t.Fatalf("index %d: got %#v", i, arr[i])
		}
	}
}

func TestGetABCKeywordParamsPartial(t *testing.T) {
	ca, _ := pipePair(t, handler.Null, newEchoHandler())
	got, err := ca.Root().Call("getabc", nil, map[string]any{"b": "b", "c": "c"})
	if err != nil {
		t.Fatal(err)
	}
	arr, ok := got.([]any)
	if !ok || len(arr) != 3 {
		t.Fatalf("got %#v", got)
	}
	if arr[0] != nil || arr[1] != "b" || arr[2] != "c" {
		t.Fatalf("got %#v", arr)
	}
}

func TestUnknownMethodIsServerError(t *testing.T) {
	ca, _ := pipePair(t, handler.Null, newEchoHandler())
	_, err := ca.Root().Call("myfun", nil, nil)
	if err == nil {
		t.Fatal("expected error for unexposed method")
	}
	var se *rpcerr.ServerError
	if !errors.As(err, &se) {
		t.Fatalf("expected *rpcerr.ServerError, got %T", err)
	}
}

func TestEchoRoundTripsPrimitivesBitForBit(t *testing.T) {
	ca, _ := pipePair(t, handler.Null, newEchoHandler())
	for _, v := range []any{"hello", float64(3.25), true, nil} {
		got, err := ca.Root().Call("echo", []any{v}, nil)
		if err != nil {
			t.Fatal(err)
		}
		// A number survives the wire as json.Number, not the original Go
		// numeric type, so identity is checked after JSON canonicalization
		// rather than with Go's ==.
		wantJSON, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		gotJSON, err := json.Marshal(got)
		if err != nil {
			t.Fatal(err)
		}
		if string(gotJSON) != string(wantJSON) {
			t.Fatalf("echo(%s) = %s", wantJSON, gotJSON)
		}
	}
}

func TestRemoteObjectAddGetItemsDelete(t *testing.T) {
	ca, _ := pipePair(t, handler.Null, newEchoHandler())

	result, err := ca.Root().Call("newList", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	remote, ok := result.(*conn.RemoteObject)
	if !ok {
		t.Fatalf("expected *conn.RemoteObject, got %T", result)
	}

	for i := 0; i < 10; i++ {
		if err := remote.Notify("add", []any{i}, nil); err != nil {
			t.Fatal(err)
		}
	}

	items, err := remote.Call("getitems", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	arr, ok := items.([]any)
	if !ok || len(arr) != 10 {
		t.Fatalf("got %#v", items)
	}
	for i, v := range arr {
		n, err := asInt64(v)
		if err != nil || int(n) != i {
			t.Fatalf("index %d: got %#v", i, v)
		}
	}

	remote.Close() // sends list_XXXX.__delete__; idempotent if called again
	remote.Close()
}

func TestNotifyHandlerErrorIsSilent(t *testing.T) {
	ca, _ := pipePair(t, handler.Null, newEchoHandler())
	if err := ca.Root().Notify("myfun", nil, nil); err != nil {
		t.Fatalf("Notify itself must not fail: %v", err)
	}
	// Give the peer's dispatch loop a moment, then confirm the connection
	// is still usable: a notification failure never tears anything down.
	time.Sleep(20 * time.Millisecond)
	if _, err := ca.Root().Call("ping", nil, nil); err != nil {
		t.Fatalf("connection should still be usable: %v", err)
	}
}

func TestRequestIDsAreUniqueAndIncreasing(t *testing.T) {
	ca, _ := pipePair(t, handler.Null, newEchoHandler())
	var last int64
	for i := 0; i < 5; i++ {
		p, err := ca.Root().Async("ping", nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if p.ID() <= last {
			t.Fatalf("expected increasing ids, got %d after %d", p.ID(), last)
		}
		last = p.ID()
		p.Wait()
	}
}

func TestAsyncPendingCompletesWithResult(t *testing.T) {
	ca, _ := pipePair(t, handler.Null, newEchoHandler())
	p, err := ca.Root().Async("ping", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	res := p.Wait()
	if res.Err != nil || res.Value != "pong" {
		t.Fatalf("got %+v", res)
	}
}

func TestCallTimeoutExceedsDeadline(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	h := &handler.Base{}
	h.Register("slow", func(handler.Args) (any, error) {
		<-block
		return "done", nil
	})
	ca, _ := pipePair(t, handler.Null, h)

	_, err := ca.Root().CallTimeout("slow", nil, nil, 20*time.Millisecond)
	if err != context.DeadlineExceeded {
		t.Fatalf("got %v", err)
	}
}

func TestCallTimeoutZeroMeansUnbounded(t *testing.T) {
	ca, _ := pipePair(t, handler.Null, newEchoHandler())
	got, err := ca.Root().CallTimeout("ping", nil, nil, 0)
	if err != nil || got != "pong" {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestBatchDispatchOrderPreserved(t *testing.T) {
	a, b := net.Pipe()

	var mu sync.Mutex
	var order []int
	h := &handler.Base{}
	for _, n := range []int{0, 1, 2} {
		n := n
		h.Register(fmt.Sprintf("mark%d", n), func(handler.Args) (any, error) {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			return nil, nil
		})
	}

	server := conn.New(a, h)
	go server.Serve()
	defer server.Close()

	frame := []byte(`[{"method":"mark0"},{"method":"mark1"},{"method":"mark2"}]` + "\n")
	if _, err := b.Write(frame); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 3 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("expected 3 dispatches, got %v", order)
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("expected in-order dispatch, got %v", order)
		}
	}
}
