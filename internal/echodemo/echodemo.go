// Package echodemo implements a small handler used by the bjsonrpc-echo
// command and its tests: a handful of arithmetic/echo methods plus a
// peer-exposable list object, enough to exercise every call modality and
// the remote-object lifecycle end to end.
package echodemo

import (
	"encoding/json"
	"fmt"

	"github.com/floegence/bjsonrpc/handler"
)

// Handler exposes ping, add2, addN, getabc, echo and newList.
type Handler struct {
	handler.Base
}

// New constructs a ready-to-use Handler.
func New() *Handler {
	h := &Handler{}
	h.Register("ping", func(handler.Args) (any, error) { return "pong", nil })
	h.Register("add2", func(a handler.Args) (any, error) {
		if len(a.Positional) != 2 {
			return nil, fmt.Errorf("add2 takes exactly 2 positional arguments, got %d", len(a.Positional))
		}
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
	h.Register("newList", func(handler.Args) (any, error) { return NewList(), nil })
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
		return 0, fmt.Errorf("echodemo: %v is not a number", v)
	}
}

// List is the "exposed instance" scenario: a peer-hosted object handed back
// across the wire as a remote object reference.
type List struct {
	handler.Base
	items []any
}

// NewList constructs an empty List and registers its own methods.
func NewList() *List {
	l := &List{}
	l.Register("add", func(a handler.Args) (any, error) {
		if len(a.Positional) != 1 {
			return nil, fmt.Errorf("add takes exactly 1 positional argument, got %d", len(a.Positional))
		}
		l.items = append(l.items, a.Positional[0])
		return nil, nil
	})
	l.Register("getitems", func(handler.Args) (any, error) {
		return append([]any(nil), l.items...), nil
	})
	return l
}
