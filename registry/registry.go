// Package registry implements the per-connection object registry: local
// instances exposed to a peer, named so the peer can address them in
// subsequent "object.method" invocations.
package registry

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/floegence/bjsonrpc/handler"
	"github.com/floegence/bjsonrpc/rpcerr"
)

// Registry maps local names to locally-hosted instances. Names are unique
// within the registry and are reused for the same instance (by identity)
// across repeated serializations, so the peer observes reference identity.
type Registry struct {
	mu      sync.Mutex
	nextID  uint64
	byName  map[string]handler.Handler
	byValue map[identity]string
}

// identity keys the byValue map. Using the dynamic type + pointer value
// lets two serializations of the same *T round-trip to the same name
// without requiring callers to implement a comparable interface.
type identity struct {
	typ reflect.Type
	ptr uintptr
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byName:  make(map[string]handler.Handler),
		byValue: make(map[identity]string),
	}
}

// Register allocates (or reuses) a name for h and returns it. The name has
// the form "<lowercase-class>_<4-hex-digit-id>".
func (r *Registry) Register(h handler.Handler) string {
	name, _ := r.RegisterReused(h)
	return name
}

// RegisterReused is Register, additionally reporting whether an existing
// name was reused rather than minted, so callers can drive accurate
// registration metrics.
func (r *Registry) RegisterReused(h handler.Handler) (name string, reused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if key, ok := identityOf(h); ok {
		if name, ok := r.byValue[key]; ok {
			return name, true
		}
		name := r.allocate(h)
		r.byValue[key] = name
		return name, false
	}

	// Values we can't key by identity (e.g. not a pointer) are never
	// reused; each call mints a fresh name.
	return r.allocate(h), false
}

func (r *Registry) allocate(h handler.Handler) string {
	r.nextID++
	name := fmt.Sprintf("%s_%04x", lowerClassName(h), r.nextID)
	r.byName[name] = h
	return name
}

// Resolve looks up name. It fails with rpcerr.CodeBadReference if absent.
func (r *Registry) Resolve(name string) (handler.Handler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byName[name]
	if !ok {
		return nil, rpcerr.Wrap(rpcerr.StageCodec, rpcerr.CodeBadReference,
			fmt.Errorf("no such registered object: %q", name))
	}
	return h, nil
}

// Remove deletes name from the registry. It is idempotent: removing an
// already-absent (or already-removed) name is a no-op success, a deliberate
// divergence from the original protocol (which raised on a repeated
// __delete__); see DESIGN.md.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.byName[name]; ok {
		delete(r.byName, name)
		if key, ok := identityOf(h); ok {
			delete(r.byValue, key)
		}
	}
}

// Len reports how many instances are currently registered, for metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}

func identityOf(h handler.Handler) (identity, bool) {
	v := reflect.ValueOf(h)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return identity{}, false
	}
	return identity{typ: v.Type(), ptr: v.Pointer()}, true
}

func lowerClassName(h handler.Handler) string {
	t := reflect.TypeOf(h)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := "object"
	if t != nil && t.Name() != "" {
		name = t.Name()
	}
	return strings.ToLower(name)
}

