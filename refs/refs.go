// Package refs holds small identity types shared between the codec and the
// connection so that neither package needs to import the other.
package refs

import "sync/atomic"

// HostID identifies a single connection instance. It is never reused within
// a process, which is all the codec needs to decide whether a callable or a
// remote-object handle belongs to the connection currently encoding it.
type HostID uint64

var nextHostID atomic.Uint64

// NewHostID returns a fresh, process-unique host ID.
func NewHostID() HostID {
	return HostID(nextHostID.Add(1))
}

// RemoteRef identifies an object hosted on the peer. It is the payload of a
// decoded `__remoteobject__` hint, embedded inside the connection package's
// richer RemoteObject handle.
type RemoteRef struct {
	HostID HostID
	Name   string
}

// Referencer is implemented by values that wrap a RemoteRef, so the codec
// can recognize a remote-object handle being passed back to its own peer
// without importing the conn package.
type Referencer interface {
	RemoteRef() RemoteRef
}

// BoundMethod is the payload of a decoded `__functionreference__` hint, or a
// handler method explicitly exposed as a callback. WireName is the dotted
// or bare method name as it appears (or will appear) on the wire.
type BoundMethod struct {
	HostID   HostID
	WireName string
	Call     func(positional []any, keyword map[string]any) (any, error)
}
