package conn

import (
	"runtime"
	"sync"

	"github.com/floegence/bjsonrpc/refs"
	"github.com/floegence/bjsonrpc/reqtable"
)

// RemoteObject is a handle to an instance hosted on the peer, materialized
// when a `__remoteobject__` hint is decoded. Its three modalities invoke
// methods on that specific instance rather than the connection's root
// handler.
type RemoteObject struct {
	conn  *Connection
	ref   refs.RemoteRef
	proxy *Proxy

	closeOnce sync.Once
}

func newRemoteObject(c *Connection, name string) *RemoteObject {
	r := &RemoteObject{
		conn: c,
		ref:  refs.RemoteRef{HostID: c.ID(), Name: name},
	}
	r.proxy = &Proxy{conn: c, object: name}
	runtime.SetFinalizer(r, func(r *RemoteObject) { r.Close() })
	return r
}

// RemoteRef implements refs.Referencer, so passing a RemoteObject back to
// the connection it came from round-trips to the same peer-side instance.
func (r *RemoteObject) RemoteRef() refs.RemoteRef { return r.ref }

// Connection returns the connection this handle belongs to.
func (r *RemoteObject) Connection() *Connection { return r.conn }

// Name is the registry name the peer assigned this instance.
func (r *RemoteObject) Name() string { return r.ref.Name }

// Call invokes method on the remote instance synchronously.
func (r *RemoteObject) Call(method string, args []any, kwargs map[string]any) (any, error) {
	return r.proxy.Call(method, args, kwargs)
}

// Async invokes method on the remote instance without blocking.
func (r *RemoteObject) Async(method string, args []any, kwargs map[string]any) (*reqtable.Pending, error) {
	p, err := r.proxy.Async(method, args, kwargs)
	return p, err
}

// Notify invokes method on the remote instance as a one-way notification.
func (r *RemoteObject) Notify(method string, args []any, kwargs map[string]any) error {
	return r.proxy.Notify(method, args, kwargs)
}

// Close tells the peer this handle is no longer referenced, so it can drop
// the instance from its registry. Close is idempotent and safe to call
// more than once; it also clears the finalizer backstop registered in
// newRemoteObject, which otherwise calls Close itself.
// It sends a best-effort notification rather than a blocking call: a
// handle being disposed of has no caller left to report a failure to, so
// any error is logged instead of returned.
func (r *RemoteObject) Close() {
	r.closeOnce.Do(func() {
		runtime.SetFinalizer(r, nil)
		if err := r.proxy.Notify("__delete__", nil, nil); err != nil {
			r.conn.logf("bjsonrpc: __delete__ notify for %s failed: %v", r.ref.Name, err)
		}
	})
}
