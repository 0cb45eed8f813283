package conn

import (
	"context"
	"time"

	"github.com/floegence/bjsonrpc/codec"
	"github.com/floegence/bjsonrpc/internal/contextutil"
	"github.com/floegence/bjsonrpc/reqtable"
	"github.com/floegence/bjsonrpc/wire"
)

// callModality selects how an outbound invocation expects to be answered.
type callModality int

const (
	syncCall callModality = iota
	asyncCall
	notifyCall
)

// Proxy issues invocations against a peer: either its root handler (bound
// to no object name) or one specific remote object (bound to its registry
// name). The three modalities below cover every way the original protocol
// lets a caller invoke a peer method.
type Proxy struct {
	conn   *Connection
	object string
}

// Call issues method synchronously: it blocks until the peer replies (or
// the connection fails) and returns the decoded result.
func (p *Proxy) Call(method string, args []any, kwargs map[string]any) (any, error) {
	start := time.Now()
	v, _, err := p.conn.invokePeer(syncCall, p.object, method, args, kwargs)
	p.conn.recordCallMetric(err, time.Since(start))
	return v, err
}

// Async issues method without blocking: the returned Pending completes once
// the peer's reply (or a connection failure) arrives.
func (p *Proxy) Async(method string, args []any, kwargs map[string]any) (*reqtable.Pending, error) {
	_, pending, err := p.conn.invokePeer(asyncCall, p.object, method, args, kwargs)
	return pending, err
}

// Notify sends method as a one-way notification. The peer must not reply,
// even if the handler raises an error, and Notify never waits for one.
func (p *Proxy) Notify(method string, args []any, kwargs map[string]any) error {
	_, _, err := p.conn.invokePeer(notifyCall, p.object, method, args, kwargs)
	return err
}

// CallTimeout is Call bounded by d: if d<=0 it behaves exactly like Call
// (no deadline), otherwise the call is abandoned with context.DeadlineExceeded
// if the peer hasn't replied within d. The request itself is not retracted;
// a response arriving after the deadline is simply discarded by the table.
func (p *Proxy) CallTimeout(method string, args []any, kwargs map[string]any, d time.Duration) (any, error) {
	start := time.Now()
	ctx, cancel := contextutil.WithTimeout(context.Background(), d)
	defer cancel()

	_, pending, err := p.conn.invokePeer(asyncCall, p.object, method, args, kwargs)
	if err != nil {
		p.conn.recordCallMetric(err, time.Since(start))
		return nil, err
	}
	res, err := pending.WaitContext(ctx)
	if err != nil {
		p.conn.recordCallMetric(err, time.Since(start))
		return nil, err
	}
	p.conn.recordCallMetric(res.Err, time.Since(start))
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Value, nil
}

// invokePeer builds and sends one invocation frame, applying the parameter
// packing rule: keyword-only calls are sent as an object in Params with no
// KwParams; any call carrying positional args sends them as Params, with
// keyword args (if any) carried alongside in KwParams.
func (c *Connection) invokePeer(modality callModality, object, method string, args []any, kwargs map[string]any) (any, *reqtable.Pending, error) {
	wireMethod := method
	if object != "" {
		wireMethod = object + "." + method
	}

	params, kwparams, err := buildParams(c, args, kwargs)
	if err != nil {
		return nil, nil, err
	}

	if modality == notifyCall {
		req := wire.Request{Method: wireMethod, Params: params, KwParams: kwparams}
		if err := c.writeFrame(req); err != nil {
			return nil, nil, err
		}
		c.metrics.Notify()
		return nil, nil, nil
	}

	c.writeMu.Lock()
	c.requestSeq++
	id := c.requestSeq
	req := wire.Request{Method: wireMethod, ID: &id, Params: params, KwParams: kwparams}
	data, err := marshalFrame(req)
	if err != nil {
		c.writeMu.Unlock()
		return nil, nil, err
	}
	pending := c.reqs.Insert(id)
	werr := c.writeLineLocked(data)
	c.writeMu.Unlock()

	if werr != nil {
		c.reqs.Cancel(id)
		return nil, nil, werr
	}
	c.metrics.PendingRequests(c.reqs.Len())

	if modality == asyncCall {
		return nil, pending, nil
	}

	res := pending.Wait()
	c.metrics.PendingRequests(c.reqs.Len())
	if res.Err != nil {
		return nil, nil, res.Err
	}
	return res.Value, nil, nil
}

// buildParams encodes args/kwargs per the parameter packing rule.
func buildParams(host codec.Host, args []any, kwargs map[string]any) (params, kwparams []byte, err error) {
	if len(args) == 0 && len(kwargs) > 0 {
		raw, err := codec.Encode(kwargs, host)
		if err != nil {
			return nil, nil, err
		}
		return raw, nil, nil
	}
	if len(args) > 0 {
		raw, err := codec.Encode(args, host)
		if err != nil {
			return nil, nil, err
		}
		params = raw
	}
	if len(kwargs) > 0 {
		raw, err := codec.Encode(kwargs, host)
		if err != nil {
			return nil, nil, err
		}
		kwparams = raw
	}
	return params, kwparams, nil
}
