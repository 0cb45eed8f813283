package conn

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/floegence/bjsonrpc/codec"
	"github.com/floegence/bjsonrpc/handler"
	"github.com/floegence/bjsonrpc/metrics"
	"github.com/floegence/bjsonrpc/reqtable"
	"github.com/floegence/bjsonrpc/rpcerr"
	"github.com/floegence/bjsonrpc/wire"
)

// dispatchFrame splits one raw frame into its batch items (a lone object is
// a one-item batch) and dispatches each in turn, in order.
func (c *Connection) dispatchFrame(line []byte) {
	if c.Config().TraceFrames {
		c.logf("bjsonrpc: read frame: %s", line)
	}
	items, err := wire.ParseBatch(line)
	if err != nil {
		c.logf("bjsonrpc: dropping unparsable frame: %v", err)
		c.metrics.Dispatch(metrics.DispatchDropped)
		return
	}
	for _, item := range items {
		c.dispatchItem(item)
	}
}

func (c *Connection) dispatchItem(raw json.RawMessage) {
	kind, err := wire.Classify(raw)
	if err != nil {
		c.logf("bjsonrpc: dropping unclassifiable item: %v", err)
		c.metrics.Dispatch(metrics.DispatchDropped)
		return
	}
	switch kind {
	case wire.KindRequest:
		c.dispatchRequest(raw)
	case wire.KindResponse:
		c.dispatchResponse(raw)
	default:
		if id := wire.RawID(raw); id != nil {
			c.replyUnknownFormat(*id)
		} else {
			c.logf("bjsonrpc: dropping item with neither method nor result")
			c.metrics.Dispatch(metrics.DispatchDropped)
		}
	}
}

func (c *Connection) dispatchRequest(raw json.RawMessage) {
	var req wire.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		if id := wire.RawID(raw); id != nil {
			c.replyUnknownFormat(*id)
		} else {
			c.logf("bjsonrpc: dropping malformed request: %v", err)
			c.metrics.Dispatch(metrics.DispatchDropped)
		}
		return
	}

	if c.Config().TraceDispatch {
		c.logf("bjsonrpc: dispatch %s id=%v", req.Method, req.ID)
	}

	object, method, dotted := codec.SplitDotted(req.Method)

	if dotted && method == "__delete__" {
		c.registry.Remove(object)
		c.metrics.ObjectRemoved()
		if req.ID != nil {
			c.writeResponse(*req.ID, nil, nil)
		}
		c.metrics.Dispatch(metrics.DispatchOK)
		return
	}

	h := c.handler
	if dotted {
		var err error
		h, err = c.registry.Resolve(object)
		if err != nil {
			c.failRequest(req.ID, err)
			return
		}
	}

	positional, keyword, err := c.decodeParams(req)
	if err != nil {
		c.failRequest(req.ID, err)
		return
	}

	fn, err := h.GetMethod(method)
	if err != nil {
		c.failRequest(req.ID, err)
		return
	}

	result, err := c.invoke(method, fn, handler.Args{Positional: positional, Keyword: keyword})
	if err != nil {
		c.failRequest(req.ID, err)
		return
	}

	if req.ID == nil {
		c.metrics.Dispatch(metrics.DispatchOK)
		return
	}
	c.writeResponse(*req.ID, result, nil)
	c.metrics.Dispatch(metrics.DispatchOK)
}

// invoke calls fn, converting a panic into an error so a misbehaving
// handler can never take the read loop down with it.
func (c *Connection) invoke(method string, fn handler.MethodFunc, args handler.Args) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic invoking %q: %v", method, r)
		}
	}()
	return fn(args)
}

func (c *Connection) decodeParams(req wire.Request) ([]any, map[string]any, error) {
	if len(req.Params) == 0 {
		return nil, nil, nil
	}
	val, err := codec.Decode(req.Params, c)
	if err != nil {
		return nil, nil, err
	}
	switch t := val.(type) {
	case nil:
		return nil, nil, nil
	case map[string]any:
		// An object-shaped params carries keyword arguments by itself;
		// any kwparams field present alongside it is ignored.
		return nil, t, nil
	case []any:
		kw, err := c.decodeKwParams(req)
		if err != nil {
			return nil, nil, err
		}
		return t, kw, nil
	default:
		return nil, nil, rpcerr.Wrap(rpcerr.StageDispatch, rpcerr.CodeUnknownFormat,
			errors.New("params must be a JSON array or object"))
	}
}

func (c *Connection) decodeKwParams(req wire.Request) (map[string]any, error) {
	if len(req.KwParams) == 0 {
		return nil, nil
	}
	val, err := codec.Decode(req.KwParams, c)
	if err != nil {
		return nil, err
	}
	m, ok := val.(map[string]any)
	if !ok {
		return nil, rpcerr.Wrap(rpcerr.StageDispatch, rpcerr.CodeUnknownFormat,
			errors.New("kwparams must be a JSON object"))
	}
	return m, nil
}

// failRequest classifies err and, if the invocation carried an ID, replies
// with the appropriate error shape:
//   - a handler-raised ServerError (or NoSuchMethodError) is an expected
//     application failure, reported verbatim;
//   - a bad or unresolvable reference (unregistered object, malformed
//     params shape) is a protocol error: logged, replied "Unknown format",
//     connection stays open;
//   - anything else is unhandled: logged, reported as "<Kind>: <message>".
func (c *Connection) failRequest(id *int64, err error) {
	if msg, ok := serverFacingMessage(err); ok {
		c.metrics.Dispatch(metrics.DispatchServerError)
		if id != nil {
			c.writeResponse(*id, nil, &msg)
		}
		return
	}
	if isProtocolError(err) {
		c.logf("bjsonrpc: protocol error dispatching request: %v", err)
		if id != nil {
			c.replyUnknownFormat(*id)
		} else {
			c.metrics.Dispatch(metrics.DispatchDropped)
		}
		return
	}
	c.logf("bjsonrpc: unhandled error dispatching request: %v", err)
	msg := fmt.Sprintf("%T: %s", err, err.Error())
	c.metrics.Dispatch(metrics.DispatchUnhandled)
	if id != nil {
		c.writeResponse(*id, nil, &msg)
	}
}

// serverFacingMessage reports whether err is an "expected" application
// failure whose message is safe to forward to the peer verbatim.
func serverFacingMessage(err error) (string, bool) {
	var se *rpcerr.ServerError
	if errors.As(err, &se) {
		return se.Message, true
	}
	var nsm *handler.NoSuchMethodError
	if errors.As(err, &nsm) {
		return nsm.Error(), true
	}
	return "", false
}

// isProtocolError reports whether err names a reference the peer sent that
// this end can't resolve (unregistered object, unknown format), rather than
// a failure inside the handler itself.
func isProtocolError(err error) bool {
	var e *rpcerr.Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code {
	case rpcerr.CodeBadReference, rpcerr.CodeUnknownFormat, rpcerr.CodeNoSuchMethod:
		return true
	default:
		return false
	}
}

func (c *Connection) replyUnknownFormat(id int64) {
	msg := "Unknown format"
	c.writeResponse(id, nil, &msg)
	c.metrics.Dispatch(metrics.DispatchDropped)
}

func (c *Connection) writeResponse(id int64, result any, errMsg *string) {
	resp := wire.Response{ID: id, Error: errMsg}
	if errMsg == nil {
		raw, err := codec.Encode(result, c)
		if err != nil {
			msg := err.Error()
			resp.Error = &msg
		} else {
			resp.Result = raw
		}
	}
	if err := c.writeFrame(resp); err != nil {
		c.logf("bjsonrpc: failed to write response for id %d: %v", id, err)
	}
}

func (c *Connection) dispatchResponse(raw json.RawMessage) {
	var resp wire.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logf("bjsonrpc: dropping malformed response: %v", err)
		c.metrics.Dispatch(metrics.DispatchDropped)
		return
	}

	var result reqtable.Result
	if resp.Error != nil {
		result = reqtable.Result{Err: rpcerr.NewServerError(*resp.Error)}
	} else {
		val, err := codec.Decode(resp.Result, c)
		if err != nil {
			result = reqtable.Result{Err: err}
		} else {
			result = reqtable.Result{Value: val}
		}
	}

	if !c.reqs.Complete(resp.ID, result) {
		// A response to an ID we have no record of: the item carries an ID
		// of its own, so there is no channel to report an error back on;
		// log and drop it.
		c.logf("bjsonrpc: response for unknown request id %d", resp.ID)
		c.metrics.Dispatch(metrics.DispatchDropped)
		return
	}
	c.metrics.PendingRequests(c.reqs.Len())
}

// marshalFrame encodes v (a wire.Request or wire.Response) to its wire
// bytes, outside the write lock so json.Marshal work never blocks other
// writers.
func marshalFrame(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.StageCodec, rpcerr.CodeNotSerializable, err)
	}
	return b, nil
}
