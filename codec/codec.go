// Package codec implements the hinted-class JSON transform: decoding
// materializes remote-object references, object references, and function
// references; encoding substitutes hint objects for values that aren't
// natively JSON-representable.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/floegence/bjsonrpc/handler"
	"github.com/floegence/bjsonrpc/refs"
	"github.com/floegence/bjsonrpc/rpcerr"
)

// Hint keys recognized by Decode and emitted by Encode.
const (
	HintRemoteObject    = "__remoteobject__"
	HintObjectReference = "__objectreference__"
	HintFunctionRef     = "__functionreference__"
)

// Host is the capability a connection must expose for the codec to resolve
// and construct hinted values without the codec package depending on the
// connection package.
type Host interface {
	// ID is this connection's host identity, used to detect
	// cross-connection callables/remote-refs at encode time.
	ID() refs.HostID

	// ResolveObjectReference looks up name in the local object registry.
	// It fails with rpcerr.CodeBadReference if name is not registered.
	ResolveObjectReference(name string) (any, error)

	// ResolveFunctionReference resolves a (possibly dotted) method name to
	// a callable bound method.
	ResolveFunctionReference(name string) (refs.BoundMethod, error)

	// NewRemoteObject constructs the local handle type for a peer-hosted
	// object named name (decode side of `__remoteobject__`).
	NewRemoteObject(name string) any

	// RegisterInstance allocates (or reuses) a registry name for h and
	// returns it (encode side of the handler-capability fallback case).
	RegisterInstance(h handler.Handler) (name string)
}

// Decode parses raw as a generic JSON value and applies the object hook to
// every map it contains, bottom-up, so nested hinted values resolve before
// their containing structure is returned.
func Decode(raw json.RawMessage, host Host) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, rpcerr.Wrap(rpcerr.StageCodec, rpcerr.CodeBadReference, err)
	}
	return transform(v, host)
}

func transform(v any, host Host) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, sub := range t {
			out, err := transform(sub, host)
			if err != nil {
				return nil, err
			}
			t[k] = out
		}
		return applyHook(t, host)
	case []any:
		for i, sub := range t {
			out, err := transform(sub, host)
			if err != nil {
				return nil, err
			}
			t[i] = out
		}
		return t, nil
	default:
		return v, nil
	}
}

func applyHook(obj map[string]any, host Host) (any, error) {
	if raw, ok := obj[HintRemoteObject]; ok {
		name, ok := raw.(string)
		if !ok {
			return nil, rpcerr.Wrap(rpcerr.StageCodec, rpcerr.CodeBadReference,
				fmt.Errorf("%s value must be a string", HintRemoteObject))
		}
		return host.NewRemoteObject(name), nil
	}
	if raw, ok := obj[HintObjectReference]; ok {
		name, ok := raw.(string)
		if !ok {
			return nil, rpcerr.Wrap(rpcerr.StageCodec, rpcerr.CodeBadReference,
				fmt.Errorf("%s value must be a string", HintObjectReference))
		}
		return host.ResolveObjectReference(name)
	}
	if raw, ok := obj[HintFunctionRef]; ok {
		name, ok := raw.(string)
		if !ok {
			return nil, rpcerr.Wrap(rpcerr.StageCodec, rpcerr.CodeBadReference,
				fmt.Errorf("%s value must be a string", HintFunctionRef))
		}
		return host.ResolveFunctionReference(name)
	}
	return obj, nil
}

// Encode converts v into its wire representation, substituting hint objects
// for values that aren't natively JSON-representable, then marshals the
// result.
func Encode(v any, host Host) (json.RawMessage, error) {
	prepared, err := prepare(v, host)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(prepared)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.StageCodec, rpcerr.CodeNotSerializable, err)
	}
	return b, nil
}

func prepare(v any, host Host) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, float64, int, int64, json.Number:
		return t, nil
	case refs.BoundMethod:
		if t.HostID != host.ID() {
			return nil, rpcerr.Wrap(rpcerr.StageCodec, rpcerr.CodeWrongConnection,
				fmt.Errorf("method %q belongs to a different connection", t.WireName))
		}
		return map[string]any{HintFunctionRef: t.WireName}, nil
	case refs.Referencer:
		ref := t.RemoteRef()
		if ref.HostID != host.ID() {
			return nil, rpcerr.Wrap(rpcerr.StageCodec, rpcerr.CodeNotSerializable,
				fmt.Errorf("remote object %q belongs to a different connection", ref.Name))
		}
		return map[string]any{HintObjectReference: ref.Name}, nil
	case handler.Handler:
		name := host.RegisterInstance(t)
		return map[string]any{HintRemoteObject: name}, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, sub := range t {
			p, err := prepare(sub, host)
			if err != nil {
				return nil, err
			}
			out[k] = p
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, sub := range t {
			p, err := prepare(sub, host)
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	default:
		// Trust encoding/json for everything else (typed structs, slices
		// of primitives, etc.) — these can't carry a remote reference
		// nested inside them without implementing json.Marshaler
		// themselves, which is an acceptable limit for a statically typed
		// port of a dynamically typed protocol.
		return v, nil
	}
}

// SplitDotted splits "object.method" into ("object", "method", true), or
// returns ("", name, false) when name has no dot (root-handler method).
func SplitDotted(name string) (object, method string, dotted bool) {
	idx := strings.IndexByte(name, '.')
	if idx < 0 {
		return "", name, false
	}
	return name[:idx], name[idx+1:], true
}
