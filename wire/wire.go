// Package wire defines the on-the-wire JSON envelopes for bjsonrpc: one
// frame is one line of UTF-8 JSON, either a single envelope or a batch
// (JSON array) of envelopes.
package wire

import "encoding/json"

// Request is an invocation frame. Absence of ID (nil) denotes a
// notification. Params carries positional args as a JSON array or keyword
// args as a JSON object; KwParams carries keyword args only when Params is
// already positional and non-empty (see the proxy parameter packing rule).
type Request struct {
	Method   string          `json:"method"`
	ID       *int64          `json:"id,omitempty"`
	Params   json.RawMessage `json:"params,omitempty"`
	KwParams json.RawMessage `json:"kwparams,omitempty"`
}

// IsNotification reports whether this request carries no ID.
func (r *Request) IsNotification() bool { return r.ID == nil }

// Response is a reply frame. Exactly one of Result/Error is meaningful:
// success has Error == nil, failure has Result == nil and Error non-nil.
type Response struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
	ID     int64           `json:"id"`
}

// probe reads "method" and "id" from a raw item without committing to
// either struct's strict schema. A null "result" leaves Result nil, so
// Classify checks for that key separately.
type probe struct {
	Method *string          `json:"method"`
	Result *json.RawMessage `json:"result"`
	ID     *json.RawMessage `json:"id"`
}

// Kind classifies one parsed JSON item.
type Kind int

const (
	// KindUnknown means neither "method" nor "result" was present.
	KindUnknown Kind = iota
	KindRequest
	KindResponse
)

// Classify inspects raw (a single JSON object, not a batch) and reports
// whether it looks like a request or a response, without fully decoding
// either shape. The caller decides how to finish parsing.
func Classify(raw json.RawMessage) (Kind, error) {
	var p probe
	if err := json.Unmarshal(raw, &p); err != nil {
		return KindUnknown, err
	}
	if p.Method != nil {
		return KindRequest, nil
	}
	// A "result": null (every error reply carries one) decodes into a nil
	// pointer, so presence of the key is checked on the raw fields.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return KindUnknown, err
	}
	if _, ok := fields["result"]; ok {
		return KindResponse, nil
	}
	return KindUnknown, nil
}

// RawID extracts the "id" field of raw without assuming its shape, for use
// when building an "Unknown format" reply to an item that doesn't parse as
// either a Request or a Response.
func RawID(raw json.RawMessage) *int64 {
	var p probe
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == nil {
		return nil
	}
	if string(*p.ID) == "null" {
		return nil
	}
	var id int64
	if err := json.Unmarshal(*p.ID, &id); err != nil {
		return nil
	}
	return &id
}

// ParseBatch splits a top-level frame into its constituent items: a single
// object becomes a one-element slice, a JSON array becomes its elements in
// order. Any other top-level shape is an error.
func ParseBatch(frame []byte) ([]json.RawMessage, error) {
	trimmed := skipSpace(frame)
	if len(trimmed) == 0 {
		return nil, errEmptyFrame
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(frame, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	if trimmed[0] == '{' {
		return []json.RawMessage{json.RawMessage(frame)}, nil
	}
	return nil, errUnsupportedTopLevel
}

func skipSpace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\r', '\n':
			i++
			continue
		}
		break
	}
	return b[i:]
}
