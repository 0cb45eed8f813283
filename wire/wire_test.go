package wire_test

import (
	"encoding/json"
	"testing"

	"github.com/floegence/bjsonrpc/wire"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		raw  string
		want wire.Kind
	}{
		{`{"method":"ping","id":1}`, wire.KindRequest},
		{`{"result":"pong","error":null,"id":1}`, wire.KindResponse},
		{`{"foo":"bar"}`, wire.KindUnknown},
	}
	for _, c := range cases {
		got, err := wire.Classify(json.RawMessage(c.raw))
		if err != nil {
			t.Fatalf("Classify(%s): %v", c.raw, err)
		}
		if got != c.want {
			t.Fatalf("Classify(%s) = %v, want %v", c.raw, got, c.want)
		}
	}
}

func TestParseBatchSingle(t *testing.T) {
	items, err := wire.ParseBatch([]byte(`{"method":"ping","id":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
}

func TestParseBatchArray(t *testing.T) {
	items, err := wire.ParseBatch([]byte(`[{"method":"a"},{"method":"b"}]`))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
}

func TestParseBatchInvalid(t *testing.T) {
	if _, err := wire.ParseBatch([]byte(`"just a string"`)); err == nil {
		t.Fatal("expected error for unsupported top-level shape")
	}
}

func TestRequestIsNotification(t *testing.T) {
	r := wire.Request{Method: "foo"}
	if !r.IsNotification() {
		t.Fatal("request with nil ID should be a notification")
	}
	id := int64(5)
	r.ID = &id
	if r.IsNotification() {
		t.Fatal("request with ID should not be a notification")
	}
}

func TestRawID(t *testing.T) {
	if got := wire.RawID(json.RawMessage(`{"id":42}`)); got == nil || *got != 42 {
		t.Fatalf("RawID = %v, want 42", got)
	}
	if got := wire.RawID(json.RawMessage(`{"id":null}`)); got != nil {
		t.Fatalf("RawID = %v, want nil", got)
	}
	if got := wire.RawID(json.RawMessage(`{}`)); got != nil {
		t.Fatalf("RawID = %v, want nil", got)
	}
}
