package reqtable_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/floegence/bjsonrpc/reqtable"
)

func TestInsertAndComplete(t *testing.T) {
	tbl := reqtable.New()
	p := tbl.Insert(1)

	if !tbl.Complete(1, reqtable.Result{Value: "pong"}) {
		t.Fatal("expected Complete to find entry")
	}

	res := p.Wait()
	if res.Value != "pong" || res.Err != nil {
		t.Fatalf("got %+v", res)
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected empty table after completion")
	}
}

func TestCompleteUnknownIDReturnsFalse(t *testing.T) {
	tbl := reqtable.New()
	if tbl.Complete(99, reqtable.Result{}) {
		t.Fatal("expected false for unknown id")
	}
}

func TestInsertDuplicateIDPanics(t *testing.T) {
	tbl := reqtable.New()
	tbl.Insert(1)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate id")
		}
	}()
	tbl.Insert(1)
}

func TestFailAllCompletesEveryWaiter(t *testing.T) {
	tbl := reqtable.New()
	p1 := tbl.Insert(1)
	p2 := tbl.Insert(2)

	wantErr := errors.New("transport closed")
	tbl.FailAll(wantErr)

	for _, p := range []*reqtable.Pending{p1, p2} {
		res := p.Wait()
		if res.Err != wantErr {
			t.Fatalf("got %v", res.Err)
		}
	}
	if tbl.Len() != 0 {
		t.Fatal("expected empty table after FailAll")
	}
}

func TestPeekBeforeCompletion(t *testing.T) {
	tbl := reqtable.New()
	p := tbl.Insert(1)

	if _, ok := p.Peek(); ok {
		t.Fatal("expected Peek to report not-yet-done")
	}
	tbl.Complete(1, reqtable.Result{Value: 42})

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("Done channel never closed")
	}
	res, ok := p.Peek()
	if !ok || res.Value != 42 {
		t.Fatalf("got %+v, %v", res, ok)
	}
}

func TestCancelRemovesWithoutCompleting(t *testing.T) {
	tbl := reqtable.New()
	tbl.Insert(1)
	tbl.Cancel(1)

	if tbl.Complete(1, reqtable.Result{}) {
		t.Fatal("expected Complete to fail after Cancel")
	}
}

func TestWaitContextReturnsResultOnCompletion(t *testing.T) {
	tbl := reqtable.New()
	p := tbl.Insert(1)
	tbl.Complete(1, reqtable.Result{Value: "pong"})

	res, err := p.WaitContext(context.Background())
	if err != nil || res.Value != "pong" {
		t.Fatalf("got %+v, %v", res, err)
	}
}

func TestWaitContextReturnsErrOnDeadline(t *testing.T) {
	tbl := reqtable.New()
	p := tbl.Insert(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.WaitContext(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("got %v", err)
	}
}
