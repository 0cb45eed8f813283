package rpcerr_test

import (
	"errors"
	"io"
	"testing"

	"github.com/floegence/bjsonrpc/rpcerr"
)

func TestErrorUnwrap(t *testing.T) {
	err := rpcerr.Wrap(rpcerr.StageFrame, rpcerr.CodeEOF, io.EOF)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected wrapped io.EOF, got %v", err)
	}
	var rerr *rpcerr.Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *rpcerr.Error, got %T", err)
	}
	if rerr.Code != rpcerr.CodeEOF || rerr.Stage != rpcerr.StageFrame {
		t.Fatalf("unexpected stage/code: %+v", rerr)
	}
}

func TestServerErrorMessageVerbatim(t *testing.T) {
	err := rpcerr.NewServerError("boom")
	if err.Error() != "boom" {
		t.Fatalf("got %q, want boom", err.Error())
	}
	var se *rpcerr.ServerError
	if !errors.As(err, &se) {
		t.Fatalf("expected *rpcerr.ServerError, got %T", err)
	}
}
