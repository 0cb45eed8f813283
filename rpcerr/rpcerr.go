// Package rpcerr is the error taxonomy for bjsonrpc, modeled on the
// (Path, Stage, Code, Err) structured-error shape used elsewhere in this
// codebase's lineage: a stable, programmatic Code plus an optional wrapped
// cause, so callers can branch with errors.Is/errors.As instead of string
// matching.
package rpcerr

import "fmt"

// Stage identifies which layer of the engine raised the error.
type Stage string

const (
	StageFrame    Stage = "frame"
	StageCodec    Stage = "codec"
	StageDispatch Stage = "dispatch"
	StageCall     Stage = "call"
)

// Code is a stable, programmatic error identifier.
type Code string

const (
	CodeEOF             Code = "eof"
	CodeTimeout         Code = "timeout"
	CodeTransport       Code = "transport"
	CodeClosed          Code = "closed"
	CodeBadReference    Code = "bad_reference"
	CodeNotSerializable Code = "not_serializable"
	CodeWrongConnection Code = "wrong_connection"
	CodeUnknownFormat   Code = "unknown_format"
	CodeNoSuchMethod    Code = "no_such_method"
	CodeUnhandled       Code = "unhandled"
)

// Error is a structured, classifiable error.
type Error struct {
	Stage Stage
	Code  Code
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("bjsonrpc: %s (%s): %v", e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("bjsonrpc: %s (%s)", e.Stage, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds an Error for the given stage/code, optionally wrapping cause.
func Wrap(stage Stage, code Code, cause error) error {
	return &Error{Stage: stage, Code: code, Err: cause}
}

// ServerError is the application-level failure kind: a handler-signaled
// expected error, surfaced verbatim to the caller as its message. Unlike
// Error, it carries no Code — it is exactly what the remote handler said.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return e.Message }

// NewServerError builds a ServerError carrying msg verbatim.
func NewServerError(msg string) error {
	return &ServerError{Message: msg}
}
