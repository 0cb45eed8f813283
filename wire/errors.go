package wire

import "errors"

var (
	errEmptyFrame          = errors.New("wire: empty frame")
	errUnsupportedTopLevel = errors.New("wire: top-level JSON value must be an object or an array of objects")
)
