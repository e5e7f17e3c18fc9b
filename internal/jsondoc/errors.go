package jsondoc

import "errors"

// Error kinds. Every error returned by this package wraps exactly one of
// these, so callers can classify failures with errors.Is.
var (
	ErrFileNotFound = errors.New("file not found")
	ErrParse        = errors.New("invalid JSON")
	ErrEmptyInput   = errors.New("no input documents")
	ErrTypeMismatch = errors.New("top-level value is not an object")
	ErrIO           = errors.New("i/o error")
)
