package protocol

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a DataError.
type ErrorKind string

const (
	KindNotFound      ErrorKind = "not_found"
	KindIO            ErrorKind = "io"
	KindParse         ErrorKind = "parse"
	KindTimeout       ErrorKind = "timeout"
	KindSerialization ErrorKind = "serialization"
	KindInvalid       ErrorKind = "invalid_request"
	KindInternal      ErrorKind = "internal"
)

// DataError is the only error type carried in a Reply.
type DataError struct {
	Kind ErrorKind
	// Name is the project name for KindNotFound.
	Name string
	// Path is the offending file for KindIO and KindParse.
	Path string
	// Reason is a human readable explanation for KindInvalid.
	Reason string
	Err    error
}

func (e *DataError) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("project %q not found", e.Name)
	case KindIO:
		return fmt.Sprintf("reading %s: %v", e.Path, e.Err)
	case KindParse:
		return fmt.Sprintf("parsing %s: %v", e.Path, e.Err)
	case KindTimeout:
		return "request timed out"
	case KindSerialization:
		return fmt.Sprintf("serializing response: %v", e.Err)
	case KindInvalid:
		return e.Reason
	default:
		if e.Err != nil {
			return fmt.Sprintf("internal error: %v", e.Err)
		}
		return "internal error"
	}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NotFound reports a project name that matched no discovered project.
func NotFound(name string) *DataError {
	return &DataError{Kind: KindNotFound, Name: name}
}

// IO reports a filesystem failure at path.
func IO(path string, err error) *DataError {
	return &DataError{Kind: KindIO, Path: path, Err: err}
}

// Parse reports malformed content in path.
func Parse(path string, err error) *DataError {
	return &DataError{Kind: KindParse, Path: path, Err: err}
}

// Timeout reports an expired caller deadline.
func Timeout(err error) *DataError {
	return &DataError{Kind: KindTimeout, Err: err}
}

// Serialization reports a payload that could not be encoded.
func Serialization(err error) *DataError {
	return &DataError{Kind: KindSerialization, Err: err}
}

// Invalid reports a request rejected before any work was done.
func Invalid(reason string) *DataError {
	return &DataError{Kind: KindInvalid, Reason: reason}
}

// Internal reports an unexpected failure inside a computation.
func Internal(err error) *DataError {
	return &DataError{Kind: KindInternal, Err: err}
}

// FromError converts any error into a DataError. Existing DataErrors are
// returned unchanged, context expiry becomes KindTimeout and everything
// else is KindInternal.
func FromError(err error) *DataError {
	if err == nil {
		return nil
	}
	var de *DataError
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Timeout(err)
	}
	return Internal(err)
}

// KindOf returns the kind of err, or "" when err is not a DataError.
func KindOf(err error) ErrorKind {
	var de *DataError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
