// Package errdefs defines the error taxonomy shared by the transfer backends,
// the archive installer and the session manager.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies a download error.
type Kind string

const (
	// KindDuplicate is returned when a target or destination is already in use.
	KindDuplicate Kind = "Duplicate"
	// KindConnect is returned when a source cannot be parsed or reached.
	KindConnect Kind = "Connect"
	// KindTransfer covers failures while bytes are moving.
	KindTransfer Kind = "Transfer"
	// KindExtract covers archive and filesystem failures during extraction.
	KindExtract Kind = "Extract"
	// KindNotFound is returned for unknown ids.
	KindNotFound Kind = "NotFound"
	// KindInvalid is returned for malformed requests.
	KindInvalid Kind = "Invalid"
)

// Error is the base error type for download-related errors
type Error struct {
	Kind    Kind
	ID      string
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if e.ID != "" {
		msg = fmt.Sprintf("%s (id %s)", msg, e.ID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether err (or anything it wraps) is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// NewDuplicateError creates an error for an id or destination that is already in use.
func NewDuplicateError(id, format string, args ...any) error {
	return &Error{Kind: KindDuplicate, ID: id, Message: fmt.Sprintf(format, args...)}
}

// NewConnectError creates an error for a source that could not be parsed or resolved.
func NewConnectError(id string, err error, format string, args ...any) error {
	return &Error{Kind: KindConnect, ID: id, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewTransferError creates an error for a transfer that broke mid-stream.
func NewTransferError(id string, err error, format string, args ...any) error {
	return &Error{Kind: KindTransfer, ID: id, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewExtractError creates an error for a failed archive extraction.
func NewExtractError(path string, err error) error {
	return &Error{Kind: KindExtract, Message: fmt.Sprintf("extracting %s", path), Err: err}
}

// NewNotFoundError creates an error for an unknown id.
func NewNotFoundError(id string) error {
	return &Error{Kind: KindNotFound, ID: id, Message: "no such download"}
}

// NewInvalidError creates an error for a malformed request.
func NewInvalidError(id string, err error) error {
	return &Error{Kind: KindInvalid, ID: id, Message: "invalid request", Err: err}
}
