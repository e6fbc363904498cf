package processor

import (
	"errors"
	"fmt"
)

// Kind classifies the failures that abort a request.
type Kind string

const (
	// KindValidation is a malformed inbound message. Nothing was touched.
	KindValidation Kind = "VALIDATION"
	// KindStoreUnavailable means the dedup or conversation store failed.
	KindStoreUnavailable Kind = "STORE_UNAVAILABLE"
)

type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("processor: %s (%s)", e.Kind, e.Reason)
	}
	return fmt.Sprintf("processor: %s (%s): %v", e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf returns the kind of a processor error, or "" for anything else.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
