package runner

import (
	"errors"
	"fmt"
)

// Kind classifies an invocation failure.
type Kind int

const (
	// KindOther is any failure without special handling; the message is
	// surfaced to the triggering author.
	KindOther Kind = iota

	// KindNotFound means the assistant binary is missing.
	KindNotFound

	// KindTimeout means the invocation exceeded its hard limit.
	KindTimeout

	// KindInvalidSession means the resume token was rejected. The caller
	// retries once without it.
	KindInvalidSession
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	case KindInvalidSession:
		return "invalid_session"
	default:
		return "other"
	}
}

// Error is a classified invocation failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from an error chain.
func KindOf(err error) Kind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return KindOther
}
