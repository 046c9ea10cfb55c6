package attendance

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures.
type Kind string

const (
	KindInvalidLocation    Kind = "InvalidLocation"
	KindOutOfRange         Kind = "OutOfRange"
	KindMissingField       Kind = "MissingField"
	KindInvalidTimestamp   Kind = "InvalidTimestamp"
	KindInvalidStaff       Kind = "InvalidStaff"
	KindAlreadyCheckedIn   Kind = "AlreadyCheckedIn"
	KindAlreadyCompleted   Kind = "AlreadyCompleted"
	KindNotAuthorized      Kind = "NotAuthorized"
	KindStorageUnavailable Kind = "StorageUnavailable"
)

// Error is the engine's error type. Message is safe to show to callers.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

func storageError(op string, err error) *Error {
	return &Error{Kind: KindStorageUnavailable, Message: op + " failed", Err: err}
}

// KindOf returns the kind carried by err. Foreign errors count as storage failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorageUnavailable
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
