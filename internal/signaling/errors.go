package signaling

import (
	"errors"
	"fmt"
)

var (
	ErrSignaling    = errors.New("signaling error")
	ErrRoomCreation = errors.New("room creation failed")
	ErrFeedClosed   = errors.New("candidate feed closed")
)

// Error describes a failed signaling request. Err is one of the sentinel
// errors above; Cause is the transport or decoding failure, if any.
type Error struct {
	Op         string
	Err        error
	Cause      error
	StatusCode int
	Details    string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Err)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Details != "" {
		msg += fmt.Sprintf(" (%s)", e.Details)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func newError(op string, kind, cause error) *Error {
	return &Error{Op: op, Err: kind, Cause: cause}
}

func statusError(op string, kind error, status int, body string) *Error {
	return &Error{Op: op, Err: kind, StatusCode: status, Details: body}
}
