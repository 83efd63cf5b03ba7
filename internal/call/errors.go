package call

import (
	"errors"
	"fmt"
)

var (
	ErrMediaAcquisition = errors.New("media acquisition failed")
	ErrNegotiation      = errors.New("negotiation failed")
	ErrConnectionFailed = errors.New("connection failed")
	ErrClosed           = errors.New("call closed")
	ErrInvalidState     = errors.New("invalid call state")
)

// Error reports which step of a call failed. Kind is one of the sentinel
// errors above and Err the underlying cause.
type Error struct {
	Op    string
	Kind  error
	Err   error
	State State
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.State != "" {
		msg += fmt.Sprintf(" (state %s)", e.State)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}
