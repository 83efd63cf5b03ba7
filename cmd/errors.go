package cmd

import (
	"errors"
	"fmt"

	"github.com/Foodstream-io/livecall/internal/auth"
	"github.com/Foodstream-io/livecall/internal/call"
	"github.com/Foodstream-io/livecall/internal/session"
	"github.com/Foodstream-io/livecall/internal/signaling"
)

// cliError is what the commands return; Execute prints it.
type cliError struct {
	Op  string
	Err error
}

func (e *cliError) Error() string {
	if hint := hintFor(e.Err); hint != "" {
		return fmt.Sprintf("%s: %v\n   %s", e.Op, e.Err, hint)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *cliError) Unwrap() error {
	return e.Err
}

func newError(op string, err error) *cliError {
	return &cliError{Op: op, Err: err}
}

// hintFor suggests a fix for the failures users hit most.
func hintFor(err error) string {
	var se *signaling.Error
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return "log in again and pass the new token with --token or --token-file"
	case errors.As(err, &se) && se.StatusCode == 401:
		return "the server rejected the token; check --token or LIVECALL_TOKEN"
	case errors.As(err, &se) && se.StatusCode == 404:
		return "the endpoint was not found; try --api-prefix \"\" or --api-prefix /api"
	case errors.Is(err, call.ErrMediaAcquisition):
		return "check --video/--audio files, or use --no-video/--no-audio"
	case errors.Is(err, call.ErrConnectionFailed):
		return "direct connection failed; configure a TURN server with --turn"
	case errors.Is(err, session.ErrConflict):
		return "leave the current room first"
	}
	return ""
}
