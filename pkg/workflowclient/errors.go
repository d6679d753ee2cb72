package workflowclient

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when the capability pre-check fails. No
// network call is made; the fixed copy below is the user-facing message.
var ErrUnauthorized = errors.New("you are not allowed to perform this action")

// NetworkError wraps a transport failure: the request never reached the
// server or timed out. The user-facing copy is fixed and never echoes
// transport internals.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "could not reach the server, please check your connection and try again"
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RemoteRejected carries a server-side refusal. Message is the server's
// error string verbatim; it is the only failure class that surfaces
// server-supplied text.
type RemoteRejected struct {
	StatusCode int
	Message    string
}

func (e *RemoteRejected) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request rejected by server (status %d)", e.StatusCode)
}
