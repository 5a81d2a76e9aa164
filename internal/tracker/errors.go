package tracker

import (
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	ErrReauthenticate ErrorKind = "reauthenticate"
	ErrPermission     ErrorKind = "permission"
	ErrNotFound       ErrorKind = "not_found"
	ErrGeneric        ErrorKind = "generic"
)

// StartError is returned when a session cannot be started.
type StartError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

// Error returns a message suitable for showing to the viewer.
func (e *StartError) Error() string {
	switch e.Kind {
	case ErrReauthenticate:
		return "your login has expired, please sign in again"
	case ErrPermission:
		return "you do not have access to this video"
	case ErrNotFound:
		return "this video could not be found"
	}
	if e.Err != nil {
		return fmt.Sprintf("could not start video tracking: %v", e.Err)
	}
	return fmt.Sprintf("could not start video tracking (status %d)", e.Status)
}

func (e *StartError) Unwrap() error { return e.Err }

func classifyStatus(status int) *StartError {
	kind := ErrGeneric
	switch status {
	case http.StatusUnauthorized:
		kind = ErrReauthenticate
	case http.StatusForbidden:
		kind = ErrPermission
	case http.StatusNotFound:
		kind = ErrNotFound
	}
	return &StartError{Kind: kind, Status: status}
}
