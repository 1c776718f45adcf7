package domain

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is returned when a board operation runs without a signed-in user.
var ErrUnauthenticated = errors.New("no authenticated user")

// ValidationError reports client-detectable bad input. It is raised before
// any gateway call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a task id unknown to the gateway or the board.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.ID)
}

// GatewayError wraps any failure of a gateway call.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// MalformedRecordError reports a pushed record whose status matches no column.
type MalformedRecordError struct {
	ID     string
	Status string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("task %s has unknown status %q", e.ID, e.Status)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
