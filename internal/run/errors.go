package run

import (
	"errors"
	"fmt"
)

// Named lets user code attach a custom name to an error, mirroring the
// "any object exposing name/message" arm of the normalization classifier
// in spec terms — the idiomatic Go analogue of a reflected exception with
// a custom constructor name.
type Named interface {
	error
	WorkflowErrorName() string
}

// namedError is the concrete type returned by NewNamedError.
type namedError struct {
	name string
	err  error
}

// NewNamedError wraps err so it reports name when normalized into a
// SEND_WORKFLOW_ERROR payload instead of the default classifier name.
func NewNamedError(name string, err error) error {
	return &namedError{name: name, err: err}
}

func (e *namedError) Error() string          { return e.err.Error() }
func (e *namedError) Unwrap() error          { return e.err }
func (e *namedError) WorkflowErrorName() string { return e.name }

// workflowError is the wire shape of SEND_WORKFLOW_ERROR's error field,
// per spec §4.F's normalization step.
type workflowError struct {
	Name       string `json:"name"`
	Message    string `json:"message"`
	StackTrace string `json:"stackTrace,omitempty"`
}

// rejectionError is what a REJECT_* reply becomes at the suspension
// point, per spec §7's "journaled call rejection propagated as a thrown
// error".
type rejectionError struct {
	name    string
	message string
}

func (e *rejectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.name, e.message)
}

// unknownErrorName and unknownErrorMessage form the classifier's fallback
// arm, used when a panic value is neither an error nor a string. A string
// panic value keeps unknownErrorName but uses its own text as the message.
const unknownErrorName = "UnknownError"
const unknownErrorMessage = "An unknown error occurred"

// normalize converts a user function failure into the wire error shape.
// recovered, when non-nil, is a panic value recovered from the user
// function and takes precedence over err.
func normalize(err error, recovered any, stack string) workflowError {
	if recovered != nil {
		if asErr, ok := recovered.(error); ok {
			return normalizeError(asErr, stack)
		}
		if s, ok := recovered.(string); ok {
			return workflowError{Name: unknownErrorName, Message: s, StackTrace: stack}
		}
		return workflowError{Name: unknownErrorName, Message: unknownErrorMessage, StackTrace: stack}
	}
	if err != nil {
		return normalizeError(err, stack)
	}
	return workflowError{Name: unknownErrorName, Message: unknownErrorMessage, StackTrace: stack}
}

func normalizeError(err error, stack string) workflowError {
	var named Named
	if errors.As(err, &named) {
		return workflowError{Name: named.WorkflowErrorName(), Message: named.Error(), StackTrace: stack}
	}
	var rej *rejectionError
	if errors.As(err, &rej) {
		return workflowError{Name: rej.name, Message: rej.message, StackTrace: stack}
	}
	return workflowError{Name: "Error", Message: err.Error(), StackTrace: stack}
}
