package durablehost

import (
	"github.com/durablehost/go-sdk/internal/registry"
	"github.com/durablehost/go-sdk/internal/rpc"
)

// ErrTimeout is returned by any context operation whose correlating RPC
// response does not arrive within the RPC layer's timeout.
var ErrTimeout = rpc.ErrTimeout

// ErrRunTornDown is returned to a call still pending when its run completes
// or errors before a RESOLVE_*/REJECT_* for it arrives.
var ErrRunTornDown = registry.ErrRunTornDown

// NamedError lets a workflow handler control the "name" field of the
// SEND_WORKFLOW_ERROR sent to the orchestrator, instead of falling back to
// the generic "Error" classification a plain error gets.
type NamedError interface {
	error
	WorkflowErrorName() string
}

// namedError is the concrete NamedError returned by NewNamedError.
type namedError struct {
	name string
	err  error
}

// NewNamedError wraps err so a workflow handler returning it produces a
// SEND_WORKFLOW_ERROR with error.name == name instead of the generic
// classification plain errors receive.
func NewNamedError(name string, err error) error {
	return &namedError{name: name, err: err}
}

func (e *namedError) Error() string            { return e.err.Error() }
func (e *namedError) Unwrap() error            { return e.err }
func (e *namedError) WorkflowErrorName() string { return e.name }

var _ NamedError = (*namedError)(nil)
