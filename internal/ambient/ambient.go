// Package ambient carries the per-run capability bundle (performRequest,
// sendEvent, fetch, and run identity) through arbitrary asynchronous work
// spawned from a workflow function, without any package-level state.
//
// Go has no implicit task-local storage, so the bundle rides on
// context.Context — the idiomatic Go equivalent of the host language's
// async-local storage. Any goroutine that inherits a context derived from
// the run's context (via context.WithCancel, context.WithTimeout, or a
// plain pass-through) can still retrieve the same bundle with From.
package ambient

import (
	"context"
	"encoding/json"

	"github.com/durablehost/go-sdk/internal/schema"
)

// Bundle is the capability set installed for the duration of a single run.
// Two concurrently executing runs hold distinct Bundles; nothing here is
// shared mutable state.
type Bundle struct {
	// RunID is the identifier of the run this bundle belongs to.
	RunID string

	// WorkflowID is the registered workflow identifier for this run.
	WorkflowID string

	// AppOrigin is the orchestrator-reported origin URL for this run's app.
	AppOrigin string

	// PerformRequest issues the "outer" request/event RPC (SEND_REQUEST)
	// used by code that runs outside the direct workflow call frame but
	// still needs to reach the orchestrator.
	PerformRequest func(ctx context.Context, service, endpoint string, params any, version string) ([]byte, error)

	// SendEvent fire-and-forgets an event to the orchestrator.
	SendEvent func(ctx context.Context, name string, payload any) error

	// Fetch performs a journaled outbound HTTP call through the orchestrator.
	Fetch func(ctx context.Context, key, url string, opts FetchOptions) (FetchResult, error)
}

// FetchOptions mirrors the options accepted by the context.Fetch operation.
type FetchOptions struct {
	Method  string
	Headers map[string]string
	Body    any
	Retry   *RetryOptions

	// ResponseSchema, when non-nil, validates the resolved body before
	// Fetch returns it — the same round-trip law PerformRequest enforces
	// for its response.
	ResponseSchema schema.Schema
}

// RetryOptions configures orchestrator-side retry of a journaled fetch.
type RetryOptions struct {
	MaxAttempts int
}

// FetchResult is the orchestrator's reply to a journaled fetch. Body is
// kept as raw JSON rather than []byte because a fetch response body may be
// a structured JSON value (object, array, number) rather than a string —
// unmarshaling straight into []byte would reject anything but a base64
// string.
type FetchResult struct {
	Status  int
	OK      bool
	Headers map[string]string
	Body    json.RawMessage
}

type bundleKey struct{}

// With returns a new context carrying b. Exiting the returned context's
// scope (letting it be garbage collected) discards the binding — there is
// no explicit teardown step required.
func With(ctx context.Context, b *Bundle) context.Context {
	return context.WithValue(ctx, bundleKey{}, b)
}

// From retrieves the bundle installed by the nearest enclosing With call.
// ok is false if ctx was never derived from a With context — e.g. it
// belongs to no run, or the run already completed and the context was not
// retained.
func From(ctx context.Context) (*Bundle, bool) {
	b, ok := ctx.Value(bundleKey{}).(*Bundle)
	return b, ok
}
