package durablehost

import (
	"context"
	"encoding/json"
	"time"

	"github.com/durablehost/go-sdk/internal/run"
)

// Duration is the relative form accepted by Context.WaitFor.
type Duration = run.Duration

// FetchOptions configures Context.Fetch.
type FetchOptions = run.FetchOptions

// FetchResult is the outcome of Context.Fetch.
type FetchResult = run.FetchResult

// RetryOptions bounds fetch retry attempts.
type RetryOptions = run.RetryOptions

// Meta carries the run attributes available from the trigger event:
// environment, apiKey, organizationId, isTest, workflowId, appOrigin, and
// attempt number.
type Meta = run.Meta

// Context is the per-run structure handed to a registered Handler:
// identifiers, three namespaced kv handles, a logger, fetch, event
// emission, delay, and runOnce/runOnceLocalOnly. It is invalid to retain
// past the handler's return.
type Context struct {
	inner *run.Context

	KV       *KV
	GlobalKV *KV
	RunKV    *KV
}

func newContext(rc *run.Context) *Context {
	return &Context{
		inner:    rc,
		KV:       &KV{inner: rc.KV},
		GlobalKV: &KV{inner: rc.GlobalKV},
		RunKV:    &KV{inner: rc.RunKV},
	}
}

// Meta returns this run's identifiers and trigger attributes.
func (c *Context) Meta() Meta { return c.inner.Meta }

// Log sends a fire-and-forget log line to the orchestrator and mirrors it
// to the local structured logger. level is one of "debug", "info", "warn",
// "error"; anything else is logged locally at "info" and forwarded to the
// orchestrator with the level string as given.
func (c *Context) Log(ctx context.Context, level, message string) {
	c.inner.Log(ctx, level, message)
}

// SendEvent journals SEND_EVENT, fire-and-forget.
func (c *Context) SendEvent(ctx context.Context, name string, payload any) error {
	return c.inner.SendEvent(ctx, name, payload)
}

// Fetch performs a journaled HTTP-shaped request through the orchestrator
// and suspends until it resolves. When opts.ResponseSchema is non-nil, the
// resolved body is validated against it before being returned.
func (c *Context) Fetch(ctx context.Context, key, url string, opts FetchOptions) (FetchResult, error) {
	return c.inner.Fetch(ctx, key, url, opts)
}

// WaitFor suspends the run for a relative duration.
func (c *Context) WaitFor(ctx context.Context, key string, d Duration) error {
	return c.inner.WaitFor(ctx, key, d)
}

// WaitUntil suspends the run until an absolute point in time.
func (c *Context) WaitUntil(ctx context.Context, key string, at time.Time) error {
	return c.inner.WaitUntil(ctx, key, at)
}

// RunOnce executes cb at most once across every replay of this run,
// identified by key. On a replay where the orchestrator already has a
// cached result, cb is skipped and out is populated from that result
// instead.
func (c *Context) RunOnce(ctx context.Context, key string, out any, cb func() (any, error)) error {
	return c.inner.RunOnce(ctx, key, out, cb)
}

// RunOnceLocalOnly journals bookkeeping for key but always invokes cb
// locally — its result is never cached by the orchestrator.
func (c *Context) RunOnceLocalOnly(ctx context.Context, key string, cb func() (any, error)) (any, error) {
	return c.inner.RunOnceLocalOnly(ctx, key, cb)
}

// PerformRequest journals a SEND_REQUEST call against service/endpoint and
// suspends until it resolves. When responseSchema is non-nil, the result is
// validated against it before being returned.
func (c *Context) PerformRequest(ctx context.Context, key, service, endpoint string, params any, version string, responseSchema Schema) (json.RawMessage, error) {
	return c.inner.PerformRequest(ctx, key, service, endpoint, params, version, responseSchema)
}

// KV is a namespaced key/value handle backed by the orchestrator's
// persisted store.
type KV struct {
	inner *run.KV
}

// Get returns the stored value for idempotencyKey, or a nil value if
// nothing has been stored under that key yet.
func (k *KV) Get(ctx context.Context, idempotencyKey string) (json.RawMessage, error) {
	return k.inner.Get(ctx, idempotencyKey)
}

// Set stores value under idempotencyKey.
func (k *KV) Set(ctx context.Context, idempotencyKey string, value any) error {
	return k.inner.Set(ctx, idempotencyKey, value)
}

// Delete removes idempotencyKey.
func (k *KV) Delete(ctx context.Context, idempotencyKey string) error {
	return k.inner.Delete(ctx, idempotencyKey)
}
