// Package run implements the run executor and per-run Context — components
// F and G. It receives TRIGGER_WORKFLOW, validates the event against the
// workflow's input schema, builds a Context, and invokes the user function
// under run-scoped ambient state, grounded on the teacher's job executor
// (agent/internal/executor/executor.go): a queue-free, one-goroutine-per-run
// variant of the same "deserialize, report running, do the work, report
// terminal status" shape.
package run

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/durablehost/go-sdk/internal/ambient"
	"github.com/durablehost/go-sdk/internal/registry"
	"github.com/durablehost/go-sdk/internal/rpc"
	"github.com/durablehost/go-sdk/internal/schema"
)

// Meta carries the run attributes available from TRIGGER_WORKFLOW, per
// spec §3's Run data model.
type Meta struct {
	RunID          string
	Environment    string
	APIKey         string
	OrganizationID string
	IsTest         bool
	WorkflowID     string
	AppOrigin      string
	Attempt        int
}

// RetryOptions bounds fetch retry attempts; re-exported from ambient so
// callers only import one package for the option types.
type RetryOptions = ambient.RetryOptions

// FetchOptions configures Context.Fetch; re-exported from ambient.
type FetchOptions = ambient.FetchOptions

// FetchResult is the outcome of Context.Fetch; re-exported from ambient.
type FetchResult = ambient.FetchResult

// Duration is the relative form accepted by WaitFor, per spec §4.F.
type Duration struct {
	Seconds int `json:"seconds,omitempty"`
	Minutes int `json:"minutes,omitempty"`
	Hours   int `json:"hours,omitempty"`
	Days    int `json:"days,omitempty"`
}

// Context is the per-run structure handed to user workflow code, per
// spec §3: identifiers, three namespaced kv handles, a logger, fetch,
// event emission, delay, and runOnce/runOnceLocalOnly. It is invalid to
// retain past run completion.
type Context struct {
	Meta Meta

	KV       *KV
	GlobalKV *KV
	RunKV    *KV

	logger *zap.Logger

	client   *rpc.Client
	registry *registry.Registry
}

func newContext(meta Meta, client *rpc.Client, reg *registry.Registry, logger *zap.Logger) *Context {
	return &Context{
		Meta:     meta,
		KV:       newKV("workflow:"+meta.WorkflowID, meta.RunID, client, reg),
		GlobalKV: newKV("org:"+meta.OrganizationID, meta.RunID, client, reg),
		RunKV:    newKV("run:"+meta.RunID, meta.RunID, client, reg),
		logger:   logger,
		client:   client,
		registry: reg,
	}
}

// Logger returns the per-run structured logger. Lines written to it stay
// local; Log is the method that also forwards to the orchestrator via
// SEND_LOG.
func (c *Context) Logger() *zap.Logger { return c.logger }

// Log sends a fire-and-forget SEND_LOG call and mirrors it to the local
// logger, per spec §4.F's "sendEvent / logger" operation.
func (c *Context) Log(ctx context.Context, level, message string) {
	switch level {
	case "error":
		c.logger.Error(message)
	case "warn":
		c.logger.Warn(message)
	case "debug":
		c.logger.Debug(message)
	default:
		c.logger.Info(message)
	}

	_, err := c.client.Send(ctx, rpc.MethodSendLog, map[string]any{
		"runId":     c.Meta.RunID,
		"level":     level,
		"message":   message,
		"timestamp": nanoTimestamp(),
	})
	if err != nil {
		c.logger.Debug("SEND_LOG failed", zap.Error(err))
	}
}

// SendEvent journals SEND_EVENT, fire-and-forget. payload is round-tripped
// through JSON to strip non-serializable content before it is sent.
func (c *Context) SendEvent(ctx context.Context, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("run: sendEvent: failed to marshal payload: %w", err)
	}
	var roundTripped any
	if err := json.Unmarshal(data, &roundTripped); err != nil {
		return fmt.Errorf("run: sendEvent: failed to round-trip payload: %w", err)
	}

	_, err = c.client.Send(ctx, rpc.MethodSendEvent, map[string]any{
		"runId":     c.Meta.RunID,
		"name":      name,
		"payload":   roundTripped,
		"timestamp": nanoTimestamp(),
	})
	return err
}

// Fetch journals SEND_FETCH and suspends until RESOLVE_FETCH_REQUEST,
// per spec §4.F. If opts carries a ResponseSchema, the body is validated
// against it before being returned.
func (c *Context) Fetch(ctx context.Context, key, url string, opts FetchOptions) (FetchResult, error) {
	method := opts.Method
	if method == "" {
		method = "GET"
	}

	raw, err := journal(ctx, c.client, c.registry, registry.KindFetch, rpc.MethodSendFetch, c.Meta.RunID, key, map[string]any{
		"runId":     c.Meta.RunID,
		"key":       key,
		"url":       url,
		"method":    method,
		"headers":   opts.Headers,
		"body":      opts.Body,
		"retry":     opts.Retry,
		"timestamp": nanoTimestamp(),
	})
	if err != nil {
		return FetchResult{}, err
	}

	var result FetchResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return FetchResult{}, fmt.Errorf("run: fetch: malformed resolution: %w", err)
	}

	if opts.ResponseSchema != nil {
		if err := schema.ValidateJSON(opts.ResponseSchema, result.Body); err != nil {
			return FetchResult{}, fmt.Errorf("run: fetch: response failed validation: %w", err)
		}
	}
	return result, nil
}

// WaitFor journals INITIALIZE_DELAY with a relative duration and suspends
// until RESOLVE_DELAY.
func (c *Context) WaitFor(ctx context.Context, key string, d Duration) error {
	_, err := journal(ctx, c.client, c.registry, registry.KindWait, rpc.MethodInitializeDelay, c.Meta.RunID, key, map[string]any{
		"runId": c.Meta.RunID,
		"key":   key,
		"wait": map[string]any{
			"type":    "DELAY",
			"seconds": d.Seconds,
			"minutes": d.Minutes,
			"hours":   d.Hours,
			"days":    d.Days,
		},
		"timestamp": nanoTimestamp(),
	})
	return err
}

// WaitUntil journals INITIALIZE_DELAY with an absolute timestamp and
// suspends until RESOLVE_DELAY.
func (c *Context) WaitUntil(ctx context.Context, key string, at time.Time) error {
	_, err := journal(ctx, c.client, c.registry, registry.KindWait, rpc.MethodInitializeDelay, c.Meta.RunID, key, map[string]any{
		"runId": c.Meta.RunID,
		"key":   key,
		"wait": map[string]any{
			"type": "SCHEDULE_FOR",
			"date": at.UTC().Format(time.RFC3339Nano),
		},
		"timestamp": nanoTimestamp(),
	})
	return err
}

// runOnceReply is the server's INITIALIZE_RUN_ONCE resolution shape, per
// spec §4.F.
type runOnceReply struct {
	IdempotencyKey string          `json:"idempotencyKey"`
	HasRun         bool            `json:"hasRun"`
	Output         json.RawMessage `json:"output,omitempty"`
}

// RunOnce journals INITIALIZE_RUN_ONCE{type:"REMOTE"}. If the orchestrator
// reports hasRun, cb is never invoked and the stored output (unmarshaled
// into out) is returned; otherwise cb runs locally exactly once and its
// result is both journaled via COMPLETE_RUN_ONCE and returned.
func (c *Context) RunOnce(ctx context.Context, key string, out any, cb func() (any, error)) error {
	raw, err := journal(ctx, c.client, c.registry, registry.KindRunOnce, rpc.MethodInitializeRunOnce, c.Meta.RunID, key, map[string]any{
		"runId":     c.Meta.RunID,
		"key":       key,
		"type":      "REMOTE",
		"timestamp": nanoTimestamp(),
	})
	if err != nil {
		return err
	}

	var reply runOnceReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return fmt.Errorf("run: runOnce: malformed resolution: %w", err)
	}

	if reply.HasRun {
		if out != nil && len(reply.Output) > 0 {
			if err := json.Unmarshal(reply.Output, out); err != nil {
				return fmt.Errorf("run: runOnce: failed to decode cached output: %w", err)
			}
		}
		return nil
	}

	result, err := cb()
	if err != nil {
		return err
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("run: runOnce: failed to marshal callback result: %w", err)
	}

	if _, err := c.client.Send(ctx, rpc.MethodCompleteRunOnce, map[string]any{
		"runId":          c.Meta.RunID,
		"key":            key,
		"idempotencyKey": reply.IdempotencyKey,
		"output":         string(resultJSON),
		"timestamp":      nanoTimestamp(),
	}); err != nil {
		return fmt.Errorf("run: runOnce: COMPLETE_RUN_ONCE failed: %w", err)
	}

	if out != nil {
		if err := json.Unmarshal(resultJSON, out); err != nil {
			return fmt.Errorf("run: runOnce: failed to decode callback result: %w", err)
		}
	}
	return nil
}

// RunOnceLocalOnly journals INITIALIZE_RUN_ONCE{type:"LOCAL_ONLY"}, awaits
// the reply for bookkeeping, then always runs cb locally — the
// orchestrator never caches its output, per spec §4.F.
func (c *Context) RunOnceLocalOnly(ctx context.Context, key string, cb func() (any, error)) (any, error) {
	_, err := journal(ctx, c.client, c.registry, registry.KindRunOnce, rpc.MethodInitializeRunOnce, c.Meta.RunID, key, map[string]any{
		"runId":     c.Meta.RunID,
		"key":       key,
		"type":      "LOCAL_ONLY",
		"timestamp": nanoTimestamp(),
	})
	if err != nil {
		return nil, err
	}
	return cb()
}

// PerformRequest is the outer-path, ambient operation described in spec
// §4.F: SEND_REQUEST awaited through the request pending-call table. When
// responseSchema is non-nil, the result is validated through it.
func (c *Context) PerformRequest(ctx context.Context, key, service, endpoint string, params any, version string, responseSchema schema.Schema) (json.RawMessage, error) {
	raw, err := journal(ctx, c.client, c.registry, registry.KindRequest, rpc.MethodSendRequest, c.Meta.RunID, key, map[string]any{
		"runId":     c.Meta.RunID,
		"key":       key,
		"service":   service,
		"endpoint":  endpoint,
		"params":    params,
		"version":   version,
		"timestamp": nanoTimestamp(),
	})
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("run: performRequest: malformed resolution: %w", err)
	}

	if responseSchema != nil {
		if err := schema.ValidateJSON(responseSchema, decoded.Value); err != nil {
			return nil, fmt.Errorf("run: performRequest: response failed validation: %w", err)
		}
	}
	return decoded.Value, nil
}

// ambientBundle builds the narrow capability set installed into
// context.Context for descendant async work that does not hold a direct
// reference to this Context, per spec §3/§4.G/§9.
func (c *Context) ambientBundle() *ambient.Bundle {
	return &ambient.Bundle{
		RunID:      c.Meta.RunID,
		WorkflowID: c.Meta.WorkflowID,
		AppOrigin:  c.Meta.AppOrigin,
		PerformRequest: func(ctx context.Context, service, endpoint string, params any, version string) ([]byte, error) {
			raw, err := c.PerformRequest(ctx, service+":"+endpoint, service, endpoint, params, version, nil)
			return raw, err
		},
		SendEvent: func(ctx context.Context, name string, payload any) error {
			return c.SendEvent(ctx, name, payload)
		},
		Fetch: func(ctx context.Context, key, url string, opts ambient.FetchOptions) (ambient.FetchResult, error) {
			return c.Fetch(ctx, key, url, opts)
		},
	}
}
