package run

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/durablehost/go-sdk/internal/ambient"
	"github.com/durablehost/go-sdk/internal/registry"
	"github.com/durablehost/go-sdk/internal/rpc"
	"github.com/durablehost/go-sdk/internal/schema"
)

// State is the per-run lifecycle state, per spec §4.F's state machine:
// READY → VALIDATING → RUNNING → (COMPLETED | ERRORED).
type State int

const (
	StateReady State = iota
	StateValidating
	StateRunning
	StateCompleted
	StateErrored
)

// HandlerFunc is a registered workflow's run function. input is the raw
// trigger event, already validated against the workflow's InputSchema.
// The returned value is serialized and sent as COMPLETE_WORKFLOW_RUN's
// output.
type HandlerFunc func(ctx context.Context, input json.RawMessage, rc *Context) (any, error)

// Workflow is one registered workflow: its identity, input schema, and
// handler. The public generics-based RegisterWorkflow wraps user input/
// output types down to this shape.
type Workflow struct {
	ID          string
	Name        string
	InputSchema schema.Schema
	Handler     HandlerFunc
}

// Executor owns the set of registered workflows and handles every inbound
// TRIGGER_WORKFLOW by running the matching workflow's handler to
// completion, per spec §4.F. One goroutine is spawned per run so
// concurrent runs never block each other — unlike the teacher's
// single-worker backup queue, nothing here serializes runs because the
// orchestrator, not local disk I/O, is the shared resource being
// protected.
type Executor struct {
	client   *rpc.Client
	registry *registry.Registry
	logger   *zap.Logger

	mu        sync.RWMutex
	workflows map[string]*Workflow

	dashboardURLMu sync.RWMutex
	dashboardURL   string
}

// New creates an Executor and registers it as the TRIGGER_WORKFLOW handler
// on client.
func New(client *rpc.Client, reg *registry.Registry, logger *zap.Logger) *Executor {
	e := &Executor{
		client:    client,
		registry:  reg,
		logger:    logger.Named("run"),
		workflows: make(map[string]*Workflow),
	}
	client.Handle(rpc.MethodTriggerWorkflow, e.handleTrigger)
	bindResolvers(client, reg, logger)
	return e
}

// Register adds a workflow. Must be called before Listen connects, so no
// TRIGGER_WORKFLOW for it arrives before a handler exists.
func (e *Executor) Register(wf *Workflow) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[wf.ID] = wf
}

// SetDashboardURL updates the URL reported in the attempt-0 log line,
// called by the owning client after each successful registration
// handshake with the record's URL field.
func (e *Executor) SetDashboardURL(url string) {
	e.dashboardURLMu.Lock()
	e.dashboardURL = url
	e.dashboardURLMu.Unlock()
}

func (e *Executor) dashboard() string {
	e.dashboardURLMu.RLock()
	defer e.dashboardURLMu.RUnlock()
	return e.dashboardURL
}

// triggerPayload is the shape of a TRIGGER_WORKFLOW request, per spec §6's
// literal example: {id, trigger:{input}, meta:{...}}.
type triggerPayload struct {
	ID      string `json:"id"`
	Trigger struct {
		Input json.RawMessage `json:"input"`
	} `json:"trigger"`
	Meta struct {
		Attempt        int    `json:"attempt"`
		WorkflowID     string `json:"workflowId"`
		Environment    string `json:"environment"`
		OrganizationID string `json:"organizationId"`
		IsTest         bool   `json:"isTest"`
		AppOrigin      string `json:"appOrigin"`
		APIKey         string `json:"apiKey"`
	} `json:"meta"`
}

// handleTrigger is installed as the rpc.Handler for TRIGGER_WORKFLOW. It
// returns a boolean ack (true) for every payload that decodes — run
// failures are reported to the orchestrator via SEND_WORKFLOW_ERROR, not by
// rejecting the inbound RPC. Only a payload that does not decode is
// answered with an error.
func (e *Executor) handleTrigger(ctx context.Context, payload json.RawMessage) (any, error) {
	var trigger triggerPayload
	if err := json.Unmarshal(payload, &trigger); err != nil {
		return nil, fmt.Errorf("run: malformed TRIGGER_WORKFLOW payload: %w", err)
	}

	meta := Meta{
		RunID:          trigger.ID,
		Environment:    trigger.Meta.Environment,
		APIKey:         trigger.Meta.APIKey,
		OrganizationID: trigger.Meta.OrganizationID,
		IsTest:         trigger.Meta.IsTest,
		WorkflowID:     trigger.Meta.WorkflowID,
		AppOrigin:      trigger.Meta.AppOrigin,
		Attempt:        trigger.Meta.Attempt,
	}

	e.mu.RLock()
	wf, ok := e.workflows[meta.WorkflowID]
	e.mu.RUnlock()

	if !ok {
		e.logger.Error("no workflow registered for id", zap.String("workflow_id", meta.WorkflowID))
		return true, nil
	}

	// One goroutine per run: the inbound dispatch goroutine that called us
	// (see rpc.Client.readLoop) must return promptly so other inbound
	// frames keep flowing, per spec §5's "handlers may complete out of
	// order" — a long-running user function must not stall the read loop.
	go e.run(wf, meta, trigger.Trigger.Input)

	return true, nil
}

// run executes one workflow invocation end to end: validate (READY →
// VALIDATING), install ambient state and invoke (→ RUNNING), then report
// (→ COMPLETED | ERRORED). Suspensions inside the handler do not surface
// as a state change — the run stays RUNNING while a journaled call is
// outstanding, per spec §4.F's state machine.
func (e *Executor) run(wf *Workflow, meta Meta, input json.RawMessage) {
	ctx := context.Background()

	if wf.InputSchema != nil {
		if err := schema.ValidateJSON(wf.InputSchema, input); err != nil {
			e.logger.Warn("event validation failed", zap.String("run_id", meta.RunID), zap.Error(err))
			e.sendWorkflowError(ctx, meta.RunID, workflowError{
				Name:    "Event validation error",
				Message: schema.Flatten(err),
			})
			e.registry.ClearRun(meta.RunID)
			return
		}
	}

	rc := newContext(meta, e.client, e.registry, e.logger.With(zap.String("run_id", meta.RunID)))
	runCtx := ambient.With(ctx, rc.ambientBundle())

	if _, err := e.client.Send(ctx, rpc.MethodStartWorkflowRun, map[string]any{
		"runId":     meta.RunID,
		"timestamp": nanoTimestamp(),
	}); err != nil {
		// Per spec §4.F step 7: if the transport call itself fails, the raw
		// cause becomes the workflow error — there is no "running" state to
		// have entered.
		e.sendWorkflowError(ctx, meta.RunID, normalize(err, nil, ""))
		e.registry.ClearRun(meta.RunID)
		return
	}

	if meta.Attempt == 0 {
		if url := e.dashboard(); url != "" {
			e.logger.Info("workflow run started",
				zap.String("run_id", meta.RunID),
				zap.String("workflow_id", meta.WorkflowID),
				zap.String("dashboard_url", url),
			)
		}
	}

	output, wErr := e.invoke(runCtx, wf, input, rc)
	if wErr != nil {
		e.sendWorkflowError(ctx, meta.RunID, *wErr)
		e.registry.ClearRun(meta.RunID)
		return
	}

	outputJSON, marshalErr := json.Marshal(output)
	if marshalErr != nil {
		err := normalize(fmt.Errorf("run: failed to marshal workflow output: %w", marshalErr), nil, "")
		e.sendWorkflowError(ctx, meta.RunID, err)
		e.registry.ClearRun(meta.RunID)
		return
	}

	if _, err := e.client.Send(ctx, rpc.MethodCompleteWorkflow, map[string]any{
		"runId":     meta.RunID,
		"output":    string(outputJSON),
		"timestamp": nanoTimestamp(),
	}); err != nil {
		e.logger.Error("COMPLETE_WORKFLOW_RUN failed", zap.String("run_id", meta.RunID), zap.Error(err))
	}
	e.registry.ClearRun(meta.RunID)
}

// invoke runs the user handler, recovering a panic and normalizing either
// form (returned error or recovered panic value) into the wire error
// shape, per spec §4.F step 6 / §9's tagged-union classifier. A nil
// *workflowError means the handler succeeded.
func (e *Executor) invoke(ctx context.Context, wf *Workflow, input json.RawMessage, rc *Context) (out any, wErr *workflowError) {
	defer func() {
		if r := recover(); r != nil {
			normalized := normalize(nil, r, string(debug.Stack()))
			wErr = &normalized
		}
	}()

	result, callErr := wf.Handler(ctx, input, rc)
	if callErr != nil {
		normalized := normalize(callErr, nil, "")
		return nil, &normalized
	}
	return result, nil
}

func (e *Executor) sendWorkflowError(ctx context.Context, runID string, wErr workflowError) {
	if _, err := e.client.Send(ctx, rpc.MethodSendWorkflowError, map[string]any{
		"runId": runID,
		"error": wErr,
		"timestamp": nanoTimestamp(),
	}); err != nil {
		e.logger.Error("SEND_WORKFLOW_ERROR failed", zap.String("run_id", runID), zap.Error(err))
	}
}
