package durablehost

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/durablehost/go-sdk/internal/run"
	"github.com/durablehost/go-sdk/internal/schema"
)

// Schema is a JSON Schema document, expressed as a plain map so callers can
// write it as a Go literal without importing a schema-building package.
// RegisterWorkflow validates every incoming trigger event against it before
// the typed handler ever sees a decoded TInput.
type Schema = schema.Schema

// Handler is a typed workflow function. TInput has already been validated
// against the workflow's Schema (when one is supplied) and decoded from the
// trigger event; the returned TOutput is marshaled and sent back as the
// run's COMPLETE_WORKFLOW_RUN output.
type Handler[TInput, TOutput any] func(ctx context.Context, rc *Context, input TInput) (TOutput, error)

// RegisterWorkflow binds fn as the handler for the workflow identity client
// was constructed with (WithWorkflow), generalizing the untyped
// run.Workflow/run.HandlerFunc pair the executor actually dispatches: it
// decodes the trigger payload into TInput once validation passes, and
// marshals whatever fn returns. Call before Listen.
func RegisterWorkflow[TInput, TOutput any](client *Client, inputSchema Schema, fn Handler[TInput, TOutput]) {
	id := client.cfg.workflowID
	client.executor.Register(&run.Workflow{
		ID:          id,
		Name:        client.cfg.workflowName,
		InputSchema: inputSchema,
		Handler: func(ctx context.Context, raw json.RawMessage, rc *run.Context) (any, error) {
			var input TInput
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &input); err != nil {
					return nil, fmt.Errorf("durablehost: failed to decode trigger input for %s: %w", id, err)
				}
			}
			return fn(ctx, newContext(rc), input)
		},
	})
}
