package rpc

import "github.com/durablehost/go-sdk/internal/schema"

// Method names, verbatim from spec §3/§6.
const (
	MethodInitializeHostV2  = "INITIALIZE_HOST_V2"
	MethodStartWorkflowRun  = "START_WORKFLOW_RUN"
	MethodCompleteWorkflow  = "COMPLETE_WORKFLOW_RUN"
	MethodSendWorkflowError = "SEND_WORKFLOW_ERROR"
	MethodSendRequest       = "SEND_REQUEST"
	MethodSendFetch         = "SEND_FETCH"
	MethodSendEvent         = "SEND_EVENT"
	MethodSendLog           = "SEND_LOG"
	MethodInitializeDelay   = "INITIALIZE_DELAY"
	MethodInitializeRunOnce = "INITIALIZE_RUN_ONCE"
	MethodCompleteRunOnce   = "COMPLETE_RUN_ONCE"
	MethodSendKVGet         = "SEND_KV_GET"
	MethodSendKVSet         = "SEND_KV_SET"
	MethodSendKVDelete      = "SEND_KV_DELETE"

	MethodTriggerWorkflow   = "TRIGGER_WORKFLOW"
	MethodResolveDelay      = "RESOLVE_DELAY"
	MethodResolveRunOnce    = "RESOLVE_RUN_ONCE"
	MethodResolveRequest    = "RESOLVE_REQUEST"
	MethodRejectRequest     = "REJECT_REQUEST"
	MethodResolveFetch      = "RESOLVE_FETCH_REQUEST"
	MethodRejectFetch       = "REJECT_FETCH_REQUEST"
	MethodResolveKVGet      = "RESOLVE_KV_GET"
	MethodResolveKVSet      = "RESOLVE_KV_SET"
	MethodResolveKVDelete   = "RESOLVE_KV_DELETE"
)

var objectSchema = schema.Schema{"type": "object"}

// Methods whose response is a bare boolean acknowledgement rather than a
// typed value leave Method.Response nil, and the RPC layer treats absence
// of a Response schema as "validate nothing, expect {ok:true}".

// ClientToServer is the schema catalogue for calls this client originates.
var ClientToServer = Catalog{
	MethodInitializeHostV2: {
		Name: MethodInitializeHostV2,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"apiKey", "workflowId"},
		},
		Response: objectSchema, // tagged union {type:"success"|"error", ...}
	},
	MethodStartWorkflowRun: {
		Name: MethodStartWorkflowRun,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"runId"},
		},
	},
	MethodCompleteWorkflow: {
		Name: MethodCompleteWorkflow,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"runId", "output"},
		},
	},
	MethodSendWorkflowError: {
		Name: MethodSendWorkflowError,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"runId", "error"},
		},
	},
	MethodSendRequest: {
		Name: MethodSendRequest,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"runId", "key", "service", "endpoint"},
		},
		Response: objectSchema,
	},
	MethodSendFetch: {
		Name: MethodSendFetch,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"runId", "key", "url"},
		},
	},
	MethodSendEvent: {
		Name: MethodSendEvent,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"name"},
		},
	},
	MethodSendLog: {
		Name: MethodSendLog,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"level", "message"},
		},
	},
	MethodInitializeDelay: {
		Name: MethodInitializeDelay,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"runId", "key", "wait"},
		},
	},
	MethodInitializeRunOnce: {
		Name: MethodInitializeRunOnce,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"runId", "key", "type"},
		},
	},
	MethodCompleteRunOnce: {
		Name: MethodCompleteRunOnce,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"runId", "key", "idempotencyKey"},
		},
	},
	MethodSendKVGet: {
		Name: MethodSendKVGet,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"runId", "key", "namespace"},
		},
	},
	MethodSendKVSet: {
		Name: MethodSendKVSet,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"runId", "key", "namespace", "value"},
		},
	},
	MethodSendKVDelete: {
		Name: MethodSendKVDelete,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"runId", "key", "namespace"},
		},
	},
}

// ServerToClient is the schema catalogue for calls the orchestrator
// originates and this client handles.
var ServerToClient = Catalog{
	MethodTriggerWorkflow: {
		Name: MethodTriggerWorkflow,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"id", "trigger", "meta"},
		},
	},
	MethodResolveDelay: {
		Name: MethodResolveDelay,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"meta", "key"},
		},
	},
	MethodResolveRunOnce: {
		Name: MethodResolveRunOnce,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"meta", "key", "idempotencyKey", "hasRun"},
		},
	},
	MethodResolveRequest: {
		Name: MethodResolveRequest,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"meta", "key"},
		},
	},
	MethodRejectRequest: {
		Name: MethodRejectRequest,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"meta", "key", "error"},
		},
	},
	MethodResolveFetch: {
		Name: MethodResolveFetch,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"meta", "key"},
		},
	},
	MethodRejectFetch: {
		Name: MethodRejectFetch,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"meta", "key", "error"},
		},
	},
	MethodResolveKVGet: {
		Name: MethodResolveKVGet,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"meta", "key"},
		},
	},
	MethodResolveKVSet: {
		Name: MethodResolveKVSet,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"meta", "key"},
		},
	},
	MethodResolveKVDelete: {
		Name: MethodResolveKVDelete,
		Request: schema.Schema{
			"type":     "object",
			"required": []any{"meta", "key"},
		},
	},
}
