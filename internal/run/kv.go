package run

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/durablehost/go-sdk/internal/registry"
	"github.com/durablehost/go-sdk/internal/rpc"
)

// KV is one of the three namespaced key/value handles bound into a
// Context — kv (workflow:<id>), globalKv (org:<id>), runKv (run:<id>), per
// spec §3. Every operation is journaled: the idempotencyKey the caller
// supplies doubles as the pending-call registry's userKey, so retries
// across a process restart observe the same in-flight call.
type KV struct {
	namespace string
	runID     string
	client    *rpc.Client
	registry  *registry.Registry
}

func newKV(namespace, runID string, client *rpc.Client, reg *registry.Registry) *KV {
	return &KV{namespace: namespace, runID: runID, client: client, registry: reg}
}

// Get journals SEND_KV_GET and suspends until RESOLVE_KV_GET. value is the
// raw JSON the orchestrator returned; it is nil if the key was never set.
func (k *KV) Get(ctx context.Context, idempotencyKey string) (json.RawMessage, error) {
	raw, err := k.journal(ctx, registry.KindKVGet, rpc.MethodSendKVGet, idempotencyKey, map[string]any{
		"runId":     k.runID,
		"key":       idempotencyKey,
		"namespace": k.namespace,
		"timestamp": nanoTimestamp(),
	})
	if err != nil {
		return nil, err
	}
	var decoded struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("run: kv get: malformed resolution: %w", err)
	}
	return decoded.Value, nil
}

// Set journals SEND_KV_SET and suspends until RESOLVE_KV_SET.
func (k *KV) Set(ctx context.Context, idempotencyKey string, value any) error {
	_, err := k.journal(ctx, registry.KindKVSet, rpc.MethodSendKVSet, idempotencyKey, map[string]any{
		"runId":     k.runID,
		"key":       idempotencyKey,
		"namespace": k.namespace,
		"value":     value,
		"timestamp": nanoTimestamp(),
	})
	return err
}

// Delete journals SEND_KV_DELETE and suspends until RESOLVE_KV_DELETE.
func (k *KV) Delete(ctx context.Context, idempotencyKey string) error {
	_, err := k.journal(ctx, registry.KindKVDelete, rpc.MethodSendKVDelete, idempotencyKey, map[string]any{
		"runId":     k.runID,
		"key":       idempotencyKey,
		"namespace": k.namespace,
		"timestamp": nanoTimestamp(),
	})
	return err
}

// journal implements the journaled-intent pattern shared by every kv
// operation: register the pending call, send the intent RPC, wait for the
// matching RESOLVE_*/REJECT_* to fulfill it.
func (k *KV) journal(ctx context.Context, kind registry.Kind, method, userKey string, payload any) (json.RawMessage, error) {
	return journal(ctx, k.client, k.registry, kind, method, k.runID, userKey, payload)
}
