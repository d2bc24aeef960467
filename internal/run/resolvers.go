package run

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/durablehost/go-sdk/internal/registry"
	"github.com/durablehost/go-sdk/internal/rpc"
)

// resolveEnvelope is the common shape every RESOLVE_*/REJECT_* call
// carries: {meta:{runId}, key, ...}, per spec §6.
type resolveEnvelope struct {
	Meta struct {
		RunID string `json:"runId"`
	} `json:"meta"`
	Key   string `json:"key"`
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

// bindResolvers installs the server→client RESOLVE_*/REJECT_* handlers
// that route replies back into the pending-call registry, per spec §4.E.
// Every handler acks true for any payload that decodes — resolving/rejecting
// an unregistered key is the resumption-tolerance contract, never an error.
// Only a payload that fails to decode is answered with an error.
func bindResolvers(client *rpc.Client, reg *registry.Registry, logger *zap.Logger) {
	bindResolve(client, reg, registry.KindWait, rpc.MethodResolveDelay)
	bindResolve(client, reg, registry.KindRunOnce, rpc.MethodResolveRunOnce)
	bindResolve(client, reg, registry.KindRequest, rpc.MethodResolveRequest)
	bindReject(client, reg, registry.KindRequest, rpc.MethodRejectRequest)
	bindResolve(client, reg, registry.KindFetch, rpc.MethodResolveFetch)
	bindReject(client, reg, registry.KindFetch, rpc.MethodRejectFetch)
	bindResolve(client, reg, registry.KindKVGet, rpc.MethodResolveKVGet)
	bindResolve(client, reg, registry.KindKVSet, rpc.MethodResolveKVSet)
	bindResolve(client, reg, registry.KindKVDelete, rpc.MethodResolveKVDelete)
}

func bindResolve(client *rpc.Client, reg *registry.Registry, kind registry.Kind, method string) {
	client.Handle(method, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var env resolveEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, err
		}
		reg.Resolve(kind, env.Meta.RunID, env.Key, payload)
		return true, nil
	})
}

func bindReject(client *rpc.Client, reg *registry.Registry, kind registry.Kind, method string) {
	client.Handle(method, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var env resolveEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, err
		}
		reg.Reject(kind, env.Meta.RunID, env.Key, &rejectionError{name: env.Error.Name, message: env.Error.Message})
		return true, nil
	})
}
