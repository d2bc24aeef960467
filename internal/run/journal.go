package run

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/durablehost/go-sdk/internal/registry"
	"github.com/durablehost/go-sdk/internal/rpc"
)

// journal implements the journaled-intent pattern common to every context
// operation, per spec §4.F: register a pending call, send the intent RPC
// that acks immediately, then suspend until the matching RESOLVE_*/REJECT_*
// fulfills it or ctx is cancelled.
//
// The pending call is deliberately left registered on ctx cancellation —
// per spec §5/§9, a reconnect or caller timeout does not cancel the
// orchestrator's eventual reply; ClearRun is the only thing that tears a
// call down early, on run completion.
func journal(ctx context.Context, client *rpc.Client, reg *registry.Registry, kind registry.Kind, method, runID, userKey string, payload any) (json.RawMessage, error) {
	wait, err := reg.Register(kind, runID, userKey)
	if err != nil {
		return nil, fmt.Errorf("run: %s: %w", method, err)
	}

	if _, err := client.Send(ctx, method, payload); err != nil {
		return nil, fmt.Errorf("run: %s failed: %w", method, err)
	}

	type outcome struct {
		value []byte
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := wait()
		done <- outcome{v, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-done:
		return o.value, o.err
	}
}
