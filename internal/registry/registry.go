// Package registry implements the pending-call tables that back every
// journaled context operation (fetch, waitFor/waitUntil, runOnce, kv).
// Each table is keyed by runID+":"+userKey so concurrent runs never
// collide, and an unresolved entry backs exactly one suspended logical
// task until a matching RESOLVE_*/REJECT_* arrives or the run tears down.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Kind distinguishes the journaled operation a pending call belongs to.
// Each Kind has its own correlation table so a fetch and a runOnce at the
// same run+key never collide.
type Kind string

const (
	KindWait     Kind = "wait"
	KindRunOnce  Kind = "runOnce"
	KindRequest  Kind = "request"
	KindFetch    Kind = "fetch"
	KindKVGet    Kind = "kvGet"
	KindKVSet    Kind = "kvSet"
	KindKVDelete Kind = "kvDelete"
)

// ErrRunTornDown is the rejection reason given to any call still pending
// when its run completes or errors.
var ErrRunTornDown = errors.New("registry: run completed before call resolved")

// ErrDuplicateKey is returned by Register when a call is already pending
// for the same (kind, runID, userKey) triple — the invariant in spec §8.1.
var ErrDuplicateKey = errors.New("registry: duplicate pending call for key")

type pendingCall struct {
	done chan result
}

type result struct {
	value []byte
	err   error
}

// Registry holds one correlation table per Kind.
type Registry struct {
	mu     sync.Mutex
	tables map[Kind]map[string]*pendingCall
	logger *zap.Logger
}

// New creates an empty Registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		tables: make(map[Kind]map[string]*pendingCall),
		logger: logger.Named("registry"),
	}
}

func callKey(runID, userKey string) string {
	return runID + ":" + userKey
}

// Register inserts a new pending call and returns a function that blocks
// until Resolve or Reject is called for the same (kind, runID, userKey).
// Returns ErrDuplicateKey if an entry is already pending for that key.
func (r *Registry) Register(kind Kind, runID, userKey string) (wait func() ([]byte, error), err error) {
	r.mu.Lock()
	table, ok := r.tables[kind]
	if !ok {
		table = make(map[string]*pendingCall)
		r.tables[kind] = table
	}
	key := callKey(runID, userKey)
	if _, exists := table[key]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: kind=%s key=%s", ErrDuplicateKey, kind, key)
	}
	pc := &pendingCall{done: make(chan result, 1)}
	table[key] = pc
	r.mu.Unlock()

	return func() ([]byte, error) {
		res := <-pc.done
		return res.value, res.err
	}, nil
}

// Resolve fulfills the pending call at (kind, runID, userKey) with value.
// If no call is registered for that key, this is the resumption-tolerance
// contract in action: the resolution is logged at debug and otherwise
// ignored — it is never an error for the RPC layer to ack.
func (r *Registry) Resolve(kind Kind, runID, userKey string, value []byte) {
	r.complete(kind, runID, userKey, result{value: value})
}

// Reject fails the pending call at (kind, runID, userKey) with err.
func (r *Registry) Reject(kind Kind, runID, userKey string, err error) {
	r.complete(kind, runID, userKey, result{err: err})
}

func (r *Registry) complete(kind Kind, runID, userKey string, res result) {
	key := callKey(runID, userKey)

	r.mu.Lock()
	table := r.tables[kind]
	var pc *pendingCall
	if table != nil {
		pc = table[key]
		delete(table, key)
	}
	r.mu.Unlock()

	if pc == nil {
		r.logger.Debug("resolution for unknown pending call, ignoring",
			zap.String("kind", string(kind)),
			zap.String("run_id", runID),
			zap.String("key", userKey),
		)
		return
	}
	pc.done <- res
}

// ClearRun rejects every pending call belonging to runID across all kinds,
// with ErrRunTornDown. Called after COMPLETE_WORKFLOW_RUN/SEND_WORKFLOW_ERROR.
func (r *Registry) ClearRun(runID string) {
	prefix := runID + ":"

	r.mu.Lock()
	toReject := make([]*pendingCall, 0)
	for _, table := range r.tables {
		for key, pc := range table {
			if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
				toReject = append(toReject, pc)
				delete(table, key)
			}
		}
	}
	r.mu.Unlock()

	for _, pc := range toReject {
		pc.done <- result{err: ErrRunTornDown}
	}
}

// Shutdown rejects every pending call across every run and kind with
// ErrRunTornDown, for use when the client itself is closing rather than a
// single run completing.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	toReject := make([]*pendingCall, 0)
	for _, table := range r.tables {
		for key, pc := range table {
			toReject = append(toReject, pc)
			delete(table, key)
		}
	}
	r.mu.Unlock()

	for _, pc := range toReject {
		pc.done <- result{err: ErrRunTornDown}
	}
}

// Pending reports how many calls are currently outstanding for kind, for
// tests and diagnostics.
func (r *Registry) Pending(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tables[kind])
}
