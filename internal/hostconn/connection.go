// Package hostconn owns the reconnecting WebSocket connection to the
// orchestrator: dial, session identity, and the backoff reconnect loop —
// component B of the design. It is deliberately ignorant of RPC framing;
// it only ever produces and replaces transport.Channel values.
package hostconn

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/durablehost/go-sdk/internal/transport"
)

const (
	// reconnectInterval is the fixed backoff between involuntary
	// disconnects and the next dial attempt, per spec §4.B ("fixed
	// backoff (≈3s) with unbounded retries").
	reconnectInterval = 3 * time.Second

	// jitterFraction perturbs reconnectInterval by up to ±20% so many
	// clients reconnecting to the same orchestrator after a shared outage
	// do not all redial in lockstep.
	jitterFraction = 0.2
)

// Dialer constructs a fresh transport.Channel for one connection attempt.
// Supplied by the caller so hostconn stays agnostic of the concrete
// transport (a real WSChannel in production, a fake in tests).
type Dialer func() transport.Channel

// Manager owns the current transport.Channel and the reconnect loop. The
// session id is chosen once (by the caller, or generated) and reused
// across every reconnect so the orchestrator can resume state for this
// client, per spec's Client identity.
type Manager struct {
	dial      Dialer
	sessionID string
	logger    *zap.Logger

	onReconnect func(ch transport.Channel)

	mu      sync.Mutex
	channel transport.Channel
	closing bool
}

// New creates a Manager. sessionID is the stable client identity to
// present on every connect/reconnect.
func New(dial Dialer, sessionID string, logger *zap.Logger) *Manager {
	return &Manager{
		dial:      dial,
		sessionID: sessionID,
		logger:    logger.Named("hostconn"),
	}
}

// SessionID returns the stable identity reused across reconnects.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// OnReconnect registers fn to be called with the new channel every time a
// connection (including the first) is established. The RPC layer and the
// registration handshake both hook in here: RPC rebinds, registration
// re-issues INITIALIZE_HOST_V2. fn is called synchronously; whatever it
// starts asynchronously is not awaited before Run resumes.
func (m *Manager) OnReconnect(fn func(ch transport.Channel)) {
	m.onReconnect = fn
}

// Connect dials once and blocks until open, without entering the
// reconnect loop. Call Run afterward to keep the connection alive.
func (m *Manager) Connect(ctx context.Context) error {
	ch := m.dial()
	if err := ch.Open(ctx); err != nil {
		return fmt.Errorf("hostconn: initial connect failed: %w", err)
	}

	m.mu.Lock()
	m.channel = ch
	m.mu.Unlock()

	if m.onReconnect != nil {
		m.onReconnect(ch)
	}
	return nil
}

// Run blocks, redialing with fixed backoff whenever the active channel
// closes involuntarily, until ctx is cancelled or Close is called. Connect
// must have succeeded at least once before calling Run.
func (m *Manager) Run(ctx context.Context) {
	for {
		m.mu.Lock()
		ch := m.channel
		m.mu.Unlock()

		if ch == nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case err := <-ch.Closed():
			m.mu.Lock()
			closing := m.closing
			m.mu.Unlock()

			if closing {
				return
			}

			m.logger.Warn("connection closed, will reconnect", zap.Error(err))
			m.reconnectLoop(ctx)
		}
	}
}

// reconnectLoop retries Connect with fixed jittered backoff until it
// succeeds or ctx is cancelled / Close is called.
func (m *Manager) reconnectLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter(reconnectInterval)):
		}

		m.mu.Lock()
		closing := m.closing
		m.mu.Unlock()
		if closing {
			return
		}

		if err := m.Connect(ctx); err != nil {
			m.logger.Warn("reconnect attempt failed, retrying", zap.Error(err))
			continue
		}

		m.logger.Info("reconnected", zap.String("session_id", m.sessionID))
		return
	}
}

// Close marks the connection as voluntarily closed (suppressing
// reconnection) and closes the active channel.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closing = true
	ch := m.channel
	m.mu.Unlock()

	if ch == nil {
		return nil
	}
	return ch.Close(1000, "client closed")
}

// jitter adds a random ±jitterFraction perturbation to d.
func jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFraction
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}
