package hostconn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/durablehost/go-sdk/internal/transport"
)

// fakeChannel is a minimal transport.Channel whose Closed() channel the
// test controls directly, to simulate involuntary disconnects.
type fakeChannel struct {
	mu     sync.Mutex
	closed chan error
	opened bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{closed: make(chan error, 1)}
}

func (f *fakeChannel) Open(ctx context.Context) error {
	f.mu.Lock()
	f.opened = true
	f.mu.Unlock()
	return nil
}
func (f *fakeChannel) Send(ctx context.Context, frame []byte) error { return nil }
func (f *fakeChannel) Messages() <-chan []byte                     { return make(chan []byte) }
func (f *fakeChannel) Closed() <-chan error                        { return f.closed }
func (f *fakeChannel) Close(code int, reason string) error {
	select {
	case f.closed <- nil:
	default:
	}
	return nil
}

func TestConnectInvokesOnReconnect(t *testing.T) {
	ch := newFakeChannel()
	m := New(func() transport.Channel { return ch }, "session-1", zap.NewNop())

	var gotChannel transport.Channel
	m.OnReconnect(func(c transport.Channel) { gotChannel = c })

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if gotChannel != ch {
		t.Fatal("expected OnReconnect to be invoked with the dialed channel")
	}
}

func TestReconnectsWithSameSessionIDOnInvoluntaryClose(t *testing.T) {
	var mu sync.Mutex
	var dialed []*fakeChannel

	m := New(func() transport.Channel {
		mu.Lock()
		defer mu.Unlock()
		c := newFakeChannel()
		dialed = append(dialed, c)
		return c
	}, "stable-session", zap.NewNop())

	reconnectCount := 0
	var reconnectMu sync.Mutex
	m.OnReconnect(func(c transport.Channel) {
		reconnectMu.Lock()
		reconnectCount++
		reconnectMu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	// Simulate an involuntary disconnect of the first dialed channel.
	mu.Lock()
	first := dialed[0]
	mu.Unlock()
	first.closed <- errors.New("connection reset")

	// Wait for a second dial to happen (reconnectInterval is 3s).
	time.Sleep(4 * time.Second)

	mu.Lock()
	count := len(dialed)
	mu.Unlock()

	if count < 2 {
		t.Fatalf("expected at least 2 dial attempts after involuntary close, got %d", count)
	}
	if m.SessionID() != "stable-session" {
		t.Fatalf("expected session id to remain stable, got %q", m.SessionID())
	}

	cancel()
	<-done
}

func TestCloseSuppressesReconnect(t *testing.T) {
	ch := newFakeChannel()
	m := New(func() transport.Channel { return ch }, "session-x", zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-done:
		// Run returned promptly because closing suppressed reconnection.
	case <-time.After(1 * time.Second):
		t.Fatal("expected Run to return promptly after Close")
	}
}
