// Package durablehost is a client-side durable workflow host: it embeds a
// user-written workflow function inside an ordinary Go process while making
// it behave like a resumable, server-orchestrated job. A remote
// orchestration service owns all durable state — event queues, per-run
// history, delay timers, idempotency records, key/value data, fetch-result
// caches — reached over a persistent, auto-reconnecting WebSocket and a
// schema-validated bidirectional RPC multiplexed on top of it.
package durablehost

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/durablehost/go-sdk/internal/hostconn"
	"github.com/durablehost/go-sdk/internal/registration"
	"github.com/durablehost/go-sdk/internal/registry"
	"github.com/durablehost/go-sdk/internal/rpc"
	"github.com/durablehost/go-sdk/internal/run"
	"github.com/durablehost/go-sdk/internal/transport"
)

// Client owns the connection, RPC, and run executor for one workflow
// identity. Build one with New, register a handler with RegisterWorkflow,
// then call Listen to connect and block until Close or ctx cancellation.
type Client struct {
	cfg    config
	logger *zap.Logger

	conn       *hostconn.Manager
	rpcClient  *rpc.Client
	registry   *registry.Registry
	executor   *run.Executor
	handshaker *registration.Handshaker
}

// New builds a Client from opts. apiKey resolves from WithAPIKey, else
// TRIGGER_API_KEY; its absence is fatal. The workflow identity resolves
// from WithWorkflow and is likewise required — there is no default.
func New(opts ...Option) (*Client, error) {
	cfg, err := resolve(opts)
	if err != nil {
		return nil, err
	}

	sessionID := cfg.sessionID
	if sessionID == "" {
		sessionID = randomSessionID()
	}

	rpcClient := rpc.New(rpc.ClientToServer, rpc.ServerToClient, cfg.logger)
	reg := registry.New(cfg.logger)
	executor := run.New(rpcClient, reg, cfg.logger)

	handshaker := registration.New(registration.Config{
		APIKey:         cfg.apiKey,
		WorkflowID:     cfg.workflowID,
		WorkflowName:   cfg.workflowName,
		Trigger:        cfg.trigger,
		PackageName:    cfg.packageName,
		PackageVersion: cfg.packageVersion,
		TriggerTTL:     cfg.triggerTTL,
		ManifestPath:   cfg.manifestPath,
		WorkDir:        cfg.workDir,
	}, cfg.logger)

	c := &Client{
		cfg:        cfg,
		logger:     cfg.logger.Named("durablehost"),
		rpcClient:  rpcClient,
		registry:   reg,
		executor:   executor,
		handshaker: handshaker,
	}

	dial := func() transport.Channel {
		return transport.NewWSChannel(cfg.endpoint, cfg.apiKey, cfg.logger)
	}
	c.conn = hostconn.New(dial, sessionID, cfg.logger)
	connected := false
	c.conn.OnReconnect(func(ch transport.Channel) {
		c.rpcClient.ResetConnection(ch)
		// The first connection's handshake is issued by Listen itself.
		if connected {
			go c.reregister()
		}
		connected = true
	})

	return c, nil
}

// Listen connects to the orchestrator, performs the registration handshake,
// and blocks until ctx is cancelled or Close is called. A failed initial
// handshake aborts Listen entirely, per spec §4.D.
func (c *Client) Listen(ctx context.Context) error {
	if err := c.conn.Connect(ctx); err != nil {
		return fmt.Errorf("durablehost: connect failed: %w", err)
	}

	record, err := c.handshaker.Handshake(ctx, c.rpcClient)
	if err != nil {
		return fmt.Errorf("durablehost: registration failed: %w", err)
	}
	c.executor.SetDashboardURL(record.URL)

	c.logger.Info("listening",
		zap.String("workflow_id", record.Workflow.ID),
		zap.String("environment", record.Environment.Slug),
		zap.String("organization", record.Organization.Slug),
		zap.Bool("is_new", record.IsNew),
	)

	c.conn.Run(ctx)
	return nil
}

// Close stops reconnection and closes the active channel with a
// normal-closure code, rejecting any calls still pending across every live
// run, per spec §5's supplemented graceful-shutdown behavior.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.registry.Shutdown()
	return err
}

func randomSessionID() string {
	return uuid.NewString()
}

// reregister re-issues the handshake after a reconnect. It runs in its own
// goroutine; outbound run RPCs are not held back until it completes, so
// they may reach the orchestrator before the new handshake does. A failure
// here is logged, not fatal — the connection
// itself is already up, and the orchestrator may simply replay the same
// workflow/environment/organization identifiers on retry.
func (c *Client) reregister() {
	ctx := context.Background()
	record, err := c.handshaker.Handshake(ctx, c.rpcClient)
	if err != nil {
		c.logger.Error("re-registration after reconnect failed", zap.Error(err))
		return
	}
	c.executor.SetDashboardURL(record.URL)
	c.logger.Info("re-registered after reconnect", zap.String("workflow_id", record.Workflow.ID))
}
