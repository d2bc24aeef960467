// Package main demonstrates durablehost by registering a single workflow
// and listening for triggers until interrupted.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables
//  2. Build the durablehost client (API key, endpoint, workflow identity)
//  3. Register the example workflow
//  4. Listen, blocking until SIGINT/SIGTERM
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	durablehost "github.com/durablehost/go-sdk"
)

type config struct {
	apiKey     string
	endpoint   string
	workflowID string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "durablehost-example",
		Short: "durablehost example — registers and runs a single demo workflow",
		Long: `durablehost-example connects to the orchestrator over a persistent
WebSocket, registers one workflow, and runs it whenever triggered.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.PersistentFlags().StringVar(&cfg.apiKey, "api-key", envOrDefault("TRIGGER_API_KEY", ""), "Orchestrator API key (must match server TRIGGER_API_KEY)")
	root.PersistentFlags().StringVar(&cfg.endpoint, "endpoint", envOrDefault("TRIGGER_WSS_URL", ""), "Orchestrator WebSocket endpoint (empty = SDK default)")
	root.PersistentFlags().StringVar(&cfg.workflowID, "workflow-id", envOrDefault("DURABLEHOST_WORKFLOW_ID", "greet"), "Identity this process registers as")

	return root
}

// greetInput is the schema-validated trigger payload for the example
// workflow: a single required name field.
type greetInput struct {
	Name string `json:"name"`
}

type greetOutput struct {
	Greeting string `json:"greeting"`
}

func run(ctx context.Context, cfg *config) error {
	if cfg.apiKey == "" {
		return fmt.Errorf("api-key not configured — set --api-key or TRIGGER_API_KEY")
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := []durablehost.Option{
		durablehost.WithAPIKey(cfg.apiKey),
		durablehost.WithWorkflow(cfg.workflowID, "Greet", map[string]any{
			"type":       "object",
			"properties": map[string]any{"name": map[string]any{"type": "string"}},
			"required":   []any{"name"},
		}),
	}
	if cfg.endpoint != "" {
		opts = append(opts, durablehost.WithEndpoint(cfg.endpoint))
	}

	client, err := durablehost.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}

	durablehost.RegisterWorkflow(client, durablehost.Schema{
		"type":     "object",
		"required": []any{"name"},
	}, func(ctx context.Context, rc *durablehost.Context, in greetInput) (greetOutput, error) {
		rc.Log(ctx, "info", "greeting "+in.Name)
		return greetOutput{Greeting: "hello, " + in.Name}, nil
	})

	defer client.Close()
	return client.Listen(ctx)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
