// Package registration performs the INITIALIZE_HOST_V2 handshake —
// component D — and re-issues it on every reconnect, grounded on the
// teacher's Manager.register (see agent/internal/connection/manager.go):
// same shape of "gather local facts, call one RPC, store the returned
// record", just presenting a package/git descriptor instead of a
// hostname/version pair, and over the rpc.Client instead of a gRPC stub.
package registration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/durablehost/go-sdk/internal/gitinfo"
	"github.com/durablehost/go-sdk/internal/rpc"
	"github.com/durablehost/go-sdk/internal/selfmetrics"
)

// EnvPrefix is stripped from forwarded TRIGGER_* environment entries.
const EnvPrefix = "TRIGGER_"

// apiKeyEnvSuffix is excluded from forwarding: the key itself must never
// be echoed back in registration metadata.
const apiKeyEnvSuffix = "API_KEY"

// npmPackagePrefix projects npm_package_triggerdotdev_* environment
// entries into packageMetadata when no manifest path is configured, per
// spec §4.D.
const npmPackagePrefix = "npm_package_triggerdotdev_"

// Config carries everything the handshake needs to describe this host.
type Config struct {
	APIKey         string
	WorkflowID     string
	WorkflowName   string
	Trigger        map[string]any
	PackageName    string
	PackageVersion string
	TriggerTTL     string
	// ManifestPath, if set, is read and its "triggerdotdev" section used
	// as packageMetadata verbatim instead of the npm_package_* env
	// projection.
	ManifestPath string
	// WorkDir is the directory gitinfo probes for commit metadata.
	WorkDir string
}

// IdentityRef is a {id, slug} pair as returned for workflow, environment,
// and organization in the registration record.
type IdentityRef struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
}

// Record is the RegistrationRecord of spec §3: read-only, replaced on
// every reconnect.
type Record struct {
	Workflow    IdentityRef `json:"workflow"`
	Environment IdentityRef `json:"environment"`
	Organization IdentityRef `json:"organization"`
	IsNew       bool        `json:"isNew"`
	URL         string      `json:"url"`
}

type envelope struct {
	APIKey         string         `json:"apiKey"`
	WorkflowID     string         `json:"workflowId"`
	WorkflowName   string         `json:"workflowName"`
	Trigger        map[string]any `json:"trigger"`
	PackageName    string         `json:"packageName"`
	PackageVersion string         `json:"packageVersion"`
	TriggerTTL     string         `json:"triggerTTL,omitempty"`
	Metadata       metadata       `json:"metadata"`
}

type metadata struct {
	Git             *gitinfo.Info  `json:"git,omitempty"`
	PackageMetadata map[string]any `json:"packageMetadata"`
	Env             map[string]string `json:"env"`
}

// response is the tagged union {type:"success", data} | {type:"error", message}.
type response struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Handshaker issues INITIALIZE_HOST_V2 from a static Config. Every
// Handshake call gathers env, manifest, git and host metadata afresh;
// nothing from an earlier handshake is cached.
type Handshaker struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Handshaker for the given static configuration.
func New(cfg Config, logger *zap.Logger) *Handshaker {
	return &Handshaker{cfg: cfg, logger: logger.Named("registration")}
}

// Handshake sends INITIALIZE_HOST_V2 over client and returns the parsed
// RegistrationRecord, or an error wrapping the server's rejection message
// when the response is the {type:"error"} arm — per spec §4.D, a
// registration error aborts listen entirely.
func (h *Handshaker) Handshake(ctx context.Context, client *rpc.Client) (*Record, error) {
	env := forwardedEnv()
	pkgMeta := h.packageMetadata()
	git, err := gitinfo.Probe(h.cfg.WorkDir)
	if err != nil {
		h.logger.Debug("git metadata probe failed, continuing without it", zap.Error(err))
		git = nil
	}

	pkgMeta["host"] = selfmetrics.Collect()

	env1 := envelope{
		APIKey:         h.cfg.APIKey,
		WorkflowID:     h.cfg.WorkflowID,
		WorkflowName:   h.cfg.WorkflowName,
		Trigger:        h.cfg.Trigger,
		PackageName:    h.cfg.PackageName,
		PackageVersion: h.cfg.PackageVersion,
		TriggerTTL:     h.cfg.TriggerTTL,
		Metadata: metadata{
			Git:             git,
			PackageMetadata: pkgMeta,
			Env:             env,
		},
	}

	raw, err := client.Send(ctx, rpc.MethodInitializeHostV2, env1)
	if err != nil {
		return nil, fmt.Errorf("registration: INITIALIZE_HOST_V2 failed: %w", err)
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("registration: malformed response: %w", err)
	}

	switch resp.Type {
	case "success":
		var rec Record
		if err := json.Unmarshal(resp.Data, &rec); err != nil {
			return nil, fmt.Errorf("registration: malformed registration record: %w", err)
		}
		h.logger.Info("registered",
			zap.String("workflow_id", rec.Workflow.ID),
			zap.String("environment", rec.Environment.Slug),
			zap.Bool("is_new", rec.IsNew),
		)
		return &rec, nil
	case "error":
		return nil, fmt.Errorf("registration: server rejected handshake: %s", resp.Message)
	default:
		return nil, fmt.Errorf("registration: unknown response type %q", resp.Type)
	}
}

// forwardedEnv collects every TRIGGER_* environment entry except
// TRIGGER_API_KEY, with the prefix stripped.
func forwardedEnv() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		if strings.TrimPrefix(k, EnvPrefix) == apiKeyEnvSuffix {
			continue
		}
		out[strings.TrimPrefix(k, EnvPrefix)] = v
	}
	return out
}

// packageMetadata resolves the manifest's triggerdotdev section. It checks,
// in order: the explicit ManifestPath override, the TRIGGER_PACKAGE_JSON
// and npm_package_json environment variables (the runtime-supplied manifest
// path a package manager sets before exec'ing the process), and finally
// falls back to projecting npm_package_triggerdotdev_* env entries.
func (h *Handshaker) packageMetadata() map[string]any {
	if h.cfg.ManifestPath != "" {
		if meta, ok := readManifestSection(h.cfg.ManifestPath); ok {
			return meta
		}
	}
	for _, envVar := range []string{"TRIGGER_PACKAGE_JSON", "npm_package_json"} {
		path := os.Getenv(envVar)
		if path == "" {
			continue
		}
		if meta, ok := readManifestSection(path); ok {
			return meta
		}
	}
	return projectNpmPackageEnv()
}

func readManifestSection(path string) (map[string]any, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var manifest struct {
		TriggerDotDev map[string]any `json:"triggerdotdev"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, false
	}
	if manifest.TriggerDotDev == nil {
		return nil, false
	}
	return manifest.TriggerDotDev, true
}

func projectNpmPackageEnv() map[string]any {
	out := make(map[string]any)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, npmPackagePrefix) {
			continue
		}
		out[strings.TrimPrefix(k, npmPackagePrefix)] = v
	}
	return out
}
