package durablehost

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// defaultEndpoint is used when neither WithEndpoint nor TRIGGER_WSS_URL is
// set, per spec §4's wire framing note.
const defaultEndpoint = "wss://wss.trigger.dev/ws"

// config accumulates the options passed to New before a Client is built.
type config struct {
	apiKey     string
	endpoint   string
	sessionID  string
	triggerTTL string
	logger     *zap.Logger

	manifestPath string
	workDir      string

	workflowID   string
	workflowName string
	trigger      map[string]any

	packageName    string
	packageVersion string
}

// Option configures a Client at construction time. Only the API key
// (TRIGGER_API_KEY) and the endpoint (TRIGGER_WSS_URL) fall back to an
// environment variable; an option, when given, overrides it.
type Option func(*config)

// WithAPIKey sets the bearer token presented during the WebSocket upgrade
// and forwarded as apiKey in INITIALIZE_HOST_V2. Overrides TRIGGER_API_KEY.
func WithAPIKey(key string) Option {
	return func(c *config) { c.apiKey = key }
}

// WithEndpoint overrides the orchestrator WebSocket URL. Overrides
// TRIGGER_WSS_URL.
func WithEndpoint(url string) Option {
	return func(c *config) { c.endpoint = url }
}

// WithSessionID pins the stable client identity reused across reconnects.
// If unset, a fresh uuid is generated at New.
func WithSessionID(id string) Option {
	return func(c *config) { c.sessionID = id }
}

// WithTriggerTTL sets the triggerTTL field sent during registration.
func WithTriggerTTL(ttl string) Option {
	return func(c *config) { c.triggerTTL = ttl }
}

// WithLogger overrides the default production zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithManifestPath points registration at a package manifest file whose
// "triggerdotdev" section becomes packageMetadata, overriding both the
// TRIGGER_PACKAGE_JSON/npm_package_json env-supplied manifest path and the
// npm_package_triggerdotdev_* environment projection.
func WithManifestPath(path string) Option {
	return func(c *config) { c.manifestPath = path }
}

// WithWorkDir sets the directory gitinfo probes for commit metadata.
// Defaults to the process's working directory.
func WithWorkDir(dir string) Option {
	return func(c *config) { c.workDir = dir }
}

// WithWorkflow identifies the single workflow this client registers and
// runs, per spec §4.D — id and name are sent verbatim in INITIALIZE_HOST_V2,
// and id is the workflowId RegisterWorkflow binds its handler to. trigger
// describes the event shape the dashboard shows for manual triggering; it
// may be nil.
func WithWorkflow(id, name string, trigger map[string]any) Option {
	return func(c *config) {
		c.workflowID = id
		c.workflowName = name
		c.trigger = trigger
	}
}

// WithPackageInfo overrides the packageName/packageVersion fields sent
// during registration. Defaults to this module's path and "0.0.0" when
// unset.
func WithPackageInfo(name, version string) Option {
	return func(c *config) {
		c.packageName = name
		c.packageVersion = version
	}
}

// resolve applies opts over environment-derived defaults and validates the
// result. apiKey absence is fatal, per spec §8's configuration error table.
func resolve(opts []Option) (config, error) {
	cfg := config{
		apiKey:   os.Getenv("TRIGGER_API_KEY"),
		endpoint: envOrDefault("TRIGGER_WSS_URL", defaultEndpoint),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.apiKey == "" {
		return config{}, fmt.Errorf("durablehost: no API key: pass WithAPIKey or set TRIGGER_API_KEY")
	}
	if cfg.workflowID == "" {
		return config{}, fmt.Errorf("durablehost: no workflow identity: pass WithWorkflow")
	}
	if cfg.packageName == "" {
		cfg.packageName = "github.com/durablehost/go-sdk"
	}
	if cfg.packageVersion == "" {
		cfg.packageVersion = "0.0.0"
	}
	if cfg.logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return config{}, fmt.Errorf("durablehost: failed to build default logger: %w", err)
		}
		cfg.logger = logger
	}
	if cfg.workDir == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.workDir = wd
		}
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
