// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes credentials for the
// social backends, trigger gating options, webhook settings, server timeouts,
// logging, and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend identifies the social network a post is submitted to.
const (
	BackendBluesky = "bluesky"
	BackendTwitter = "twitter"
)

// Gate modes select which trigger signals a commit message must carry.
// The observed deployments disagree on the canonical combination, so it is
// an explicit configuration choice (TRIGGER_MODE), defaulting to "or".
const (
	// GateAnd requires both the @publish marker and a semver token.
	GateAnd = "and"
	// GateVersion requires a semver token; the marker is ignored.
	GateVersion = "version"
	// GateOr requires at least one of the marker or a semver token.
	GateOr = "or"
)

// BlueskyConfig holds AT-Protocol credentials and the PDS endpoint.
type BlueskyConfig struct {
	Identifier  string // handle or DID
	AppPassword string
	Service     string // base URL, e.g. https://bsky.social
}

// TwitterConfig holds the OAuth 1.0a credential 4-tuple.
type TwitterConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
}

// TriggerConfig holds the gating options consulted by the evaluator.
type TriggerConfig struct {
	Mode       string   // and|version|or
	BranchOnly string   // overrides the repository default branch when set
	Allowlist  []string // repo patterns; empty allows all
	Force      bool     // bypass branch and gate checks (manual testing)
}

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application. It is resolved
// once per invocation and treated as immutable afterwards.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool

	// Publishing
	Backend string // bluesky|twitter
	DryRun  bool
	Bluesky BlueskyConfig
	Twitter TwitterConfig

	// Trigger gating
	Trigger TriggerConfig

	// Webhook (server mode)
	WebhookSecret string

	// Enrichment
	GeminiAPIKey string
	AISummary    bool // AI condensation toggle; needs GeminiAPIKey too
	GitHubToken  string

	// Dedupe (server mode)
	DBPath string // SQLite path for the shared posted_records table

	// Rate limiting
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from the environment (a .env file is honored when
// present), applies defaults, normalizes values, and validates the result.
// Credential validation depends on the selected backend: posting must fail
// fast when required credential fields are empty.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Publishing
		Backend: strings.ToLower(getenv("PUBLISH_BACKEND", BackendBluesky)),
		DryRun:  getbool("DRY_RUN", false),
		Bluesky: BlueskyConfig{
			// Several deployments use different variable names for the
			// same credential; the first non-empty alias wins.
			Identifier:  getalias("BLUESKY_IDENTIFIER", "BLUESKY_HANDLE", "BSKY_IDENTIFIER"),
			AppPassword: getalias("BLUESKY_APP_PASSWORD", "BSKY_APP_PASSWORD"),
			Service:     getenv("BLUESKY_SERVICE", "https://bsky.social"),
		},
		Twitter: TwitterConfig{
			ConsumerKey:    os.Getenv("TWITTER_CONSUMER_KEY"),
			ConsumerSecret: os.Getenv("TWITTER_CONSUMER_SECRET"),
			AccessToken:    os.Getenv("TWITTER_ACCESS_TOKEN"),
			AccessSecret:   os.Getenv("TWITTER_ACCESS_SECRET"),
		},

		// Trigger gating
		Trigger: TriggerConfig{
			Mode:       strings.ToLower(getenv("TRIGGER_MODE", GateOr)),
			BranchOnly: strings.TrimSpace(os.Getenv("BRANCH_ONLY")),
			Allowlist:  splitCSV(os.Getenv("REPO_ALLOWLIST")),
			Force:      getbool("FORCE_POST", false),
		},

		// Webhook
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),

		// Enrichment
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		AISummary:    getbool("AI_SUMMARY", true),
		GitHubToken:  os.Getenv("GITHUB_TOKEN"),

		// Dedupe
		DBPath: getenv("DEDUPE_DB_PATH", "commitcast.db"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "commitcast"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.Backend {
	case BackendBluesky, BackendTwitter:
	default:
		return cfg, fmt.Errorf("PUBLISH_BACKEND must be %q or %q", BackendBluesky, BackendTwitter)
	}
	switch cfg.Trigger.Mode {
	case GateAnd, GateVersion, GateOr:
	default:
		return cfg, errors.New("TRIGGER_MODE must be one of: and, version, or")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DEDUPE_DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	if err := cfg.validateCredentials(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// validateCredentials enforces the fail-fast credential rule for the
// selected backend.
func (c Config) validateCredentials() error {
	switch c.Backend {
	case BackendBluesky:
		if strings.TrimSpace(c.Bluesky.Identifier) == "" {
			return errors.New("BLUESKY_IDENTIFIER (or BLUESKY_HANDLE / BSKY_IDENTIFIER) is required")
		}
		if strings.TrimSpace(c.Bluesky.AppPassword) == "" {
			return errors.New("BLUESKY_APP_PASSWORD is required")
		}
		if strings.TrimSpace(c.Bluesky.Service) == "" {
			return errors.New("BLUESKY_SERVICE must not be empty")
		}
	case BackendTwitter:
		if c.Twitter.ConsumerKey == "" || c.Twitter.ConsumerSecret == "" ||
			c.Twitter.AccessToken == "" || c.Twitter.AccessSecret == "" {
			return errors.New("TWITTER_CONSUMER_KEY, TWITTER_CONSUMER_SECRET, TWITTER_ACCESS_TOKEN and TWITTER_ACCESS_SECRET are all required")
		}
	}
	return nil
}

// RequireWebhookSecret returns an error when the shared webhook secret is
// missing. Server mode refuses to start without it; local mode never needs it.
func (c Config) RequireWebhookSecret() error {
	if strings.TrimSpace(c.WebhookSecret) == "" {
		return errors.New("WEBHOOK_SECRET is required in server mode")
	}
	return nil
}

// ---- helpers (no external deps beyond godotenv) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

// getalias returns the first non-empty value among the given variable names.
func getalias(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
