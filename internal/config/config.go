package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrNoDatabaseURL reports that DATABASE_URL is unset.
var ErrNoDatabaseURL = errors.New("DATABASE_URL not set")

type Config struct {
	Env          string
	ListenAddr   string
	DatabaseURL  string
	RedisURL     string
	SiteHost     string
	SettingsFile string
	AuditWorkers int
	PollInterval time.Duration
	// Providers maps provider id to its OpenAI-compatible endpoint.
	Providers map[string]ProviderEndpoint

	// Empty SnapshotEndpoint disables page archiving.
	SnapshotEndpoint  string
	SnapshotAccessKey string
	SnapshotSecretKey string
	SnapshotBucket    string
	SnapshotUseSSL    bool

	TraceExporter    string
	TraceEndpoint    string
	TraceSampleRatio float64
}

type ProviderEndpoint struct {
	BaseURL string
	APIKey  string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads process configuration from the environment. A missing database
// URL is reported but not fatal: callers fall back to in-memory adapters.
func Load() (Config, error) {
	cfg := Config{
		Env:          getenv("APP_ENV", "development"),
		ListenAddr:   getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		SiteHost:     getenv("SITE_HOST", "localhost"),
		SettingsFile: os.Getenv("AUDIT_SETTINGS_FILE"),
		AuditWorkers: getenvInt("AUDIT_WORKERS", 1),
		PollInterval: getenvDuration("AUDIT_POLL_INTERVAL", 500*time.Millisecond),

		SnapshotEndpoint:  os.Getenv("SNAPSHOT_ENDPOINT"),
		SnapshotAccessKey: os.Getenv("SNAPSHOT_ACCESS_KEY"),
		SnapshotSecretKey: os.Getenv("SNAPSHOT_SECRET_KEY"),
		SnapshotBucket:    getenv("SNAPSHOT_BUCKET", "pageaudit-snapshots"),
		SnapshotUseSSL:    getenvBool("SNAPSHOT_USE_SSL", false),

		TraceExporter:    getenv("OTEL_TRACES_EXPORTER", "none"),
		TraceEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio: getenvFloat("OTEL_TRACES_SAMPLER_ARG", 1),
	}
	providers, err := parseProviders(os.Getenv("LLM_PROVIDERS"))
	if err != nil {
		return cfg, err
	}
	cfg.Providers = providers
	if cfg.DatabaseURL == "" {
		return cfg, ErrNoDatabaseURL
	}
	return cfg, nil
}

func (c Config) Development() bool { return c.Env == "development" }

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var out int
		_, err := fmt.Sscanf(v, "%d", &out)
		if err == nil {
			return out
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parseProviders reads "id=url|key,id2=url2" into endpoints.
func parseProviders(raw string) (map[string]ProviderEndpoint, error) {
	out := map[string]ProviderEndpoint{}
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, rest, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("LLM_PROVIDERS: malformed entry %q", item)
		}
		baseURL, key, _ := strings.Cut(rest, "|")
		if strings.TrimSpace(baseURL) == "" {
			return nil, fmt.Errorf("LLM_PROVIDERS: provider %q has no base url", id)
		}
		out[strings.TrimSpace(id)] = ProviderEndpoint{BaseURL: strings.TrimSpace(baseURL), APIKey: strings.TrimSpace(key)}
	}
	return out, nil
}
