package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/certsentry/certsentry/internal/alert"
	"github.com/certsentry/certsentry/internal/batch"
	"github.com/certsentry/certsentry/internal/probe"
	"github.com/certsentry/certsentry/internal/target"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultInterval        = 24 * time.Hour
	DefaultExpiringHorizon = 30 * 24 * time.Hour
	DefaultRetries         = 1
	DefaultHTTPPort        = 8080
	DefaultLocale          = "en"
)

// Config is the top-level configuration. Fields map 1:1 to
// config.example.yaml.
type Config struct {
	Engine   EngineConfig    `yaml:"engine"`
	Targets  []TargetConfig  `yaml:"targets"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Ledger   LedgerConfig    `yaml:"ledger"`
	Storage  StorageConfig   `yaml:"storage"`
	Events   EventsConfig    `yaml:"events"`
	Server   ServerConfig    `yaml:"server"`
}

// EngineConfig holds run behavior settings.
type EngineConfig struct {
	// Interval is the wait between scheduled runs. Zero disables the
	// scheduler; runs then happen only through the API.
	Interval time.Duration `yaml:"interval"`

	// Concurrency is the maximum number of probes in flight at once.
	Concurrency int `yaml:"concurrency"`

	// ProbeTimeout bounds each probe attempt's connect and handshake.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// Retries is the number of extra attempts for timeouts and refused
	// connections.
	Retries int `yaml:"retries"`

	// ExpiringHorizon is how far before expiry a certificate counts as
	// expiring.
	ExpiringHorizon time.Duration `yaml:"expiring_horizon"`

	// Thresholds are the notification day marks, e.g. [30, 7, 1].
	Thresholds []int `yaml:"thresholds"`

	// Locale selects the alert message language: en | ko.
	Locale string `yaml:"locale"`
}

// TargetConfig describes one monitored HTTPS endpoint.
type TargetConfig struct {
	// Origin is the HTTPS origin to probe, e.g. https://shop.example.com.
	Origin string `yaml:"origin"`

	// Name is the display name used in alerts. Defaults to the origin.
	Name string `yaml:"name"`

	// Active gates whether the target is probed. Defaults to true.
	Active *bool `yaml:"active"`
}

// WebhookConfig defines one alert delivery target.
type WebhookConfig struct {
	// Type is one of: teams | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// LedgerConfig selects the notification ledger backend.
type LedgerConfig struct {
	// Backend is one of: memory | redis.
	Backend string `yaml:"backend"`

	// Addr is the redis host:port. Used when Backend == "redis".
	Addr string `yaml:"addr"`

	// PasswordEnv names the environment variable holding the redis password.
	PasswordEnv string `yaml:"password_env"`

	// DB is the redis database number.
	DB int `yaml:"db"`
}

// Password returns the redis password resolved from the environment.
func (l LedgerConfig) Password() string {
	if l.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(l.PasswordEnv)
}

// StorageConfig selects the certificate record store backend.
type StorageConfig struct {
	// Backend is one of: memory | postgres.
	Backend string `yaml:"backend"`

	// DSNEnv names the environment variable holding the postgres DSN.
	DSNEnv string `yaml:"dsn_env"`
}

// DSN returns the postgres connection string resolved from the environment.
func (s StorageConfig) DSN() string {
	if s.DSNEnv == "" {
		return ""
	}
	return os.Getenv(s.DSNEnv)
}

// EventsConfig configures the optional Kafka event stream.
type EventsConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, metrics, and WebSocket hub listen on.
	HTTPPort int `yaml:"http_port"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Engine: EngineConfig{
			Interval:        DefaultInterval,
			Concurrency:     batch.DefaultConcurrency,
			ProbeTimeout:    probe.DefaultTimeout,
			Retries:         DefaultRetries,
			ExpiringHorizon: DefaultExpiringHorizon,
			Thresholds:      alert.DefaultThresholds,
			Locale:          DefaultLocale,
		},
		Ledger:  LedgerConfig{Backend: "memory"},
		Storage: StorageConfig{Backend: "memory"},
		Server:  ServerConfig{HTTPPort: DefaultHTTPPort},
	}
}

// validate checks required fields and structural constraints. Target
// origins are rewritten to their normalized form as a side effect.
func validate(cfg *Config) error {
	if cfg.Engine.Interval < 0 {
		return fmt.Errorf("engine.interval must not be negative")
	}
	if cfg.Engine.Concurrency <= 0 {
		return fmt.Errorf("engine.concurrency must be positive")
	}
	if cfg.Engine.ProbeTimeout <= 0 {
		return fmt.Errorf("engine.probe_timeout must be positive")
	}
	if cfg.Engine.Retries < 0 {
		return fmt.Errorf("engine.retries must not be negative")
	}
	if len(cfg.Engine.Thresholds) == 0 {
		return fmt.Errorf("engine.thresholds must not be empty")
	}
	for _, t := range cfg.Engine.Thresholds {
		if t <= 0 {
			return fmt.Errorf("engine.thresholds: %d is not a positive day count", t)
		}
	}
	switch cfg.Engine.Locale {
	case "en", "ko":
	default:
		return fmt.Errorf("engine.locale: unsupported locale %q", cfg.Engine.Locale)
	}

	seen := make(map[string]bool, len(cfg.Targets))
	for i := range cfg.Targets {
		t := &cfg.Targets[i]
		normalized, err := target.NormalizeOrigin(t.Origin)
		if err != nil {
			return fmt.Errorf("targets[%d]: %w", i, err)
		}
		if seen[normalized] {
			return fmt.Errorf("targets[%d]: duplicate origin %q", i, normalized)
		}
		seen[normalized] = true
		t.Origin = normalized
		if t.Name == "" {
			t.Name = normalized
		}
	}

	for i, wh := range cfg.Webhooks {
		switch wh.Type {
		case "teams", "http":
		default:
			return fmt.Errorf("webhooks[%d]: unknown type %q", i, wh.Type)
		}
		if wh.URLEnv == "" {
			return fmt.Errorf("webhooks[%d]: url_env is required", i)
		}
		if raw := wh.URL(); raw != "" {
			if _, err := url.ParseRequestURI(raw); err != nil {
				return fmt.Errorf("webhooks[%d]: $%s holds an invalid URL: %w", i, wh.URLEnv, err)
			}
		}
	}

	switch cfg.Ledger.Backend {
	case "memory":
	case "redis":
		if cfg.Ledger.Addr == "" {
			return fmt.Errorf("ledger.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("ledger.backend: unknown backend %q", cfg.Ledger.Backend)
	}

	switch cfg.Storage.Backend {
	case "memory":
	case "postgres":
		if cfg.Storage.DSNEnv == "" {
			return fmt.Errorf("storage.dsn_env is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", cfg.Storage.Backend)
	}

	if cfg.Events.Enabled {
		if len(cfg.Events.Brokers) == 0 {
			return fmt.Errorf("events.brokers must not be empty when events are enabled")
		}
		if cfg.Events.Topic == "" {
			return fmt.Errorf("events.topic is required when events are enabled")
		}
	}

	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port: %d is not a valid port", cfg.Server.HTTPPort)
	}
	return nil
}

// BuildTargets converts the configured targets into monitoring targets.
// IDs are derived from the normalized origin so ledger keys and stored
// records stay stable across restarts and reloads.
func (c *Config) BuildTargets() []target.Target {
	out := make([]target.Target, 0, len(c.Targets))
	for _, t := range c.Targets {
		active := t.Active == nil || *t.Active
		out = append(out, target.Target{
			ID:     uuid.NewSHA1(uuid.NameSpaceURL, []byte(t.Origin)),
			Origin: t.Origin,
			Name:   t.Name,
			Active: active,
		})
	}
	return out
}
