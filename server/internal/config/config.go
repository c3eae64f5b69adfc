package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`

	// QuietAfter resolves a firing alert once its scanner has sent no batch
	// for this long. Default: 5m.
	QuietAfter time.Duration `yaml:"quiet_after"`
}

// AlertRule defines one threshold-based alert condition evaluated against
// every ingested batch, per scanner.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "batch_size > 500",
	// "unique_devices == 0", "max_rssi > -40", "rejected > 0".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default values for the server configuration.
const (
	DefaultHTTPPort     = 3001
	DefaultScanPath     = "/api/scan"
	DefaultStoreTTL     = 5 * time.Minute
	DefaultSaltEnv      = "SECRET_SALT"
	DefaultSalt         = "default-salt"
	DefaultNATSSubject  = "proxiscan.scan"
	DefaultFleetPoll    = 30 * time.Second
	DefaultFleetTimeout = 10 * time.Second
	DefaultSendBaseline = 2 * time.Second
	DefaultAlertQuiet   = 5 * time.Minute
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort serves the scan endpoint, REST API and WebSocket hub.
	HTTPPort int `yaml:"http_port"`

	// ScanPath is where POST scan batches are accepted.
	ScanPath string `yaml:"scan_path"`

	// Store controls in-memory retention.
	Store StoreConfig `yaml:"store"`

	// Privacy controls how device addresses are hashed.
	Privacy PrivacyConfig `yaml:"privacy"`

	// Scanners is the allow-list of scanner nodes. Empty accepts any scanner.
	Scanners []ScannerConfig `yaml:"scanners"`

	// Assets are registered devices; sightings of them are flagged.
	Assets []AssetConfig `yaml:"assets"`

	// NATS enables the request/reply intake when URL is set.
	NATS NATSConfig `yaml:"nats"`

	// Alerts holds rule definitions and webhook delivery targets.
	Alerts AlertsConfig `yaml:"alerts"`

	// Fleet controls polling of scanner agents that expose a status_url.
	Fleet FleetConfig `yaml:"fleet"`
}

// FleetConfig controls the agent health poller.
type FleetConfig struct {
	// Interval between polls of every scanner's /metrics. Default: 30s.
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds a single scrape. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`

	// SendBaseline is the mean delivery latency at which an agent loses its
	// full latency score. Zero disables the latency factor. Default: 2s.
	SendBaseline time.Duration `yaml:"send_baseline"`
}

// StoreConfig controls in-memory retention.
type StoreConfig struct {
	// TTL is how long a device or unregistered scanner remains in the store
	// after its last sighting. Registered scanners are never evicted; they
	// are reported offline instead. Default: 5m.
	TTL time.Duration `yaml:"ttl"`
}

// PrivacyConfig names the environment variable holding the hashing salt.
type PrivacyConfig struct {
	SaltEnv string `yaml:"salt_env"`
}

// Salt returns the salt resolved from the environment, or DefaultSalt.
func (p PrivacyConfig) Salt() string {
	name := p.SaltEnv
	if name == "" {
		name = DefaultSaltEnv
	}
	if v := os.Getenv(name); v != "" {
		return v
	}
	return DefaultSalt
}

// ScannerConfig registers one scanner node.
type ScannerConfig struct {
	MAC      string `yaml:"mac"`
	Name     string `yaml:"name"`
	Location string `yaml:"location"`

	// StatusURL is the base URL of the agent's status server, e.g.
	// "http://10.0.0.12:9102". When set, its /metrics is polled.
	StatusURL string `yaml:"status_url"`
}

// AssetConfig registers one tracked device.
type AssetConfig struct {
	MAC  string `yaml:"mac"`
	Name string `yaml:"name"`
}

// NATSConfig configures the NATS intake.
type NATSConfig struct {
	// URL is the NATS server to connect to. Empty disables the intake.
	URL string `yaml:"url"`

	// Subject is the request subject (default proxiscan.scan).
	Subject string `yaml:"subject"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			ScanPath: DefaultScanPath,
			Store:    StoreConfig{TTL: DefaultStoreTTL},
			Privacy:  PrivacyConfig{SaltEnv: DefaultSaltEnv},
			NATS:     NATSConfig{Subject: DefaultNATSSubject},
			Alerts:   AlertsConfig{QuietAfter: DefaultAlertQuiet},
			Fleet:    FleetConfig{Interval: DefaultFleetPoll, Timeout: DefaultFleetTimeout, SendBaseline: DefaultSendBaseline},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if !strings.HasPrefix(s.ScanPath, "/") {
		return fmt.Errorf("server.scan_path %q must start with /", s.ScanPath)
	}
	if strings.HasPrefix(s.ScanPath, "/api/v1/") || strings.HasPrefix(s.ScanPath, "/ws/") {
		return fmt.Errorf("server.scan_path %q collides with a built-in route", s.ScanPath)
	}
	if s.Store.TTL <= 0 {
		return fmt.Errorf("server.store.ttl must be positive")
	}
	seen := make(map[string]bool, len(s.Scanners))
	for i, sc := range s.Scanners {
		if sc.MAC == "" {
			return fmt.Errorf("server.scanners[%d]: mac is required", i)
		}
		if seen[sc.MAC] {
			return fmt.Errorf("server.scanners[%d]: duplicate mac %q", i, sc.MAC)
		}
		seen[sc.MAC] = true
		if sc.StatusURL != "" && !strings.HasPrefix(sc.StatusURL, "http://") && !strings.HasPrefix(sc.StatusURL, "https://") {
			return fmt.Errorf("server.scanners[%d]: status_url %q must be an http(s) URL", i, sc.StatusURL)
		}
	}
	if s.Fleet.Interval <= 0 || s.Fleet.Timeout <= 0 {
		return fmt.Errorf("server.fleet.interval and server.fleet.timeout must be positive")
	}
	for i, a := range s.Assets {
		if a.MAC == "" {
			return fmt.Errorf("server.assets[%d]: mac is required", i)
		}
	}
	if s.NATS.URL != "" && s.NATS.Subject == "" {
		return fmt.Errorf("server.nats.subject is required when server.nats.url is set")
	}
	if s.Alerts.QuietAfter <= 0 {
		return fmt.Errorf("server.alerts.quiet_after must be positive")
	}
	for i, wh := range s.Alerts.Webhooks {
		switch wh.Type {
		case "slack", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d]: type %q unknown: want slack|http", i, wh.Type)
		}
	}
	return nil
}
