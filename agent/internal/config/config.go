package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from every source.
const (
	DefaultEndpoint      = "http://localhost:3001/api/scan"
	DefaultScanInterval  = 10 * time.Second
	DefaultBatchInterval = 5 * time.Second
	DefaultScannerMAC    = "B8:27:EB:00:00:01"
	DefaultSendTimeout   = 5 * time.Second
	DefaultTransport     = "http"
	DefaultSource        = "ble"
	DefaultNATSSubject   = "proxiscan.scan"
	DefaultLogLevel      = "info"
)

// Config is the top-level agent configuration file.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all scanner agent settings.
type AgentConfig struct {
	// Endpoint is the ingestion target: an http(s) URL, or a nats:// URL
	// when Transport is "nats".
	Endpoint string `yaml:"endpoint" validate:"required,url"`

	// ScanInterval is passed through to the discovery source.
	ScanInterval time.Duration `yaml:"scan_interval" validate:"gt=0"`

	// BatchInterval is the dispatch period.
	BatchInterval time.Duration `yaml:"batch_interval" validate:"gt=0"`

	// ScannerMAC is the identity stamped on every outgoing item.
	ScannerMAC string `yaml:"scanner_mac" validate:"required"`

	// SendTimeout bounds one delivery attempt.
	SendTimeout time.Duration `yaml:"send_timeout" validate:"gt=0"`

	// Transport is one of: http | nats.
	Transport string `yaml:"transport" validate:"oneof=http nats"`

	// NATS holds settings used when Transport is "nats".
	NATS NATSConfig `yaml:"nats"`

	// Discovery selects the detection source.
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Status configures the local status HTTP server.
	Status StatusConfig `yaml:"status"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// NATSConfig configures the NATS transport.
type NATSConfig struct {
	Subject string `yaml:"subject"`
}

// DiscoveryConfig selects and tunes the discovery source.
type DiscoveryConfig struct {
	// Source is one of: ble | simulate.
	Source string `yaml:"source" validate:"oneof=ble simulate"`

	// Seed makes the simulated source deterministic; 0 = random.
	Seed int64 `yaml:"seed"`
}

// StatusConfig configures the local status server.
type StatusConfig struct {
	// Listen is the address for /healthz, /metrics and /ws/detections,
	// e.g. ":9102". Empty disables the server.
	Listen string `yaml:"listen"`
}

// Level returns the slog level for LogLevel.
func (a AgentConfig) Level() slog.Level {
	switch a.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var validate = validator.New()

// Load builds the configuration from defaults, the YAML file at path (if it
// exists; path may be empty), .env, and the environment.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.Debug("config: file not found, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("config: read file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse yaml: %w", err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	if err := applyEnv(&cfg.Agent, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := check(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Endpoint:      DefaultEndpoint,
			ScanInterval:  DefaultScanInterval,
			BatchInterval: DefaultBatchInterval,
			ScannerMAC:    DefaultScannerMAC,
			SendTimeout:   DefaultSendTimeout,
			Transport:     DefaultTransport,
			NATS:          NATSConfig{Subject: DefaultNATSSubject},
			Discovery:     DiscoveryConfig{Source: DefaultSource},
			LogLevel:      DefaultLogLevel,
		},
	}
}

// applyEnv overlays environment variables onto a. lookup is os.LookupEnv
// outside tests.
func applyEnv(a *AgentConfig, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		d, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = d
		return nil
	}

	str("API_URL", &a.Endpoint)
	str("SCANNER_MAC", &a.ScannerMAC)
	str("TRANSPORT", &a.Transport)
	str("NATS_SUBJECT", &a.NATS.Subject)
	str("DISCOVERY_SOURCE", &a.Discovery.Source)
	str("STATUS_LISTEN", &a.Status.Listen)
	str("LOG_LEVEL", &a.LogLevel)

	if err := dur("SCAN_INTERVAL", &a.ScanInterval); err != nil {
		return err
	}
	if err := dur("BATCH_INTERVAL", &a.BatchInterval); err != nil {
		return err
	}
	return dur("SEND_TIMEOUT", &a.SendTimeout)
}

// parseInterval accepts integer seconds ("5") or a Go duration ("5s").
func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", v)
	}
	return d, nil
}

// check runs tag validation followed by cross-field rules.
func check(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	a := cfg.Agent
	switch a.Transport {
	case "http":
		if !strings.HasPrefix(a.Endpoint, "http://") && !strings.HasPrefix(a.Endpoint, "https://") {
			return fmt.Errorf("agent.endpoint %q must be an http(s) URL for the http transport", a.Endpoint)
		}
	case "nats":
		if !strings.HasPrefix(a.Endpoint, "nats://") && !strings.HasPrefix(a.Endpoint, "tls://") {
			return fmt.Errorf("agent.endpoint %q must be a nats:// URL for the nats transport", a.Endpoint)
		}
		if a.NATS.Subject == "" {
			return fmt.Errorf("agent.nats.subject is required for the nats transport")
		}
	}
	return nil
}
