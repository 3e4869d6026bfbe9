// Package config loads client configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultRequestTimeout = 15 * time.Second

	envBaseURL      = "FEEDSYNC_BASE_URL"
	envTimeout      = "FEEDSYNC_REQUEST_TIMEOUT"
	envTokenDir     = "FEEDSYNC_TOKEN_DIR"
	envOTLPEndpoint = "FEEDSYNC_OTLP_ENDPOINT"
)

// Telemetry configures trace exporting.
type Telemetry struct {
	// Endpoint is the OTLP/HTTP collector host:port. Empty disables export.
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Config is the full client configuration.
type Config struct {
	// BaseURL is the API server root, e.g. https://api.example.com.
	BaseURL string `yaml:"base_url"`
	// RequestTimeout bounds every network call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// TokenDir is where the credential file lives.
	TokenDir  string    `yaml:"token_dir"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// UnmarshalYAML decodes the config, accepting durations in time.ParseDuration
// notation ("15s", "750ms").
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var aux struct {
		BaseURL        string    `yaml:"base_url"`
		RequestTimeout string    `yaml:"request_timeout"`
		TokenDir       string    `yaml:"token_dir"`
		Telemetry      Telemetry `yaml:"telemetry"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	if aux.BaseURL != "" {
		c.BaseURL = aux.BaseURL
	}
	if aux.TokenDir != "" {
		c.TokenDir = aux.TokenDir
	}
	c.Telemetry = aux.Telemetry
	if v := strings.TrimSpace(aux.RequestTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("request_timeout: %w", err)
		}
		c.RequestTimeout = d
	}
	return nil
}

// Default returns the configuration used when no file is present.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		RequestTimeout: defaultRequestTimeout,
		TokenDir:       filepath.Join(home, ".feedsync"),
	}
}

// Load reads the YAML file at path, fills defaults, and applies environment
// overrides. A missing file is not an error; defaults plus environment win.
func Load(path string) (Config, error) {
	cfg := Default()
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		data, err := os.ReadFile(trimmed)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// fall through to env overrides
		case err != nil:
			return Config{}, fmt.Errorf("config: read %s: %w", trimmed, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", trimmed, err)
			}
		}
	}
	applyEnv(&cfg)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return Config{}, errors.New("config: base_url is required")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(envBaseURL)); v != "" {
		cfg.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(envTimeout)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RequestTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv(envTokenDir)); v != "" {
		cfg.TokenDir = v
	}
	if v := strings.TrimSpace(os.Getenv(envOTLPEndpoint)); v != "" {
		cfg.Telemetry.Endpoint = v
	}
}
