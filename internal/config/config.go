// ABOUTME: Configuration loading for the oak-relay edge process and local daemon.
// ABOUTME: YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the timing constants governing liveness. The validation rule
// request_timeout > heartbeat_interval * miss_threshold must hold so a
// mid-request session is never reported offline by a false heartbeat miss.
const (
	DefaultHeartbeatInterval = 20 * time.Second
	DefaultMissThreshold     = 3
	DefaultRequestTimeout    = 90 * time.Second
)

// Edge is the configuration for the edge relay process.
type Edge struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Relay     RelayConfig     `yaml:"relay"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// Daemon is the configuration for the local daemon.
type Daemon struct {
	BaseURL    string       `yaml:"base_url"`
	Project    string       `yaml:"project"`
	RelayToken string       `yaml:"relay_token"`
	Tools      ToolsConfig  `yaml:"tools"`
	Relay      RelayConfig  `yaml:"relay"`
	Logging    LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the edge listen address.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds optional tsnet listener configuration for the edge.
// Funnel exposes the relay on a public HTTPS URL without a public host.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	Funnel    bool   `yaml:"funnel"`
}

// DatabaseConfig holds the credential store location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RelayConfig holds the relay timing constants. On the edge the heartbeat
// settings drive session liveness; on the daemon they drive the send interval
// and the idle detector.
type RelayConfig struct {
	DefaultProject string `yaml:"default_project"`

	HeartbeatInterval time.Duration `yaml:"-"`
	MissThreshold     int           `yaml:"miss_threshold"`
	RequestTimeout    time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	RequestTimeoutRaw    string `yaml:"request_timeout"`
}

// ToolsConfig points the daemon at the local tool-execution service.
type ToolsConfig struct {
	BaseURL string `yaml:"base_url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds the edge metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoadEdge reads and validates an edge configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadEdge(path string) (*Edge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Edge
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Relay.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.Relay.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// LoadDaemon reads and validates a daemon configuration file.
func LoadDaemon(path string) (*Daemon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Daemon
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Relay.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.Relay.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required edge fields are present and consistent.
func (c *Edge) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return c.Relay.validate()
}

// Validate checks that all required daemon fields are present and consistent.
func (c *Daemon) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.Project == "" {
		return fmt.Errorf("project is required")
	}
	if c.RelayToken == "" {
		return fmt.Errorf("relay_token is required")
	}
	if c.Tools.BaseURL == "" {
		return fmt.Errorf("tools.base_url is required")
	}
	return c.Relay.validate()
}

func (r *RelayConfig) applyDefaults() {
	if r.HeartbeatInterval == 0 {
		r.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if r.MissThreshold == 0 {
		r.MissThreshold = DefaultMissThreshold
	}
	if r.RequestTimeout == 0 {
		r.RequestTimeout = DefaultRequestTimeout
	}
}

func (r *RelayConfig) validate() error {
	if r.HeartbeatInterval <= 0 {
		return fmt.Errorf("relay.heartbeat_interval must be positive")
	}
	if r.MissThreshold < 1 {
		return fmt.Errorf("relay.miss_threshold must be at least 1")
	}
	if r.RequestTimeout <= r.HeartbeatInterval*time.Duration(r.MissThreshold) {
		return fmt.Errorf("relay.request_timeout (%s) must exceed heartbeat_interval * miss_threshold (%s)",
			r.RequestTimeout, r.HeartbeatInterval*time.Duration(r.MissThreshold))
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func (r *RelayConfig) parseDurations() error {
	var err error

	if r.HeartbeatIntervalRaw != "" {
		r.HeartbeatInterval, err = time.ParseDuration(r.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_interval %q: %w", r.HeartbeatIntervalRaw, err)
		}
	}

	if r.RequestTimeoutRaw != "" {
		r.RequestTimeout, err = time.ParseDuration(r.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", r.RequestTimeoutRaw, err)
		}
	}

	return nil
}
