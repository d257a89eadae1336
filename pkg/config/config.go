// Package config loads and validates the huginbot.yaml application
// configuration. One struct tree covers every component; defaults are
// applied before validation, and secrets may be supplied through
// HUGINBOT_* environment variables instead of the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	// DataDir holds the parameter database and generated files.
	DataDir string `yaml:"data_dir" validate:"required"`

	// Provider configures the compute instance adapter.
	Provider ProviderConfig `yaml:"provider"`

	// WorldsFile is the path to the CUE world registry.
	WorldsFile string `yaml:"worlds_file" validate:"required"`

	// Store configures the parameter store.
	Store StoreConfig `yaml:"store"`

	// Remote configures the SSH backup channel.
	Remote RemoteConfig `yaml:"remote"`

	// Notify configures notification delivery budgets.
	Notify NotifyConfig `yaml:"notify"`

	// Idle configures the idle monitor.
	Idle IdleConfig `yaml:"idle"`

	// Guard configures the operation guard.
	Guard GuardConfig `yaml:"guard"`

	// Server configures the HTTP ingest daemon.
	Server ServerConfig `yaml:"server"`

	// Telemetry configures logging, metrics, and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ProviderConfig identifies the compute instance.
type ProviderConfig struct {
	// Kind names the provider implementation. Only "ec2" is supported.
	Kind string `yaml:"kind" validate:"required,oneof=ec2"`

	// InstanceID is the provider-side instance identifier.
	InstanceID string `yaml:"instance_id" validate:"required"`

	// Region is the provider region.
	Region string `yaml:"region" validate:"required"`
}

// StoreConfig configures the SQLite parameter store.
type StoreConfig struct {
	// Path is the database file path. Empty means data_dir/huginbot.db.
	Path string `yaml:"path"`

	// EncryptionKey seals sensitive values at rest. Usually supplied
	// via HUGINBOT_STORE_KEY rather than the file.
	EncryptionKey string `yaml:"encryption_key"`
}

// RemoteConfig configures the SSH backup channel.
type RemoteConfig struct {
	// Enabled turns the backup channel on. Disabled, non-forced stops
	// of a running server are rejected.
	Enabled bool `yaml:"enabled"`

	// Host overrides instance address discovery.
	Host string `yaml:"host"`

	// Port is the SSH port.
	Port int `yaml:"port" validate:"omitempty,min=1,max=65535"`

	// User is the SSH username on the game host.
	User string `yaml:"user"`

	// PrivateKeyPath is the SSH private key file.
	PrivateKeyPath string `yaml:"private_key_path"`

	// KnownHostsPath is the known_hosts file for host verification.
	KnownHostsPath string `yaml:"known_hosts_path"`

	// StrictHostKeyChecking rejects hosts missing from known_hosts.
	StrictHostKeyChecking bool `yaml:"strict_host_key_checking"`

	// BackupDir is where the backup script writes world archives.
	BackupDir string `yaml:"backup_dir"`

	// StopScript is the command fired for backup-then-stop.
	StopScript string `yaml:"stop_script"`
}

// NotifyConfig configures webhook delivery.
type NotifyConfig struct {
	// MaxAttempts bounds rich-payload deliveries.
	MaxAttempts int `yaml:"max_attempts" validate:"omitempty,min=1,max=10"`

	// FallbackMaxAttempts bounds plain-text fallback deliveries.
	FallbackMaxAttempts int `yaml:"fallback_max_attempts" validate:"omitempty,min=1,max=10"`

	// Backoff is multiplied by the attempt number between retries.
	Backoff time.Duration `yaml:"backoff"`

	// Timeout caps each delivery attempt. Ceiling 30s.
	Timeout time.Duration `yaml:"timeout" validate:"omitempty,max=30s"`

	// SuppressionWindow is how long a fallback stop signal counts as a
	// duplicate of a delivered stop notice.
	SuppressionWindow time.Duration `yaml:"suppression_window"`
}

// IdleConfig configures the idle monitor.
type IdleConfig struct {
	// MinUptime is the post-boot grace period before idle alarms act.
	MinUptime time.Duration `yaml:"min_uptime"`

	// Window is the inactivity window the alarm evaluates.
	Window time.Duration `yaml:"window"`
}

// GuardConfig configures the operation guard.
type GuardConfig struct {
	// Enabled turns policy evaluation on.
	Enabled bool `yaml:"enabled"`

	// PolicyDir holds operator .rego files loaded beside the builtins.
	PolicyDir string `yaml:"policy_dir"`

	// Watch hot-reloads PolicyDir on change.
	Watch bool `yaml:"watch"`
}

// ServerConfig configures the huginbot serve daemon.
type ServerConfig struct {
	// ListenAddr is the ingest listen address.
	ListenAddr string `yaml:"listen_addr"`

	// IngestToken is the bearer token required on signal routes.
	// Usually supplied via HUGINBOT_INGEST_TOKEN.
	IngestToken string `yaml:"ingest_token"`
}

// TelemetryConfig configures observability.
type TelemetryConfig struct {
	// LogLevel is the minimum log level.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// LogFormat selects console or json output.
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=console json"`

	// MetricsEnabled serves prometheus metrics from the serve daemon.
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// MetricsAddr is a dedicated metrics listen address; empty serves
	// metrics on the ingest listener.
	MetricsAddr string `yaml:"metrics_addr"`

	// TracingEnabled turns on OpenTelemetry spans.
	TracingEnabled bool `yaml:"tracing_enabled"`

	// TracingExporter selects the span exporter (otlp, stdout).
	TracingExporter string `yaml:"tracing_exporter" validate:"omitempty,oneof=otlp stdout none"`

	// TracingEndpoint is the OTLP collector endpoint.
	TracingEndpoint string `yaml:"tracing_endpoint"`
}

// Default returns a Config with every default applied, missing only the
// values an operator must supply.
func Default() *Config {
	return &Config{
		DataDir:    "./data",
		WorldsFile: "./worlds.cue",
		Provider: ProviderConfig{
			Kind: "ec2",
		},
		Remote: RemoteConfig{
			Port:                  22,
			StrictHostKeyChecking: true,
			BackupDir:             "/opt/valheim/backups",
			StopScript:            "backup-and-stop",
		},
		Notify: NotifyConfig{
			MaxAttempts:         3,
			FallbackMaxAttempts: 2,
			Backoff:             time.Second,
			Timeout:             30 * time.Second,
			SuppressionWindow:   2 * time.Minute,
		},
		Idle: IdleConfig{
			MinUptime: 10 * time.Minute,
			Window:    10 * time.Minute,
		},
		Server: ServerConfig{
			ListenAddr: ":8420",
		},
		Telemetry: TelemetryConfig{
			LogLevel:        "info",
			LogFormat:       "console",
			TracingExporter: "stdout",
		},
	}
}

// Load reads the file at path, layers it over the defaults, applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv overlays secrets and overrides from HUGINBOT_* variables so
// they can stay out of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("HUGINBOT_STORE_KEY"); v != "" {
		c.Store.EncryptionKey = v
	}
	if v := os.Getenv("HUGINBOT_INGEST_TOKEN"); v != "" {
		c.Server.IngestToken = v
	}
	if v := os.Getenv("HUGINBOT_INSTANCE_ID"); v != "" {
		c.Provider.InstanceID = v
	}
	if v := os.Getenv("HUGINBOT_REGION"); v != "" {
		c.Provider.Region = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Telemetry.LogLevel = v
	}
}

// applyDerived fills values computed from others.
func (c *Config) applyDerived() {
	if c.Store.Path == "" && c.DataDir != "" {
		c.Store.Path = filepath.Join(c.DataDir, "huginbot.db")
	}
}

// Validate checks the whole tree and returns the first problem found.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%s: failed %q constraint", fe.Namespace(), fe.Tag())
		}
		return err
	}

	if c.Remote.Enabled && c.Remote.User == "" {
		return fmt.Errorf("remote.user is required when the backup channel is enabled")
	}
	return nil
}
