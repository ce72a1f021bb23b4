// Package config provides configuration management for tvarr-player using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "TVARR_PLAYER"

// Default configuration values.
const (
	defaultServerPort          = 8090
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultStartupTimeout      = 8 * time.Second
	defaultNetworkRetryLimit   = 3
	defaultNetworkRetryDelay   = 1 * time.Second
	defaultDecodeRecoveryLimit = 1
	defaultServiceTimeout      = 15 * time.Second
	defaultServiceRetries      = 2
	defaultBreakerThreshold    = 5
	defaultBreakerTimeout      = 30 * time.Second
	defaultPollInterval        = 30 * time.Second
	defaultTickInterval        = 1 * time.Second
	defaultRecordingMinutes    = 60
	defaultProxyPathPrefix     = "/api/stream/"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Player    PlayerConfig    `mapstructure:"player"`
	Services  ServicesConfig  `mapstructure:"services"`
	Recording RecordingConfig `mapstructure:"recording"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LogRequests     bool          `mapstructure:"log_requests"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// PlayerConfig holds playback engine configuration.
type PlayerConfig struct {
	// BaseURL is the document location relative stream URLs are resolved against.
	BaseURL string `mapstructure:"base_url"`
	// Autoplay moves a session from Ready straight to Playing.
	Autoplay bool `mapstructure:"autoplay"`
	// StartupTimeout bounds how long a transport-stream adapter may take to
	// produce its first decodable frame before falling back to native playback.
	StartupTimeout      time.Duration `mapstructure:"startup_timeout"`
	NetworkRetryLimit   int           `mapstructure:"network_retry_limit"`
	NetworkRetryDelay   time.Duration `mapstructure:"network_retry_delay"`
	DecodeRecoveryLimit int           `mapstructure:"decode_recovery_limit"`
	// ProxyPathPrefix marks URLs served through the platform relay.
	ProxyPathPrefix string `mapstructure:"proxy_path_prefix"`
	// RecordingPathMarkers mark recorded-program URLs (always progressive).
	RecordingPathMarkers []string `mapstructure:"recording_path_markers"`
}

// ServicesConfig holds endpoints for the external collaborators.
type ServicesConfig struct {
	ChannelsURL      string        `mapstructure:"channels_url"`
	RecordingsURL    string        `mapstructure:"recordings_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

// RecordingConfig holds recording correlation configuration.
type RecordingConfig struct {
	PollInterval           time.Duration `mapstructure:"poll_interval"`
	TickInterval           time.Duration `mapstructure:"tick_interval"`
	DefaultDurationMinutes int           `mapstructure:"default_duration_minutes"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with TVARR_PLAYER_ and use underscores for nesting.
// Example: TVARR_PLAYER_PLAYER_STARTUP_TIMEOUT=5s.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/tvarr-player")
		v.AddConfigPath("$HOME/.tvarr-player")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates configuration from an already-populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", time.Duration(0)) // event streams stay open
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.log_requests", false)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Player defaults
	v.SetDefault("player.base_url", "http://localhost:8080")
	v.SetDefault("player.autoplay", true)
	v.SetDefault("player.startup_timeout", defaultStartupTimeout)
	v.SetDefault("player.network_retry_limit", defaultNetworkRetryLimit)
	v.SetDefault("player.network_retry_delay", defaultNetworkRetryDelay)
	v.SetDefault("player.decode_recovery_limit", defaultDecodeRecoveryLimit)
	v.SetDefault("player.proxy_path_prefix", defaultProxyPathPrefix)
	v.SetDefault("player.recording_path_markers", []string{"/recordings/", "/recording/", "/api/recordings/"})

	// External service defaults
	v.SetDefault("services.channels_url", "http://localhost:8080/api/v1/channels")
	v.SetDefault("services.recordings_url", "http://localhost:8080/api/v1/recordings")
	v.SetDefault("services.timeout", defaultServiceTimeout)
	v.SetDefault("services.retry_attempts", defaultServiceRetries)
	v.SetDefault("services.breaker_threshold", defaultBreakerThreshold)
	v.SetDefault("services.breaker_timeout", defaultBreakerTimeout)

	// Recording correlation defaults
	v.SetDefault("recording.poll_interval", defaultPollInterval)
	v.SetDefault("recording.tick_interval", defaultTickInterval)
	v.SetDefault("recording.default_duration_minutes", defaultRecordingMinutes)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Player.StartupTimeout <= 0 {
		return fmt.Errorf("player.startup_timeout must be positive")
	}
	if c.Player.NetworkRetryLimit < 0 {
		return fmt.Errorf("player.network_retry_limit must not be negative")
	}
	if c.Player.DecodeRecoveryLimit < 0 {
		return fmt.Errorf("player.decode_recovery_limit must not be negative")
	}
	if c.Player.ProxyPathPrefix == "" || !strings.HasPrefix(c.Player.ProxyPathPrefix, "/") {
		return fmt.Errorf("player.proxy_path_prefix must be an absolute path")
	}

	if c.Recording.PollInterval < time.Second {
		return fmt.Errorf("recording.poll_interval must be at least 1s")
	}
	if c.Recording.TickInterval <= 0 {
		return fmt.Errorf("recording.tick_interval must be positive")
	}
	if c.Recording.DefaultDurationMinutes < 1 {
		return fmt.Errorf("recording.default_duration_minutes must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
