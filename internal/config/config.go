package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	transport "github.com/glimte/rabbitmq-transport/transports/rabbitmq"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration of the command line tool.
type Config struct {
	ConnectionString string         `yaml:"connection_string"`
	Endpoint         EndpointConfig `yaml:"endpoint"`
	Receive          ReceiveConfig  `yaml:"receive"`
	Dispatch         DispatchConfig `yaml:"dispatch"`
	Log              LogConfig      `yaml:"log"`
}

// EndpointConfig identifies the endpoint.
type EndpointConfig struct {
	Name            string `yaml:"name"`
	HostDisplayName string `yaml:"host_display_name"` // defaults to the host name
	DurableMessages bool   `yaml:"durable_messages"`
}

// ReceiveConfig holds message pump settings.
type ReceiveConfig struct {
	PrefetchMultiplier int           `yaml:"prefetch_multiplier"`
	PrefetchCount      int           `yaml:"prefetch_count"` // 0 computes it from the multiplier
	MaxConcurrency     int           `yaml:"max_concurrency"`
	PurgeOnStartup     bool          `yaml:"purge_on_startup"`
	CircuitBreakerWait time.Duration `yaml:"circuit_breaker_wait"`
}

// DispatchConfig holds outgoing message settings.
type DispatchConfig struct {
	PublisherConfirms bool          `yaml:"publisher_confirms"`
	FailureThreshold  uint32        `yaml:"failure_threshold"`
	ResetTimeout      time.Duration `yaml:"reset_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns a configuration with default values.
func Default() *Config {
	settings := transport.DefaultSettings()

	return &Config{
		ConnectionString: "host=localhost",
		Endpoint: EndpointConfig{
			DurableMessages: settings.DurableMessages,
		},
		Receive: ReceiveConfig{
			PrefetchMultiplier: settings.PrefetchMultiplier,
			PrefetchCount:      settings.PrefetchCount,
			MaxConcurrency:     settings.MaxConcurrency,
			CircuitBreakerWait: settings.TimeToWaitBeforeTriggeringCircuitBreaker,
		},
		Dispatch: DispatchConfig{
			PublisherConfirms: settings.UsePublisherConfirms,
			FailureThreshold:  5,
			ResetTimeout:      30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML configuration file on top of the defaults.
// An empty filename or a missing file yields the defaults.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid. The endpoint name is not
// required here because some commands take it from flags.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ConnectionString) == "" {
		return fmt.Errorf("connection_string cannot be empty")
	}
	if _, err := transport.ParseConnectionString(c.ConnectionString); err != nil {
		return fmt.Errorf("connection_string: %w", err)
	}

	if c.Receive.MaxConcurrency < 1 {
		return fmt.Errorf("receive.max_concurrency must be at least 1")
	}
	if c.Receive.PrefetchCount < 0 {
		return fmt.Errorf("receive.prefetch_count cannot be negative")
	}
	if c.Receive.PrefetchMultiplier < 1 {
		return fmt.Errorf("receive.prefetch_multiplier must be at least 1")
	}
	if c.Receive.CircuitBreakerWait <= 0 {
		return fmt.Errorf("receive.circuit_breaker_wait must be positive")
	}

	if c.Dispatch.FailureThreshold == 0 {
		return fmt.Errorf("dispatch.failure_threshold must be at least 1")
	}
	if c.Dispatch.ResetTimeout <= 0 {
		return fmt.Errorf("dispatch.reset_timeout must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// TransportSettings maps the configuration onto transport settings.
func (c *Config) TransportSettings() transport.Settings {
	settings := transport.DefaultSettings()

	settings.EndpointName = c.Endpoint.Name
	if c.Endpoint.HostDisplayName != "" {
		settings.HostDisplayName = c.Endpoint.HostDisplayName
	}
	settings.DurableMessages = c.Endpoint.DurableMessages
	settings.UsePublisherConfirms = c.Dispatch.PublisherConfirms
	settings.TimeToWaitBeforeTriggeringCircuitBreaker = c.Receive.CircuitBreakerWait
	settings.PrefetchMultiplier = c.Receive.PrefetchMultiplier
	settings.PrefetchCount = c.Receive.PrefetchCount
	settings.MaxConcurrency = c.Receive.MaxConcurrency
	settings.PurgeOnStartup = c.Receive.PurgeOnStartup

	return settings
}

// DispatcherOptions returns the dispatcher options of the configuration.
func (c *Config) DispatcherOptions() []transport.DispatcherOption {
	return []transport.DispatcherOption{
		transport.WithDispatchCircuitBreaker(c.Dispatch.FailureThreshold, c.Dispatch.ResetTimeout),
	}
}

// NewLogger builds the logger described by the log section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
