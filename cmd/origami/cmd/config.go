package cmd

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/origami/internal/alerting"
	"github.com/good-yellow-bee/origami/internal/api"
	"github.com/good-yellow-bee/origami/internal/ingest"
	"github.com/good-yellow-bee/origami/internal/models"
	"github.com/good-yellow-bee/origami/internal/notifier"
	"github.com/good-yellow-bee/origami/internal/pipeline"
	"github.com/good-yellow-bee/origami/internal/router"
	"github.com/good-yellow-bee/origami/internal/storage"
)

// Config is the origami configuration file.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Storage   storage.Config  `yaml:"storage"`
	Router    router.Config   `yaml:"router"`
	Notifiers NotifiersConfig `yaml:"notifiers"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Pipeline  pipeline.Config `yaml:"pipeline"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Domains   DomainsConfig   `yaml:"domains"`
	Contacts  string          `yaml:"contacts_file"`
	History   int             `yaml:"history_limit"` // alerts retained per domain, 0 keeps all
	Verbose   bool            `yaml:"-"`             // set via CLI flag
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// NotifiersConfig lists the delivery channels to register.
type NotifiersConfig struct {
	Email     *notifier.EmailConfig    `yaml:"email"`
	Webhooks  []notifier.WebhookConfig `yaml:"webhooks"`
	Console   []string                 `yaml:"console"` // channels logged instead of delivered
	Simulated SimulatedConfig          `yaml:"simulated"`
	RateLimit notifier.RateLimitConfig `yaml:"rate_limit"`
}

// SimulatedConfig registers probabilistic notifiers for channels without a
// real gateway.
type SimulatedConfig struct {
	Enabled bool               `yaml:"enabled"`
	Rates   map[string]float64 `yaml:"rates"` // channel -> success probability
	Latency time.Duration      `yaml:"latency"`
}

// IngestConfig lists packet sources for serve.
type IngestConfig struct {
	Files ingest.FileConfig  `yaml:"files"`
	Kafka ingest.KafkaConfig `yaml:"kafka"`
}

// APIConfig enables the reporting API.
type APIConfig struct {
	Enabled    bool `yaml:"enabled"`
	api.Config `yaml:",inline"`
}

// MetricsConfig enables the dedicated Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// DomainsConfig tunes the built-in domain engines.
type DomainsConfig struct {
	ElderlyCare ThresholdConfig `yaml:"elderly_care"`
	Agriculture ThresholdConfig `yaml:"agriculture"`
	Security    SecurityConfig  `yaml:"security"`
}

// ThresholdConfig overrides engine thresholds inline or from a YAML file.
// Inline values win over the file.
type ThresholdConfig struct {
	Thresholds     alerting.Thresholds `yaml:"thresholds"`
	ThresholdsFile string              `yaml:"thresholds_file"`
}

// Resolve merges the thresholds file with the inline values.
func (c ThresholdConfig) Resolve() (alerting.Thresholds, error) {
	if c.ThresholdsFile == "" {
		return c.Thresholds, nil
	}
	fromFile, err := alerting.LoadThresholdsFile(c.ThresholdsFile)
	if err != nil {
		return nil, err
	}
	return c.Thresholds.WithDefaults(fromFile), nil
}

// SecurityConfig points the security engine at a rules file.
type SecurityConfig struct {
	RulesFile string `yaml:"rules_file"` // empty uses the built-in rules
	Watch     bool   `yaml:"watch"`      // reload the rules file on change
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values: SQLite under
// ./data, simulated delivery on every channel and no ingest sources.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Notifiers.Simulated.Enabled = true
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" && c.Storage.Driver == "sqlite" {
		c.Storage.DSN = "./data/origami.db"
	}
	if c.Router.Timeout == 0 {
		c.Router.Timeout = router.DefaultTimeout
	}
	if c.Notifiers.RateLimit == (notifier.RateLimitConfig{}) {
		c.Notifiers.RateLimit = notifier.DefaultRateLimitConfig()
	}
	if c.Ingest.Kafka.GroupID == "" {
		c.Ingest.Kafka.GroupID = "origami"
	}
	c.API.SetDefaults()
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Router.Validate(); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Ingest.Kafka.Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if c.History < 0 {
		return fmt.Errorf("history_limit must not be negative")
	}
	if c.Notifiers.Email != nil {
		if err := c.Notifiers.Email.Validate(); err != nil {
			return fmt.Errorf("notifiers.email: %w", err)
		}
	}
	for i := range c.Notifiers.Webhooks {
		if err := c.Notifiers.Webhooks[i].Validate(); err != nil {
			return fmt.Errorf("notifiers.webhooks[%d]: %w", i, err)
		}
	}
	for ch, rate := range c.Notifiers.Simulated.Rates {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("notifiers.simulated.rates.%s must be between 0 and 1", ch)
		}
	}
	if c.Metrics.Enabled && c.API.Enabled && c.Metrics.Address == c.API.Address {
		return fmt.Errorf("metrics.address must differ from api.address")
	}
	return nil
}

// configuredChannels returns the channels with a real or console notifier.
func (c *Config) configuredChannels() map[models.Channel]bool {
	out := make(map[models.Channel]bool)
	if c.Notifiers.Email != nil {
		out[models.ChannelEmail] = true
	}
	for _, w := range c.Notifiers.Webhooks {
		out[models.ParseChannel(string(w.Channel))] = true
	}
	for _, ch := range c.Notifiers.Console {
		out[models.ParseChannel(ch)] = true
	}
	return out
}
