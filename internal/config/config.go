package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	History   HistoryConfig   `yaml:"history" mapstructure:"history"`
	Compare   CompareConfig   `yaml:"compare" mapstructure:"compare"`
	Decide    DecideConfig    `yaml:"decide" mapstructure:"decide"`
	Advisory  AdvisoryConfig  `yaml:"advisory" mapstructure:"advisory"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the learning database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// HistoryConfig configures the static vendor history table.
type HistoryConfig struct {
	// SeedPath points at a .yaml, .json, or .xlsx seed file. Empty means the
	// embedded default seed.
	SeedPath string `yaml:"seed_path" mapstructure:"seed_path"`
}

// CompareConfig configures the price comparator.
type CompareConfig struct {
	RatioLow              float64 `yaml:"ratio_low" mapstructure:"ratio_low"`
	RatioHigh             float64 `yaml:"ratio_high" mapstructure:"ratio_high"`
	Epsilon               float64 `yaml:"epsilon" mapstructure:"epsilon"`
	PreferredObservations int     `yaml:"preferred_observations" mapstructure:"preferred_observations"`
	TaxRateTolerance      float64 `yaml:"tax_rate_tolerance" mapstructure:"tax_rate_tolerance"`
}

// DecideConfig configures the decision engine.
type DecideConfig struct {
	VendorConfidenceThreshold float64 `yaml:"vendor_confidence_threshold" mapstructure:"vendor_confidence_threshold"`
	MaxQuestions              int     `yaml:"max_questions" mapstructure:"max_questions"`
}

// AdvisoryConfig configures the LLM advisory layer.
type AdvisoryConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries     int     `yaml:"retries" mapstructure:"retries"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentInvoices int `yaml:"max_concurrent_invoices" mapstructure:"max_concurrent_invoices"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INVOICEGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "invoiceguard.db")
	v.SetDefault("history.seed_path", "")
	v.SetDefault("compare.ratio_low", 0.75)
	v.SetDefault("compare.ratio_high", 1.5)
	v.SetDefault("compare.epsilon", 0.01)
	v.SetDefault("compare.preferred_observations", 3)
	v.SetDefault("compare.tax_rate_tolerance", 0.005)
	v.SetDefault("decide.vendor_confidence_threshold", 0.85)
	v.SetDefault("decide.max_questions", 3)
	v.SetDefault("advisory.enabled", true)
	v.SetDefault("advisory.timeout_secs", 15)
	v.SetDefault("advisory.retries", 1)
	v.SetDefault("advisory.max_tokens", 800)
	v.SetDefault("advisory.temperature", 0.1)
	v.SetDefault("advisory.rate_per_sec", 1)
	// The empty default registers the key with viper so AutomaticEnv can
	// resolve INVOICEGUARD_ANTHROPIC_KEY during Unmarshal.
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("batch.max_concurrent_invoices", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
