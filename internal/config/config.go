// Package config manages application configuration from default values,
// an optional config.yaml file, and LEAD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Mailgun  MailgunConfig  `mapstructure:"mailgun"`
	Drip     DripConfig     `mapstructure:"drip"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"             validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"     validate:"min=1s"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"    validate:"min=1s"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// GeminiConfig holds settings for the Gemini analyzer. An empty API key
// disables the LLM analyzer; the keyword analyzer is used instead.
type GeminiConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"       validate:"required"`
	MaxRetries int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"min=0"`
}

// MailgunConfig holds email delivery settings. An empty API key disables
// outbound email; due jobs then fail against their retry budget.
type MailgunConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Domain  string        `mapstructure:"domain"`
	From    string        `mapstructure:"from"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"min=0"`
}

// DripConfig holds drip campaign settings.
type DripConfig struct {
	DispatchSchedule string        `mapstructure:"dispatch_schedule" validate:"required"`
	PurgeSchedule    string        `mapstructure:"purge_schedule"    validate:"required"`
	SendDelay        time.Duration `mapstructure:"send_delay"        validate:"min=0"`
}

// LoadConfig loads and validates configuration. Precedence, lowest first:
// defaults, the YAML file at path (missing file is fine), then LEAD_*
// environment variables (e.g. LEAD_MAILGUN_API_KEY).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("LEAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// A missing config file is fine; defaults and env cover everything.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.path", "leadengine.db")

	// Secrets default to empty so the env bindings exist even without a
	// config file.
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("gemini.max_retries", 3)
	v.SetDefault("gemini.retry_delay", 2*time.Second)

	v.SetDefault("mailgun.api_key", "")
	v.SetDefault("mailgun.domain", "")
	v.SetDefault("mailgun.from", "")
	v.SetDefault("mailgun.base_url", "https://api.mailgun.net")
	v.SetDefault("mailgun.timeout", 10*time.Second)

	// Dispatch hourly, purge daily at 03:30.
	v.SetDefault("drip.dispatch_schedule", "0 * * * *")
	v.SetDefault("drip.purge_schedule", "30 3 * * *")
	v.SetDefault("drip.send_delay", 2*time.Second)
}
