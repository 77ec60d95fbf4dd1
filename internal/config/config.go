package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"callguard/internal/llm"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig selects and configures the record store
type DatabaseConfig struct {
	Type string `yaml:"type"` // "memory", "sqlite" or "postgres"
	Path string `yaml:"path"` // SQLite path or PostgreSQL URL

	// Base64 AES-256 key. When set, transcriptions are sealed at rest.
	EncryptionKey string `yaml:"encryption_key"`
}

// Config holds application configuration
type Config struct {
	Server struct {
		Port        string `yaml:"port"`
		AllowOrigin string `yaml:"allow_origin"`
	} `yaml:"server"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`

	Database DatabaseConfig `yaml:"database"`

	// Multiple providers configuration
	Providers []llm.ProviderConfig `yaml:"providers"`

	// Single provider config, used when no providers are listed
	Gemini struct {
		APIKey     string `yaml:"api_key"`
		ModelName  string `yaml:"model_name"`
		MaxRetries int    `yaml:"max_retries"`
	} `yaml:"gemini"`

	MaxFailuresBeforeSwitch int `yaml:"max_failures_before_switch"`

	Classifier struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"classifier"`

	Analysis struct {
		// Transcriptions shorter than this (in characters, after trimming) are not analyzed
		MinLength int `yaml:"min_length"`
	} `yaml:"analysis"`

	Alerts struct {
		WarnThreshold  int `yaml:"warn_threshold"`
		BlockThreshold int `yaml:"block_threshold"`
	} `yaml:"alerts"`

	Auth struct {
		Enabled   bool   `yaml:"enabled"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Realtime struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"realtime"`

	Telegram struct {
		Enabled  bool    `yaml:"enabled"`
		BotToken string  `yaml:"bot_token"`
		ChatIDs  []int64 `yaml:"chat_ids"`
	} `yaml:"telegram"`

	AMQP struct {
		Enabled    bool   `yaml:"enabled"`
		URL        string `yaml:"url"`
		Exchange   string `yaml:"exchange"`
		RoutingKey string `yaml:"routing_key"`
	} `yaml:"amqp"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the environment.
// Missing files are skipped and variables already set are kept.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// LoadConfig loads configuration from YAML file. Keys missing from the file
// keep their defaults; keys that are present, zero values included, win.
func LoadConfig(configPath string) (*Config, error) {
	config := defaultConfig()

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if config.Database.Type == "sqlite" && config.Database.Path == "" {
		config.Database.Path = "./data/callguard.db"
	}

	// Expand environment variables in secrets
	for i := range config.Providers {
		config.Providers[i].APIKey = os.ExpandEnv(config.Providers[i].APIKey)
	}
	config.Gemini.APIKey = os.ExpandEnv(config.Gemini.APIKey)
	config.Database.Path = os.ExpandEnv(config.Database.Path)
	config.Database.EncryptionKey = os.ExpandEnv(config.Database.EncryptionKey)
	config.Auth.JWTSecret = os.ExpandEnv(config.Auth.JWTSecret)
	config.Telegram.BotToken = os.ExpandEnv(config.Telegram.BotToken)
	config.AMQP.URL = os.ExpandEnv(config.AMQP.URL)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func defaultConfig() *Config {
	c := &Config{}

	c.Server.Port = "5000"
	c.Server.AllowOrigin = "*"

	c.Log.Level = "info"

	c.Database.Type = "memory"

	c.Gemini.APIKey = "${GEMINI_API_KEY}"
	c.Gemini.ModelName = "gemini-2.5-pro"
	c.Gemini.MaxRetries = 1

	c.MaxFailuresBeforeSwitch = 3
	c.Classifier.Timeout = 30 * time.Second
	c.Analysis.MinLength = 10

	c.Alerts.WarnThreshold = 30
	c.Alerts.BlockThreshold = 60

	c.AMQP.Exchange = "callguard"
	c.AMQP.RoutingKey = "scam.detected"

	return c
}

// Validate checks settings that have no sensible fallback
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}
	if c.Database.Type == "postgres" && c.Database.Path == "" {
		return fmt.Errorf("database.path must hold a PostgreSQL URL")
	}

	if c.Analysis.MinLength < 1 {
		return fmt.Errorf("analysis.min_length must be at least 1, got %d", c.Analysis.MinLength)
	}

	if c.Classifier.Timeout <= 0 {
		return fmt.Errorf("classifier.timeout must be positive")
	}

	if c.MaxFailuresBeforeSwitch < 1 {
		return fmt.Errorf("max_failures_before_switch must be at least 1")
	}

	if c.Alerts.WarnThreshold < 0 || c.Alerts.BlockThreshold > 100 ||
		c.Alerts.WarnThreshold > c.Alerts.BlockThreshold {
		return fmt.Errorf("alert thresholds must satisfy 0 <= warn (%d) <= block (%d) <= 100",
			c.Alerts.WarnThreshold, c.Alerts.BlockThreshold)
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram alerts are enabled")
	}

	if c.AMQP.Enabled && c.AMQP.URL == "" {
		return fmt.Errorf("amqp.url is required when amqp publishing is enabled")
	}

	return nil
}

// ClassifierProviders returns the configured providers, or the single
// Gemini provider when none are listed
func (c *Config) ClassifierProviders() []llm.ProviderConfig {
	if len(c.Providers) > 0 {
		return c.Providers
	}
	return []llm.ProviderConfig{{
		Type:       llm.ProviderGemini,
		APIKey:     c.Gemini.APIKey,
		ModelName:  c.Gemini.ModelName,
		MaxRetries: c.Gemini.MaxRetries,
	}}
}
