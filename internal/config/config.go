package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "MEDASSIST_"
	configPathEnv     = "MEDASSIST_CONFIG"
	defaultConfigPath = "config.yaml"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	LLM       LLMConfig       `koanf:"llm"`
	History   HistoryConfig   `koanf:"history"`
	Storage   StorageConfig   `koanf:"storage"`
	Retention RetentionConfig `koanf:"retention"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// LLMConfig selects the model endpoint.  BaseURL may point at any OpenAI
// compatible API, including Gemini's.
type LLMConfig struct {
	APIKey       string  `koanf:"api_key"`
	BaseURL      string  `koanf:"base_url"`
	PredictModel string  `koanf:"predict_model"`
	ExplainModel string  `koanf:"explain_model"`
	Temperature  float32 `koanf:"temperature"`
	Stream       bool    `koanf:"stream"`
}

// HistoryConfig bounds the context sent to the model.  Zero means unbounded.
type HistoryConfig struct {
	MaxTurns  int `koanf:"max_turns"`
	MaxTokens int `koanf:"max_tokens"`
}

type StorageConfig struct {
	Driver        string `koanf:"driver"`
	DSN           string `koanf:"dsn"`
	NotifyChannel string `koanf:"notify_channel"`
}

// RetentionConfig drives the transcript sweep.  An empty schedule disables it.
type RetentionConfig struct {
	Schedule string        `koanf:"schedule"`
	MaxAge   time.Duration `koanf:"max_age"`
}

type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

var defaults = map[string]any{
	"server.port":            8080,
	"server.request_timeout": 60 * time.Second,
	"llm.predict_model":      "gpt-4o-mini",
	"llm.temperature":        0.2,
	"llm.stream":             true,
	"storage.driver":         "memory",
	"storage.notify_channel": "transcript_updates",
}

// Load reads the optional YAML file named by MEDASSIST_CONFIG (config.yaml by
// default), then environment variables such as MEDASSIST_LLM__API_KEY, then
// the plain PORT variable, then fills in defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	path := os.Getenv(configPathEnv)
	if path == "" {
		path = defaultConfigPath
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Hosting platforms announce the listen port in PORT.
	if port := os.Getenv("PORT"); port != "" && !k.Exists("server.port") {
		k.Set("server.port", port)
	}

	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.LLM.APIKey = substituteEnvVars(cfg.LLM.APIKey)
	cfg.Storage.DSN = substituteEnvVars(cfg.Storage.DSN)
	if cfg.LLM.ExplainModel == "" {
		cfg.LLM.ExplainModel = cfg.LLM.PredictModel
	}
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	return &cfg, nil
}

// Validate reports the first setting that prevents the service from starting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return errors.New("llm.api_key is required")
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Retention.Schedule != "" && c.Retention.MaxAge <= 0 {
		return errors.New("retention.max_age must be positive when retention.schedule is set")
	}
	if c.History.MaxTurns < 0 || c.History.MaxTokens < 0 {
		return errors.New("history limits must not be negative")
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
