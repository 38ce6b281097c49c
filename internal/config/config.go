// Package config loads server configuration from YAML with environment
// variable expansion and overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Tools   ToolsConfig   `yaml:"tools"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LLMConfig configures the model providers.
type LLMConfig struct {
	// DefaultProvider picks the provider when a request names none.
	DefaultProvider string `yaml:"default_provider"`

	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`

	// MaxIterations caps model round trips per conversation turn.
	MaxIterations int `yaml:"max_iterations"`

	// MaxTokens bounds each model response.
	MaxTokens int `yaml:"max_tokens"`
}

// ProviderConfig holds one provider's credentials and model selection.
type ProviderConfig struct {
	APIKey        string `yaml:"api_key"`
	DefaultModel  string `yaml:"default_model"`
	FallbackModel string `yaml:"fallback_model"`
}

// ToolsConfig configures the server-side tools.
type ToolsConfig struct {
	// SearXNGURL points web search at a SearXNG instance. Empty uses
	// DuckDuckGo.
	SearXNGURL string `yaml:"searxng_url"`

	// SearchMaxResults is the web search result count per query.
	SearchMaxResults int `yaml:"search_max_results"`

	// SearchCacheTTL is the web search cache lifetime in seconds.
	SearchCacheTTL int `yaml:"search_cache_ttl"`

	// GmailBaseURL overrides the Gmail API endpoint. Used by tests.
	GmailBaseURL string `yaml:"gmail_base_url"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses a YAML config file. ${VAR} references expand from
// the environment before parsing, so API keys never need to live in the
// file itself.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

// Default returns a config with every default applied and API keys taken
// from the environment. Used when no config file is given.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
}

// applyEnvOverrides lets the standard environment variables win over the
// file so deployments can rotate keys without touching config.
func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.LLM.Anthropic.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.LLM.OpenAI.APIKey = key
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Streaming responses stay open for the whole run.
		cfg.Server.WriteTimeout = 5 * time.Minute
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.LLM.MaxIterations == 0 {
		cfg.LLM.MaxIterations = 10
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.Tools.SearchMaxResults == 0 {
		cfg.Tools.SearchMaxResults = 5
	}
	if cfg.Tools.SearchCacheTTL == 0 {
		cfg.Tools.SearchCacheTTL = 300
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
