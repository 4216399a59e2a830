// Package config provides configuration loading and structs for AcademiaOS.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/academiaos/academiaos/internal/chunk"
)

// Environment variables that override empty secrets in the YAML file.
const (
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvEmbeddingKey = "ACADEMIAOS_EMBEDDING_API_KEY"
)

// ErrConfigurationMissing means a required model or credential is not
// configured. Callers must not start any phase when they see it.
var ErrConfigurationMissing = errors.New("configuration missing")

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  chunk.Policy    `yaml:"chunking"`
	Themes    chunk.Policy    `yaml:"themes"`
	Evidence  EvidenceConfig  `yaml:"evidence"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Storage   StorageConfig   `yaml:"storage"`
}

// LogConfig holds log output settings. An empty File logs to stderr only.
type LogConfig struct {
	File string `yaml:"file"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LLMConfig holds chat provider settings.
type LLMConfig struct {
	Provider         string          `yaml:"provider"`
	FallbackProvider string          `yaml:"fallback_provider"`
	MaxTokens        int             `yaml:"max_tokens"`
	RateLimitRPS     float64         `yaml:"rate_limit_rps"`
	RateLimitBurst   int             `yaml:"rate_limit_burst"`
	OpenAI           OpenAIConfig    `yaml:"openai"`
	Anthropic        AnthropicConfig `yaml:"anthropic"`
}

// OpenAIConfig covers OpenAI and OpenAI-compatible endpoints.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// AnthropicConfig holds Anthropic Messages API settings.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// EmbeddingConfig selects and configures the embedder used for evidence retrieval.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// EvidenceConfig holds the fragment policy and ranking knobs for evidence retrieval.
// KeywordWeight of zero disables hybrid keyword fusion.
type EvidenceConfig struct {
	Threshold      int     `yaml:"threshold"`
	Size           int     `yaml:"size"`
	Overlap        int     `yaml:"overlap"`
	TopK           int     `yaml:"top_k"`
	KeywordWeight  float64 `yaml:"keyword_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
}

// Policy returns the fragment chunking policy.
func (e EvidenceConfig) Policy() chunk.Policy {
	return chunk.Policy{Threshold: e.Threshold, Size: e.Size, Overlap: e.Overlap}
}

// PipelineConfig holds phase execution settings.
type PipelineConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// TelemetryConfig holds usage ledger settings.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
	QueueSize    int    `yaml:"queue_size"`
}

// StorageConfig holds paths for session documents.
type StorageConfig struct {
	SessionDir string `yaml:"session_dir"`
}

// Load reads and parses the config file at path, loads .env secrets, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	loadDotEnv(configDir)
	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)

	cfg.Log.File = expandPath(cfg.Log.File, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Telemetry.DatabasePath = expandPath(cfg.Telemetry.DatabasePath, configDir)
	cfg.Storage.SessionDir = expandPath(cfg.Storage.SessionDir, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyEnv fills empty secrets from the environment.
func ApplyEnv(cfg *Config) {
	if cfg.LLM.OpenAI.APIKey == "" {
		cfg.LLM.OpenAI.APIKey = os.Getenv(EnvOpenAIKey)
	}
	if cfg.LLM.Anthropic.APIKey == "" {
		cfg.LLM.Anthropic.APIKey = os.Getenv(EnvAnthropicKey)
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = os.Getenv(EnvEmbeddingKey)
	}
}

// Validate checks the chunking policies and numeric limits.
func (c *Config) Validate() error {
	if err := c.Chunking.Validate(); err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	if err := c.Themes.Validate(); err != nil {
		return fmt.Errorf("themes: %w", err)
	}
	if err := c.Evidence.Policy().Validate(); err != nil {
		return fmt.Errorf("evidence: %w", err)
	}
	if c.Pipeline.Concurrency < 1 {
		return fmt.Errorf("pipeline: concurrency must be at least 1, got %d", c.Pipeline.Concurrency)
	}
	return nil
}

// EmbeddingAPIKey resolves the embedding credential. A dedicated embedding key
// always wins. The OpenAI chat key is reused only when the embedder is OpenAI.
// The returned source names where the key came from, for logging.
func (c *Config) EmbeddingAPIKey() (key, source string, err error) {
	if c.Embedding.APIKey != "" {
		return c.Embedding.APIKey, "embedding.api_key", nil
	}
	if c.Embedding.Provider == "openai" && c.LLM.OpenAI.APIKey != "" {
		return c.LLM.OpenAI.APIKey, "llm.openai.api_key", nil
	}
	return "", "", fmt.Errorf("%w: no embedding api key for provider %q", ErrConfigurationMissing, c.Embedding.Provider)
}

// loadDotEnv loads .env from the config dir and the working directory. Existing
// environment variables are never overwritten. Missing files are ignored.
func loadDotEnv(configDir string) {
	for _, p := range []string{filepath.Join(configDir, ".env"), ".env"} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
