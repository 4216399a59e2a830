package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.LLM.RateLimitBurst == 0 {
		cfg.LLM.RateLimitBurst = 1
	}
	if cfg.LLM.OpenAI.Model == "" {
		cfg.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Anthropic.Model == "" {
		cfg.LLM.Anthropic.Model = "claude-3-5-haiku-latest"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "./models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		switch cfg.Embedding.Provider {
		case "openai":
			cfg.Embedding.Dimensions = 1536
		default:
			cfg.Embedding.Dimensions = 384
		}
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Chunking.Threshold == 0 {
		cfg.Chunking.Threshold = 8000
	}
	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 1200
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 100
	}
	if cfg.Themes.Threshold == 0 {
		cfg.Themes.Threshold = 6000
	}
	if cfg.Themes.Size == 0 {
		cfg.Themes.Size = 800
	}
	if cfg.Themes.Overlap == 0 {
		cfg.Themes.Overlap = 20
	}
	if cfg.Evidence.Threshold == 0 {
		cfg.Evidence.Threshold = 1000
	}
	if cfg.Evidence.Size == 0 {
		cfg.Evidence.Size = 150
	}
	if cfg.Evidence.Overlap == 0 {
		cfg.Evidence.Overlap = 30
	}
	if cfg.Evidence.TopK == 0 {
		cfg.Evidence.TopK = 4
	}
	if cfg.Evidence.SemanticWeight == 0 {
		cfg.Evidence.SemanticWeight = 1.0
	}
	if cfg.Pipeline.Concurrency == 0 {
		cfg.Pipeline.Concurrency = 8
	}
	if cfg.Telemetry.DatabasePath == "" {
		cfg.Telemetry.DatabasePath = "./data/usage.db"
	}
	if cfg.Telemetry.QueueSize == 0 {
		cfg.Telemetry.QueueSize = 256
	}
	if cfg.Storage.SessionDir == "" {
		cfg.Storage.SessionDir = "./data/sessions"
	}
}

// Default returns a config with every default applied and secrets taken from
// the environment. Used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	ApplyEnv(cfg)
	ApplyDefaults(cfg)
	return cfg
}
