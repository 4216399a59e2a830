package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/academiaos/academiaos/internal/config"
)

// New builds the embedder selected by cfg.Embedding.Provider, independent of
// the chat provider, wrapped in an LRU cache.
func New(cfg *config.Config, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ec := cfg.Embedding

	var inner Embedder
	switch ec.Provider {
	case "openai", "compatible":
		key, source, err := cfg.EmbeddingAPIKey()
		if err != nil {
			return nil, err
		}
		logger.Info("embedding credential resolved", zap.String("provider", ec.Provider), zap.String("source", source))
		baseURL := ec.BaseURL
		if baseURL == "" && source == "llm.openai.api_key" {
			baseURL = cfg.LLM.OpenAI.BaseURL
		}
		inner = NewOpenAIEmbedder(key, baseURL, ec.Model, ec.Dimensions)
	case "onnx":
		e, err := NewONNXEmbedder(ec.ModelPath, ec.Dimensions, ec.MaxTokens)
		if err != nil {
			return nil, err
		}
		inner = e
	case "mock":
		inner = NewMockEmbedder(ec.Dimensions)
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", config.ErrConfigurationMissing, ec.Provider)
	}

	if ec.CacheSize <= 0 {
		return inner, nil
	}
	return NewCachedEmbedder(inner, ec.CacheSize)
}
