package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/academiaos/academiaos/internal/coding"
	"github.com/academiaos/academiaos/internal/config"
	"github.com/academiaos/academiaos/internal/embedding"
	"github.com/academiaos/academiaos/internal/llm"
	"github.com/academiaos/academiaos/internal/modeling"
	"github.com/academiaos/academiaos/internal/retrieval"
)

// BuildComponents wires the phase implementations from cfg.
func BuildComponents(cfg *config.Config, gateway llm.Sender, embedder embedding.Embedder, logger *zap.Logger) (Components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []coding.Option{
		coding.WithLogger(logger),
		coding.WithConcurrency(cfg.Pipeline.Concurrency),
	}
	codes, err := coding.NewCodeExtractor(gateway, cfg.Chunking, opts...)
	if err != nil {
		return Components{}, err
	}
	themes, err := coding.NewThemeAggregator(gateway, cfg.Themes, opts...)
	if err != nil {
		return Components{}, err
	}
	retriever, err := retrieval.New(embedder, retrieval.Options{
		Policy:         cfg.Evidence.Policy(),
		TopK:           cfg.Evidence.TopK,
		KeywordWeight:  cfg.Evidence.KeywordWeight,
		SemanticWeight: cfg.Evidence.SemanticWeight,
	}, retrieval.WithLogger(logger))
	if err != nil {
		return Components{}, fmt.Errorf("evidence: %w", err)
	}
	synth, err := modeling.New(gateway, retriever,
		modeling.WithLogger(logger),
		modeling.WithConcurrency(cfg.Pipeline.Concurrency),
	)
	if err != nil {
		return Components{}, err
	}
	return Components{
		Codes:       codes,
		Themes:      themes,
		Dimensions:  coding.NewDimensionAggregator(gateway, opts...),
		Synthesizer: synth,
	}, nil
}
