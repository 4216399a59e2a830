package coding

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/academiaos/academiaos/internal/chunk"
	"github.com/academiaos/academiaos/internal/llm"
	"github.com/academiaos/academiaos/internal/models"
)

// ThemeAggregator groups first-order codes into second-order themes.
type ThemeAggregator struct {
	gateway llm.Sender
	chunker *chunk.Chunker
	opts    options
}

// ChunkFailure records a chunk whose reply was lost.
type ChunkFailure struct {
	Chunk string
	Err   error
}

// ThemeResult is the outcome of AggregateThemes.
type ThemeResult struct {
	Themes   models.CodeMap
	Chunks   int
	Failures []ChunkFailure
}

// Partial reports whether any chunk contributed nothing because of an error.
func (r *ThemeResult) Partial() bool {
	return len(r.Failures) > 0
}

// NewThemeAggregator returns an aggregator splitting the serialized code set with policy.
func NewThemeAggregator(gateway llm.Sender, policy chunk.Policy, opts ...Option) (*ThemeAggregator, error) {
	c, err := chunk.New(policy)
	if err != nil {
		return nil, fmt.Errorf("themes: %w", err)
	}
	return &ThemeAggregator{gateway: gateway, chunker: c, opts: buildOptions(opts)}, nil
}

// AggregateThemes asks for a theme mapping per chunk of the code set and
// merges the replies in chunk order.
func (a *ThemeAggregator) AggregateThemes(ctx context.Context, codes []string, remarks string) (*ThemeResult, error) {
	res := &ThemeResult{Themes: models.CodeMap{}}
	if len(codes) == 0 {
		return res, nil
	}

	blob, err := json.MarshalIndent(codes, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize codes: %w", err)
	}
	chunks := chunk.Collect(a.chunker.Split(StepThemes, string(blob)))
	res.Chunks = len(chunks)

	maps := make([]models.CodeMap, len(chunks))
	errs := make([]error, len(chunks))
	system := withRemarks(themesSystemPrompt, remarks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.concurrency)
	for i, ch := range chunks {
		g.Go(func() error {
			raw, err := a.gateway.Send(gctx, system, themesUserPrompt(ch.Content),
				llm.WithJSON(), llm.WithStep(StepThemes), llm.WithMaxTokens(a.opts.maxTokens))
			if err != nil {
				if gctx.Err() != nil && isCanceled(err) {
					return err
				}
				a.opts.logger.Warn("theme chunk failed", zap.String("chunk", ch.ID), zap.Error(err))
				errs[i] = err
				return nil
			}
			m, err := ParseCodeMap(raw)
			if err != nil {
				mErr := NewMalformedResponseError(StepThemes, raw, err)
				a.opts.logger.Warn("MalformedResponse",
					zap.String("step", StepThemes),
					zap.String("chunk", ch.ID),
					zap.String("raw", mErr.Raw),
					zap.Error(err),
				)
				errs[i] = mErr
				return nil
			}
			maps[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i := range chunks {
		if errs[i] != nil {
			res.Failures = append(res.Failures, ChunkFailure{Chunk: chunks[i].ID, Err: errs[i]})
			continue
		}
		res.Themes = MergeCodeMaps(res.Themes, maps[i])
	}

	a.opts.logger.Info("themes aggregated",
		zap.Int("codes", len(codes)),
		zap.Int("chunks", len(chunks)),
		zap.Int("failed", len(res.Failures)),
		zap.Int("themes", len(res.Themes)),
	)
	return res, nil
}
