package coding

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/academiaos/academiaos/internal/llm"
	"github.com/academiaos/academiaos/internal/models"
)

// DimensionAggregator groups themes into aggregate dimensions in one call.
type DimensionAggregator struct {
	gateway llm.Sender
	opts    options
}

// NewDimensionAggregator returns a DimensionAggregator.
func NewDimensionAggregator(gateway llm.Sender, opts ...Option) *DimensionAggregator {
	return &DimensionAggregator{gateway: gateway, opts: buildOptions(opts)}
}

// AggregateDimensions sends the sorted theme names as a JSON array. Unlike the
// chunked phases a malformed reply is a total failure: the result is empty and
// the error is a *MalformedResponseError.
func (d *DimensionAggregator) AggregateDimensions(ctx context.Context, themes models.CodeMap, remarks string) (models.CodeMap, error) {
	if len(themes) == 0 {
		return models.CodeMap{}, nil
	}
	names, err := json.Marshal(themes.Keys())
	if err != nil {
		return models.CodeMap{}, fmt.Errorf("failed to serialize themes: %w", err)
	}

	raw, err := d.gateway.Send(ctx, withRemarks(dimensionsSystemPrompt, remarks), dimensionsUserPrompt(string(names)),
		llm.WithJSON(), llm.WithStep(StepDimensions), llm.WithMaxTokens(d.opts.maxTokens))
	if err != nil {
		return models.CodeMap{}, err
	}
	dims, err := ParseCodeMap(raw)
	if err != nil {
		mErr := NewMalformedResponseError(StepDimensions, raw, err)
		d.opts.logger.Warn("MalformedResponse",
			zap.String("step", StepDimensions),
			zap.String("raw", mErr.Raw),
			zap.Error(err),
		)
		return models.CodeMap{}, mErr
	}

	d.opts.logger.Info("dimensions aggregated",
		zap.Int("themes", len(themes)),
		zap.Int("dimensions", len(dims)),
	)
	return dims, nil
}
