// Package coding implements the Gioia coding phases: first-order codes per
// paper, second-order themes over the code set, and aggregate dimensions over
// the themes.
package coding

import (
	"go.uber.org/zap"
)

// DefaultConcurrency bounds concurrent gateway calls within a phase.
const DefaultConcurrency = 8

// Step names used to tag gateway calls.
const (
	StepCodes      = "codes"
	StepThemes     = "themes"
	StepDimensions = "dimensions"
)

type options struct {
	logger      *zap.Logger
	concurrency int
	maxTokens   int
}

// Option configures a phase component.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithConcurrency bounds concurrent gateway calls. Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithMaxTokens sets the response token limit for each call.
func WithMaxTokens(n int) Option {
	return func(o *options) { o.maxTokens = n }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
