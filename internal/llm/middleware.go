package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/academiaos/academiaos/internal/telemetry"
)

// Middleware decorates a Provider with a cross-cutting concern.
type Middleware func(Provider) Provider

// Wrap applies middlewares in left-to-right order.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner Provider, mws ...Middleware) Provider {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, req Request) (*Response, error)
}

func (p ProviderFunc) Name() string { return p.ProviderName }
func (p ProviderFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return p.Fn(ctx, req)
}

// WithLogging logs request size, step and latency at debug level and errors at warn.
func WithLogging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Provider) Provider {
		return ProviderFunc{
			ProviderName: next.Name(),
			Fn: func(ctx context.Context, req Request) (*Response, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				fields := []zap.Field{
					zap.String("provider", next.Name()),
					zap.String("step", req.Step),
					zap.Int("request_bytes", req.Size()),
					zap.Bool("json", req.JSON),
					zap.Duration("latency", time.Since(start)),
				}
				if err != nil {
					logger.Warn("llm call failed", append(fields, zap.Error(err))...)
					return nil, err
				}
				logger.Debug("llm call", append(fields,
					zap.Int("response_bytes", len(resp.Text)),
					zap.Int64("input_tokens", resp.Usage.InputTokens),
					zap.Int64("output_tokens", resp.Usage.OutputTokens),
				)...)
				return resp, nil
			},
		}
	}
}

// WithRateLimit limits request rate. If rps <= 0 the limiter is disabled.
// Waiting respects ctx.
func WithRateLimit(rps float64, burst int) Middleware {
	return func(next Provider) Provider {
		if rps <= 0 {
			return next
		}
		if burst < 1 {
			burst = 1
		}
		limiter := rate.NewLimiter(rate.Limit(rps), burst)
		return ProviderFunc{
			ProviderName: next.Name(),
			Fn: func(ctx context.Context, req Request) (*Response, error) {
				if err := limiter.Wait(ctx); err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return nil, ctxErr
					}
					// The wait would outlast the deadline.
					return nil, fmt.Errorf("rate limit: %v: %w", err, context.DeadlineExceeded)
				}
				return next.Complete(ctx, req)
			},
		}
	}
}

// WithUsage reports every call to rec. Recording errors are ignored and never
// fail the call; rec should not block (see telemetry.Async).
func WithUsage(rec telemetry.Recorder) Middleware {
	return func(next Provider) Provider {
		if rec == nil {
			return next
		}
		return ProviderFunc{
			ProviderName: next.Name(),
			Fn: func(ctx context.Context, req Request) (*Response, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				ev := telemetry.NewEvent("llm.complete")
				ev.Step = req.Step
				ev.Provider = next.Name()
				ev.Latency = time.Since(start)
				if err != nil {
					ev.Err = err.Error()
				} else {
					ev.Model = resp.Usage.Model
					ev.InputTokens = resp.Usage.InputTokens
					ev.OutputTokens = resp.Usage.OutputTokens
				}
				_ = rec.Record(context.WithoutCancel(ctx), ev)
				return resp, err
			},
		}
	}
}
