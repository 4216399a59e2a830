package llm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/academiaos/academiaos/internal/config"
	"github.com/academiaos/academiaos/internal/telemetry"
)

// Gateway sends prompts to the resolved provider. It does not validate
// response content; callers parse and recover.
type Gateway struct {
	provider    Provider
	logger      *zap.Logger
	recorder    telemetry.Recorder
	middlewares []Middleware
	maxTokens   int
	rps         float64
	burst       int
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithRecorder reports usage of every call to rec.
func WithRecorder(rec telemetry.Recorder) Option {
	return func(g *Gateway) { g.recorder = rec }
}

// WithMiddleware adds middlewares applied outside the built-in ones.
func WithMiddleware(mws ...Middleware) Option {
	return func(g *Gateway) { g.middlewares = append(g.middlewares, mws...) }
}

// WithDefaultMaxTokens sets the token limit used when Send gets none.
func WithDefaultMaxTokens(n int) Option {
	return func(g *Gateway) { g.maxTokens = n }
}

// New resolves the configured provider. When it cannot be built, the fallback
// provider is tried and a warning is logged. ErrConfigurationMissing is
// returned when neither can be built.
func New(cfg config.LLMConfig, opts ...Option) (*Gateway, error) {
	g := newGateway(opts...)
	if g.maxTokens == 0 {
		g.maxTokens = cfg.MaxTokens
	}
	g.rps, g.burst = cfg.RateLimitRPS, cfg.RateLimitBurst

	primary, err := BuildProvider(cfg.Provider, cfg)
	if err == nil {
		g.provider = g.wrap(primary)
		return g, nil
	}
	if cfg.FallbackProvider == "" || cfg.FallbackProvider == cfg.Provider {
		return nil, fmt.Errorf("%w: provider %q: %v", ErrConfigurationMissing, cfg.Provider, err)
	}

	g.logger.Warn("primary llm provider unavailable, using fallback",
		zap.String("provider", cfg.Provider),
		zap.String("fallback", cfg.FallbackProvider),
		zap.Error(err),
	)
	fallback, ferr := BuildProvider(cfg.FallbackProvider, cfg)
	if ferr != nil {
		return nil, fmt.Errorf("%w: provider %q: %v; fallback %q: %v",
			ErrConfigurationMissing, cfg.Provider, err, cfg.FallbackProvider, ferr)
	}
	g.provider = g.wrap(fallback)
	return g, nil
}

// NewWithProvider builds a gateway around p, applying the same middleware as New.
func NewWithProvider(p Provider, opts ...Option) *Gateway {
	g := newGateway(opts...)
	g.provider = g.wrap(p)
	return g
}

func newGateway(opts ...Option) *Gateway {
	g := &Gateway{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) wrap(p Provider) Provider {
	mws := append([]Middleware{}, g.middlewares...)
	mws = append(mws, WithLogging(g.logger), WithUsage(g.recorder), WithRateLimit(g.rps, g.burst))
	return Wrap(p, mws...)
}

// BuildProvider constructs the provider called name.
func BuildProvider(name string, cfg config.LLMConfig) (Provider, error) {
	switch name {
	case "openai":
		return NewOpenAIProvider(cfg.OpenAI)
	case "anthropic":
		return NewAnthropicProvider(cfg.Anthropic)
	case "fake":
		return NewFakeProvider(), nil
	case "":
		return nil, errors.New("no provider configured")
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// ProviderName returns the name of the provider in use.
func (g *Gateway) ProviderName() string {
	return g.provider.Name()
}

// SendOption adjusts a single Send call.
type SendOption func(*Request)

// WithMaxTokens limits the completion length. Values below 1 keep the gateway default.
func WithMaxTokens(n int) SendOption {
	return func(r *Request) {
		if n > 0 {
			r.MaxTokens = n
		}
	}
}

// WithJSON asks for a JSON object response.
func WithJSON() SendOption {
	return func(r *Request) { r.JSON = true }
}

// WithStep tags the call with a step name for logs, usage and fakes.
func WithStep(step string) SendOption {
	return func(r *Request) { r.Step = step }
}

// Send issues one completion with a system and a user prompt and returns the text.
func (g *Gateway) Send(ctx context.Context, system, user string, opts ...SendOption) (string, error) {
	req := Request{MaxTokens: g.maxTokens}
	if system != "" {
		req.Messages = append(req.Messages, Message{Role: RoleSystem, Content: system})
	}
	req.Messages = append(req.Messages, Message{Role: RoleHuman, Content: user})
	for _, opt := range opts {
		opt(&req)
	}
	resp, err := g.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Sender is the part of Gateway the pipeline phases depend on.
type Sender interface {
	Send(ctx context.Context, system, user string, opts ...SendOption) (string, error)
}
