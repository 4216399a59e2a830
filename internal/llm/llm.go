// Package llm is the chat-completion boundary. Providers are wrapped by
// middleware for logging, rate limiting and usage accounting, and the Gateway
// picks a provider from configuration with an optional fallback.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/academiaos/academiaos/internal/config"
)

// ErrConfigurationMissing is returned when no provider can be built.
var ErrConfigurationMissing = config.ErrConfigurationMissing

// Role is the author of a message.
type Role string

const (
	RoleSystem Role = "system"
	RoleHuman  Role = "human"
)

// Message is one prompt message.
type Message struct {
	Role    Role
	Content string
}

// Request is a single completion request.
type Request struct {
	Messages  []Message
	MaxTokens int
	// JSON asks the provider for a JSON object response.
	JSON bool
	// Step names the pipeline step issuing the call.
	Step string
}

// System returns the concatenated system messages.
func (r Request) System() string {
	return r.join(RoleSystem)
}

// User returns the concatenated human messages.
func (r Request) User() string {
	return r.join(RoleHuman)
}

func (r Request) join(role Role) string {
	var out string
	for _, m := range r.Messages {
		if m.Role != role {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += m.Content
	}
	return out
}

// Size returns the number of prompt bytes.
func (r Request) Size() int {
	n := 0
	for _, m := range r.Messages {
		n += len(m.Content)
	}
	return n
}

// Usage reports token accounting for one call.
type Usage struct {
	Provider     string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Response is a completion result.
type Response struct {
	Text  string
	Usage Usage
}

// Provider is a chat completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ProviderError is a transport, auth or rate-limit failure from a provider.
// It is recoverable: callers decide whether to skip the unit or abort.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsProviderError reports whether err wraps a *ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// providerFailure converts a provider error. Context cancellation is returned
// unwrapped so callers can tell a canceled run from a failed call.
func providerFailure(ctx context.Context, provider string, status int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ProviderError{Provider: provider, StatusCode: status, Err: err}
}
