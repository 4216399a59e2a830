package llm

import (
	"context"
	"sync"
)

// FakeReply is a scripted answer.
type FakeReply struct {
	Text string
	Err  error
}

// FakeHandler answers a request for one step.
type FakeHandler func(req Request) (string, error)

// FakeProvider returns deterministic replies for offline runs and tests.
// Handlers are keyed by step name; a step without a handler gets the default
// handler, and without one of those the reply is "{}".
type FakeProvider struct {
	mu       sync.Mutex
	handlers map[string]FakeHandler
	fallback FakeHandler
	calls    []Request
}

// NewFakeProvider returns an empty fake.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{handlers: make(map[string]FakeHandler)}
}

// On registers fn for step.
func (f *FakeProvider) On(step string, fn FakeHandler) *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[step] = fn
	return f
}

// Reply makes step always answer text.
func (f *FakeProvider) Reply(step, text string) *FakeProvider {
	return f.On(step, func(Request) (string, error) { return text, nil })
}

// Fail makes step always fail with err.
func (f *FakeProvider) Fail(step string, err error) *FakeProvider {
	return f.On(step, func(Request) (string, error) { return "", err })
}

// Script answers step with replies in order. The last reply repeats.
func (f *FakeProvider) Script(step string, replies ...FakeReply) *FakeProvider {
	var mu sync.Mutex
	i := 0
	return f.On(step, func(Request) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(replies) == 0 {
			return "{}", nil
		}
		r := replies[min(i, len(replies)-1)]
		i++
		return r.Text, r.Err
	})
}

// Default sets the handler used for steps without one.
func (f *FakeProvider) Default(fn FakeHandler) *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = fn
	return f
}

// Name returns "fake".
func (f *FakeProvider) Name() string { return "fake" }

// Complete records req and answers it.
func (f *FakeProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn, ok := f.handlers[req.Step]
	if !ok {
		fn = f.fallback
	}
	f.mu.Unlock()

	text := "{}"
	if fn != nil {
		out, err := fn(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &ProviderError{Provider: f.Name(), Err: err}
		}
		text = out
	}
	return &Response{
		Text: text,
		Usage: Usage{
			Provider:     f.Name(),
			Model:        "fake",
			InputTokens:  int64(req.Size() / 4),
			OutputTokens: int64(len(text) / 4),
		},
	}, nil
}

// Calls returns a copy of every request received.
func (f *FakeProvider) Calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.calls...)
}

// CallCount returns how many requests were made for step. An empty step counts all.
func (f *FakeProvider) CallCount(step string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if step == "" {
		return len(f.calls)
	}
	n := 0
	for _, c := range f.calls {
		if c.Step == step {
			n++
		}
	}
	return n
}
