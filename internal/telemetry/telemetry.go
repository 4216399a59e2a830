// Package telemetry records model usage events. Recording is best effort and
// never fails or stalls the call being observed.
package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is one observed model call.
type Event struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Step         string        `json:"step,omitempty"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model,omitempty"`
	InputTokens  int64         `json:"inputTokens"`
	OutputTokens int64         `json:"outputTokens"`
	Latency      time.Duration `json:"latency"`
	Err          string        `json:"error,omitempty"`
	Time         time.Time     `json:"time"`
}

// Recorder stores or forwards events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
	Close() error
}

// NewEvent returns an event with a fresh ID and the current time.
func NewEvent(name string) Event {
	return Event{ID: uuid.NewString(), Name: name, Time: time.Now().UTC()}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
func (Nop) Close() error                        { return nil }

// LogRecorder writes events to a zap logger at debug level.
type LogRecorder struct {
	logger *zap.Logger
}

// NewLogRecorder returns a recorder that logs each event.
func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogRecorder{logger: logger}
}

// Record logs ev.
func (l *LogRecorder) Record(_ context.Context, ev Event) error {
	l.logger.Debug("usage",
		zap.String("event", ev.Name),
		zap.String("step", ev.Step),
		zap.String("provider", ev.Provider),
		zap.String("model", ev.Model),
		zap.Int64("input_tokens", ev.InputTokens),
		zap.Int64("output_tokens", ev.OutputTokens),
		zap.Duration("latency", ev.Latency),
		zap.String("error", ev.Err),
	)
	return nil
}

// Close is a no-op.
func (l *LogRecorder) Close() error { return nil }

// Multi fans an event out to several recorders. The first error is returned
// after every recorder has been tried.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, ev Event) error {
	var first error
	for _, r := range m {
		if err := r.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, r := range m {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
