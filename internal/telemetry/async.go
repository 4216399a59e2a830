package telemetry

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Async forwards events to an inner recorder from a single background worker.
// Record never blocks: when the queue is full the event is dropped.
type Async struct {
	inner   Recorder
	logger  *zap.Logger
	queue   chan Event
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// AsyncOption configures Async.
type AsyncOption func(*Async)

// WithAsyncLogger sets the logger used for dropped or failed events.
func WithAsyncLogger(logger *zap.Logger) AsyncOption {
	return func(a *Async) { a.logger = logger }
}

// NewAsync starts the worker. queueSize below 1 is treated as 1.
func NewAsync(inner Recorder, queueSize int, opts ...AsyncOption) *Async {
	if queueSize < 1 {
		queueSize = 1
	}
	a := &Async{
		inner:  inner,
		logger: zap.NewNop(),
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		if err := a.inner.Record(context.Background(), ev); err != nil {
			a.logger.Warn("telemetry record failed", zap.String("event", ev.Name), zap.Error(err))
		}
	}
}

// Record enqueues ev. It always returns nil.
func (a *Async) Record(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return nil
	}
	select {
	case a.queue <- ev:
	default:
		a.dropped.Add(1)
		a.logger.Debug("telemetry queue full, dropping event", zap.String("event", ev.Name))
	}
	return nil
}

// Dropped returns how many events were discarded.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close drains queued events, then closes the inner recorder.
func (a *Async) Close() error {
	var err error
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
		<-a.done
		err = a.inner.Close()
	})
	return err
}
