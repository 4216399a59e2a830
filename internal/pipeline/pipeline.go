// Package pipeline drives the coding and modeling phases over a session.
// Each phase works on a snapshot and commits its output once, under the
// session lock; a newer run of the same phase cancels and supersedes the
// older one.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/academiaos/academiaos/internal/coding"
	"github.com/academiaos/academiaos/internal/modeling"
	"github.com/academiaos/academiaos/internal/models"
	"github.com/academiaos/academiaos/internal/session"
)

// errSuperseded means a newer run of the same phase started before commit.
var errSuperseded = errors.New("superseded by a newer run")

// Components are the phase implementations.
type Components struct {
	Codes       *coding.CodeExtractor
	Themes      *coding.ThemeAggregator
	Dimensions  *coding.DimensionAggregator
	Synthesizer *modeling.Synthesizer
}

// RunOptions adjusts a single RunPhase call.
type RunOptions struct {
	// Restart clears every paper's initial codes so all papers are coded again.
	Restart bool
}

// CommitHook runs after a phase commits, e.g. to persist the session.
type CommitHook func(ctx context.Context, s *session.Session) error

// Pipeline runs phases against one session.
type Pipeline struct {
	session  *session.Session
	comp     Components
	logger   *zap.Logger
	onCommit CommitHook

	mu     sync.Mutex
	gens   map[Phase]uint64
	cancel map[Phase]context.CancelFunc
	status map[Phase]*PhaseStatus
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithCommitHook sets a hook run after every commit.
func WithCommitHook(h CommitHook) Option {
	return func(p *Pipeline) { p.onCommit = h }
}

// New returns a pipeline for sess.
func New(sess *session.Session, comp Components, opts ...Option) (*Pipeline, error) {
	if sess == nil {
		return nil, errors.New("pipeline: session is required")
	}
	if comp.Codes == nil || comp.Themes == nil || comp.Dimensions == nil || comp.Synthesizer == nil {
		return nil, errors.New("pipeline: all phase components are required")
	}
	p := &Pipeline{
		session: sess,
		comp:    comp,
		logger:  zap.NewNop(),
		gens:    make(map[Phase]uint64),
		cancel:  make(map[Phase]context.CancelFunc),
		status:  make(map[Phase]*PhaseStatus),
	}
	for _, ph := range AllPhases {
		p.status[ph] = &PhaseStatus{Phase: ph, State: StateNotStarted}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Session returns the pipeline's session.
func (p *Pipeline) Session() *session.Session {
	return p.session
}

// Run executes every phase in order. It stops after the first phase that
// fails outright; partially failed phases do not stop it. Outputs of
// completed phases stay committed.
func (p *Pipeline) Run(ctx context.Context, remarks string) ([]*PhaseReport, error) {
	var reports []*PhaseReport
	for _, ph := range Phases {
		rep, err := p.RunPhase(ctx, ph, remarks, RunOptions{})
		reports = append(reports, rep)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// RunPhase runs one phase and commits its output. Starting a phase cancels
// any in-flight run of the same phase; a canceled or superseded run returns
// an error wrapping context.Canceled and commits nothing.
func (p *Pipeline) RunPhase(ctx context.Context, phase Phase, remarks string, opts RunOptions) (*PhaseReport, error) {
	if _, err := ParsePhase(string(phase)); err != nil {
		return nil, err
	}
	runCtx, gen := p.begin(ctx, phase)
	defer p.end(phase, gen)

	start := time.Now()
	rep := &PhaseReport{Phase: phase}
	snap := p.session.Snapshot()
	if remarks == "" {
		remarks = snap.Remarks
	}
	p.logger.Info("phase started", zap.String("phase", string(phase)), zap.Uint64("run", gen))

	apply, err := p.execute(runCtx, phase, snap, remarks, opts, rep)
	rep.Duration = time.Since(start)

	if err == nil && apply != nil {
		err = p.commit(runCtx, phase, gen, remarks, apply)
	}

	switch {
	case err == nil:
		if rep.State == "" {
			rep.State = StateCompleted
		}
	case errors.Is(err, errSuperseded) || runCtx.Err() != nil:
		rep.State = StateCanceled
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s: %w: %w", phase, context.Canceled, err)
		}
	default:
		rep.State = StateFailed
	}
	rep.Err = err
	p.finish(phase, gen, rep)

	logFields := []zap.Field{
		zap.String("phase", string(phase)),
		zap.String("state", string(rep.State)),
		zap.Int("items", rep.Items),
		zap.Int("failed", rep.Failed),
		zap.Duration("elapsed", rep.Duration),
	}
	if err != nil {
		p.logger.Warn("phase finished", append(logFields, zap.Error(err))...)
		return rep, err
	}
	p.logger.Info("phase finished", logFields...)
	return rep, nil
}

// Status returns a snapshot of every phase's state.
func (p *Pipeline) Status() []PhaseStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PhaseStatus, 0, len(AllPhases))
	for _, ph := range AllPhases {
		out = append(out, *p.status[ph])
	}
	return out
}

// Cancel stops the in-flight run of phase, if any.
func (p *Pipeline) Cancel(phase Phase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel := p.cancel[phase]; cancel != nil {
		cancel()
	}
}

func (p *Pipeline) begin(ctx context.Context, phase Phase) (context.Context, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev := p.cancel[phase]; prev != nil {
		prev()
	}
	p.gens[phase]++
	gen := p.gens[phase]
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel[phase] = cancel

	st := p.status[phase]
	st.State = StateRunning
	st.Error = ""
	st.Runs++
	st.StartedAt = time.Now()
	st.FinishedAt = time.Time{}
	return runCtx, gen
}

func (p *Pipeline) end(phase Phase, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gens[phase] == gen {
		if cancel := p.cancel[phase]; cancel != nil {
			cancel()
		}
		delete(p.cancel, phase)
	}
}

// finish records rep unless a newer run owns the status.
func (p *Pipeline) finish(phase Phase, gen uint64, rep *PhaseReport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gens[phase] != gen {
		return
	}
	st := p.status[phase]
	st.State = rep.State
	st.Error = rep.Error()
	st.FinishedAt = time.Now()
}

func (p *Pipeline) current(phase Phase, gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gens[phase] == gen
}

// commit applies the phase output under the session lock, after checking
// that no newer run of the phase has started.
func (p *Pipeline) commit(ctx context.Context, phase Phase, gen uint64, remarks string, apply func(m *models.ModelData)) error {
	err := p.session.Update(func(m *models.ModelData) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !p.current(phase, gen) {
			return errSuperseded
		}
		apply(m)
		if remarks != "" {
			m.Remarks = remarks
		}
		return nil
	})
	if err != nil {
		return err
	}
	if p.onCommit != nil {
		if err := p.onCommit(ctx, p.session); err != nil {
			return fmt.Errorf("failed to persist session: %w", err)
		}
	}
	return nil
}
