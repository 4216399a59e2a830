// Package modeling synthesizes a theoretical model from the Gioia data
// structure: theories, concept relationships grounded in retrieved evidence,
// a model description with a name, a Mermaid diagram and a critique.
package modeling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/academiaos/academiaos/internal/coding"
	"github.com/academiaos/academiaos/internal/llm"
	"github.com/academiaos/academiaos/internal/models"
	"github.com/academiaos/academiaos/internal/retrieval"
)

// Sub-step names, also used as gateway step tags.
const (
	StepBrainstorm  = "brainstorm"
	StepHypothesize = "hypothesize"
	StepRetrieve    = "retrieve"
	StepRelate      = "relate"
	StepConstruct   = "construct"
	StepName        = "name"
	StepVisualize   = "visualize"
	StepCritique    = "critique"
)

// StepError reports the sub-step that aborted a synthesis.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("model synthesis failed at %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Input is the data structure a synthesis starts from. ModelName,
// ModelDescription and Critique hold the previous iteration, if any.
type Input struct {
	Papers           []models.Paper
	FirstOrderCodes  []string
	Themes           models.CodeMap
	Dimensions       models.CodeMap
	Remarks          string
	ModelName        string
	ModelDescription string
	Critique         string
}

// InputFrom builds an Input from a session aggregate.
func InputFrom(m *models.ModelData) Input {
	return Input{
		Papers:           m.Papers,
		FirstOrderCodes:  m.FirstOrderCodes,
		Themes:           m.SecondOrderCodes,
		Dimensions:       m.AggregateDimensions,
		Remarks:          m.Remarks,
		ModelName:        m.ModelName,
		ModelDescription: m.ModelDescription,
		Critique:         m.Critique,
	}
}

// Output carries every artifact of one synthesis.
type Output struct {
	Theories           []models.Theory
	Pairs              [][2]string
	Interrelationships []models.Interrelationship
	Name               string
	Description        string
	Visualization      string
	Critique           string
	// Malformed lists the steps whose replies could not be parsed and were
	// treated as empty.
	Malformed          []string
}

// Synthesizer runs the model synthesis sub-steps.
type Synthesizer struct {
	gateway     llm.Sender
	retriever   *retrieval.Retriever
	logger      *zap.Logger
	concurrency int
	maxTokens   int
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Synthesizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithConcurrency bounds concurrent relate calls.
func WithConcurrency(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMaxTokens sets the response token limit for each call.
func WithMaxTokens(n int) Option {
	return func(s *Synthesizer) { s.maxTokens = n }
}

// New returns a Synthesizer. The retriever supplies evidence for the relate step.
func New(gateway llm.Sender, retriever *retrieval.Retriever, opts ...Option) (*Synthesizer, error) {
	if gateway == nil {
		return nil, errors.New("modeling: gateway is required")
	}
	if retriever == nil {
		return nil, errors.New("modeling: retriever is required")
	}
	s := &Synthesizer{
		gateway:     gateway,
		retriever:   retriever,
		logger:      zap.NewNop(),
		concurrency: coding.DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Synthesize runs every sub-step in order. The first failure aborts the rest
// and is returned as a *StepError; no partial Output is returned. Unparseable
// brainstorm and hypothesize replies are not failures; see Output.Malformed.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (*Output, error) {
	start := time.Now()
	out := &Output{}

	theories, err := s.brainstorm(ctx, &in, out)
	if err != nil {
		return nil, s.fail(StepBrainstorm, err)
	}
	out.Theories = theories

	pairs, err := s.hypothesize(ctx, &in, theories, out)
	if err != nil {
		return nil, s.fail(StepHypothesize, err)
	}
	out.Pairs = pairs

	evidence, err := s.retrieve(ctx, in.Papers, pairs)
	if err != nil {
		return nil, s.fail(StepRetrieve, err)
	}

	rels, err := s.relate(ctx, &in, pairs, evidence)
	if err != nil {
		return nil, s.fail(StepRelate, err)
	}
	out.Interrelationships = rels

	description, err := s.send(ctx, StepConstruct, withRemarks(constructSystemPrompt, in.Remarks), constructUserPrompt(&in, theories, rels))
	if err != nil {
		return nil, s.fail(StepConstruct, err)
	}
	out.Description = description

	name, err := s.send(ctx, StepName, nameSystemPrompt, nameUserPrompt(description))
	if err != nil {
		return nil, s.fail(StepName, err)
	}
	out.Name = CleanName(name)

	next := in
	next.ModelName = out.Name
	next.ModelDescription = description

	if out.Visualization, err = s.Visualize(ctx, next); err != nil {
		return nil, err
	}
	if out.Critique, err = s.Critique(ctx, next); err != nil {
		return nil, err
	}

	s.logger.Info("model synthesized",
		zap.String("name", out.Name),
		zap.Int("theories", len(out.Theories)),
		zap.Int("relationships", len(out.Interrelationships)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// Visualize draws in.ModelDescription as Mermaid source.
func (s *Synthesizer) Visualize(ctx context.Context, in Input) (string, error) {
	raw, err := s.send(ctx, StepVisualize, visualizeSystemPrompt, visualizeUserPrompt(&in, in.ModelDescription))
	if err != nil {
		return "", s.fail(StepVisualize, err)
	}
	return CleanMermaid(raw), nil
}

// Critique reviews in.ModelDescription.
func (s *Synthesizer) Critique(ctx context.Context, in Input) (string, error) {
	raw, err := s.send(ctx, StepCritique, withRemarks(critiqueSystemPrompt, in.Remarks), critiqueUserPrompt(in.ModelName, in.ModelDescription))
	if err != nil {
		return "", s.fail(StepCritique, err)
	}
	return raw, nil
}

// brainstorm proposes theories. An unparseable reply counts as no theories.
func (s *Synthesizer) brainstorm(ctx context.Context, in *Input, out *Output) ([]models.Theory, error) {
	raw, err := s.send(ctx, StepBrainstorm, withRemarks(brainstormSystemPrompt, in.Remarks), brainstormUserPrompt(in), llm.WithJSON())
	if err != nil {
		return nil, err
	}
	theories, err := ParseTheories(raw)
	if err != nil {
		s.malformed(out, coding.NewMalformedResponseError(StepBrainstorm, raw, err))
		return []models.Theory{}, nil
	}
	return theories, nil
}

// hypothesize proposes concept pairs. An unparseable reply counts as no pairs,
// which leaves retrieve and relate with nothing to do.
func (s *Synthesizer) hypothesize(ctx context.Context, in *Input, theories []models.Theory, out *Output) ([][2]string, error) {
	raw, err := s.send(ctx, StepHypothesize, withRemarks(hypothesizeSystemPrompt, in.Remarks), hypothesizeUserPrompt(in, theories), llm.WithJSON())
	if err != nil {
		return nil, err
	}
	pairs, err := ParsePairs(raw)
	if err != nil {
		s.malformed(out, coding.NewMalformedResponseError(StepHypothesize, raw, err))
		return [][2]string{}, nil
	}
	return pairs, nil
}

func (s *Synthesizer) malformed(out *Output, mErr *coding.MalformedResponseError) {
	s.logger.Warn("MalformedResponse",
		zap.String("step", mErr.Step),
		zap.String("raw", mErr.Raw),
		zap.Error(mErr.Err),
	)
	out.Malformed = append(out.Malformed, mErr.Step)
}

// retrieve builds one evidence index for the invocation and queries it per pair.
func (s *Synthesizer) retrieve(ctx context.Context, papers []models.Paper, pairs [][2]string) ([]string, error) {
	out := make([]string, len(pairs))
	if len(pairs) == 0 {
		return out, nil
	}
	ev, err := s.retriever.Build(ctx, papers)
	if err != nil {
		return nil, err
	}
	defer ev.Close()

	for i, p := range pairs {
		text, err := ev.Retrieve(ctx, p[0], p[1])
		if err != nil {
			return nil, err
		}
		out[i] = text
	}
	return out, nil
}

// relate summarizes each pair concurrently; the first failure cancels the rest.
func (s *Synthesizer) relate(ctx context.Context, in *Input, pairs [][2]string, evidence []string) ([]models.Interrelationship, error) {
	out := make([]models.Interrelationship, len(pairs))
	system := withRemarks(relateSystemPrompt, in.Remarks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, p := range pairs {
		g.Go(func() error {
			text, err := s.send(gctx, StepRelate, system, relateUserPrompt(p, evidence[i]))
			if err != nil {
				return err
			}
			out[i] = models.Interrelationship{Concepts: p, Interrelationship: text, Evidence: evidence[i]}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Synthesizer) send(ctx context.Context, step, system, user string, opts ...llm.SendOption) (string, error) {
	opts = append(opts, llm.WithStep(step), llm.WithMaxTokens(s.maxTokens))
	return s.gateway.Send(ctx, system, user, opts...)
}

func (s *Synthesizer) fail(step string, err error) error {
	var se *StepError
	if errors.As(err, &se) {
		return err
	}
	s.logger.Warn("model synthesis step failed", zap.String("step", step), zap.Error(err))
	return &StepError{Step: step, Err: err}
}
