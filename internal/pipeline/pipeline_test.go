package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academiaos/academiaos/internal/config"
	"github.com/academiaos/academiaos/internal/embedding"
	"github.com/academiaos/academiaos/internal/llm"
	"github.com/academiaos/academiaos/internal/modeling"
	"github.com/academiaos/academiaos/internal/models"
	"github.com/academiaos/academiaos/internal/session"
)

func fakeLLM() *llm.FakeProvider {
	return llm.NewFakeProvider().
		On("codes", func(req llm.Request) (string, error) {
			if strings.Contains(req.User(), "trust") {
				return `{"codes":["trusting leaders","autonomy granted"]}`, nil
			}
			return `{"codes":["heavy workload"]}`, nil
		}).
		Reply("themes", `{"Trust":["trusting leaders","autonomy granted"],"Pressure":["heavy workload"]}`).
		Reply("dimensions", `{"Leadership":["Trust"],"Strain":["Pressure"]}`).
		Reply(modeling.StepBrainstorm, `[{"theory":"Trust theory","description":"d","relatedDimensions":["Leadership"],"possibleResearchQuestions":[]}]`).
		Reply(modeling.StepHypothesize, `[["trust","workload"]]`).
		Reply(modeling.StepRelate, "Trust buffers workload.").
		Reply(modeling.StepConstruct, "Trust buffers strain.").
		Reply(modeling.StepName, "Buffer Model").
		Reply(modeling.StepVisualize, "graph TD\nA-->B").
		Reply(modeling.StepCritique, "Thin evidence.")
}

func testSession() *session.Session {
	m := models.NewModelData("trust and strain")
	s := session.New("s1", m)
	s.AddPapers(
		models.Paper{ID: "p1", Title: "Trust", FullText: "Leaders who trust their teams grant autonomy."},
		models.Paper{ID: "p2", Title: "Strain", FullText: "Nurses report a heavy workload on night shifts."},
	)
	return s
}

func newPipeline(t *testing.T, fake *llm.FakeProvider, sess *session.Session, opts ...Option) *Pipeline {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	comp, err := BuildComponents(cfg, llm.NewWithProvider(fake), embedding.NewMockEmbedder(128), nil)
	require.NoError(t, err)
	p, err := New(sess, comp, opts...)
	require.NoError(t, err)
	return p
}

func stateOf(p *Pipeline, phase Phase) PhaseState {
	for _, st := range p.Status() {
		if st.Phase == phase {
			return st.State
		}
	}
	return ""
}

func TestRun_AllPhases(t *testing.T) {
	sess := testSession()
	var commits atomic.Int32
	p := newPipeline(t, fakeLLM(), sess, WithCommitHook(func(context.Context, *session.Session) error {
		commits.Add(1)
		return nil
	}))
	for _, ph := range Phases {
		assert.Equal(t, StateNotStarted, stateOf(p, ph))
	}

	reports, err := p.Run(context.Background(), "focus on nurses")
	require.NoError(t, err)
	require.Len(t, reports, 4)
	for _, rep := range reports {
		assert.Equal(t, StateCompleted, rep.State, rep.Phase)
		assert.Equal(t, StateCompleted, stateOf(p, rep.Phase))
	}
	assert.EqualValues(t, 4, commits.Load())

	m := sess.Snapshot()
	assert.Equal(t, []string{"trusting leaders", "autonomy granted", "heavy workload"}, m.FirstOrderCodes)
	assert.Equal(t, models.CodeMap{"Trust": {"trusting leaders", "autonomy granted"}, "Pressure": {"heavy workload"}}, m.SecondOrderCodes)
	assert.Equal(t, models.CodeMap{"Leadership": {"Trust"}, "Strain": {"Pressure"}}, m.AggregateDimensions)
	require.Len(t, m.Interrelationships, 1)
	assert.Equal(t, [2]string{"trust", "workload"}, m.Interrelationships[0].Concepts)
	assert.Equal(t, "Buffer Model", m.ModelName)
	assert.Equal(t, "Trust buffers strain.", m.ModelDescription)
	assert.Equal(t, "graph TD\nA-->B", m.ModelVisualization)
	assert.Equal(t, "Thin evidence.", m.Critique)
	assert.Equal(t, "focus on nurses", m.Remarks)
	assert.True(t, m.Papers[0].HasInitialCodes())
}

func TestRun_PartialCodesContinue(t *testing.T) {
	fake := fakeLLM().On("codes", func(req llm.Request) (string, error) {
		if strings.Contains(req.User(), "Nurses") {
			return "", errors.New("status 500")
		}
		return `{"codes":["trusting leaders"]}`, nil
	})
	sess := testSession()
	p := newPipeline(t, fake, sess)

	reports, err := p.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, StatePartiallyFailed, reports[0].State)
	assert.Equal(t, 1, reports[0].Failed)
	assert.NotEmpty(t, reports[0].Warnings)
	assert.Equal(t, StateCompleted, reports[3].State)

	m := sess.Snapshot()
	assert.Equal(t, []string{"trusting leaders"}, m.FirstOrderCodes)
	assert.True(t, m.Papers[1].HasInitialCodes())
	assert.Empty(t, m.Papers[1].InitialCodes())
}

func TestRun_StopsAtFailedPhase(t *testing.T) {
	fake := fakeLLM().Reply("dimensions", "five dimensions, roughly")
	sess := testSession()
	p := newPipeline(t, fake, sess)

	reports, err := p.Run(context.Background(), "")
	require.Error(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, StateFailed, reports[2].State)
	assert.Equal(t, StateFailed, stateOf(p, PhaseDimensions))
	assert.Equal(t, StateNotStarted, stateOf(p, PhaseModel))
	assert.Zero(t, fake.CallCount(modeling.StepBrainstorm))

	m := sess.Snapshot()
	assert.NotEmpty(t, m.FirstOrderCodes, "earlier outputs are kept")
	assert.NotEmpty(t, m.SecondOrderCodes)
	assert.Empty(t, m.AggregateDimensions)
}

func TestRunPhase_ModelFailureCommitsNothing(t *testing.T) {
	fake := fakeLLM().Fail(modeling.StepHypothesize, errors.New("status 503"))
	sess := testSession()
	_ = sess.Update(func(m *models.ModelData) error {
		m.ModelName = "Old"
		m.ModelDescription = "Old model."
		return nil
	})
	p := newPipeline(t, fake, sess)

	rep, err := p.RunPhase(context.Background(), PhaseModel, "", RunOptions{})
	require.Error(t, err)
	assert.Equal(t, StateFailed, rep.State)
	var se *modeling.StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, modeling.StepHypothesize, se.Step)
	assert.True(t, llm.IsProviderError(err))

	m := sess.Snapshot()
	assert.Equal(t, "Old", m.ModelName)
	assert.Equal(t, "Old model.", m.ModelDescription)
	assert.Empty(t, m.ModelVisualization)
}

func TestRunPhase_MalformedHypothesisIsAWarning(t *testing.T) {
	fake := fakeLLM().Reply(modeling.StepHypothesize, "I would look at trust and autonomy.")
	sess := testSession()
	p := newPipeline(t, fake, sess)

	rep, err := p.RunPhase(context.Background(), PhaseModel, "", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, rep.State)
	assert.Zero(t, rep.Items)
	require.Len(t, rep.Warnings, 1)
	assert.Contains(t, rep.Warnings[0], modeling.StepHypothesize)
	assert.Zero(t, fake.CallCount(modeling.StepRelate))

	m := sess.Snapshot()
	assert.Empty(t, m.Interrelationships)
	assert.Equal(t, "Buffer Model", m.ModelName)
}

func TestRunPhase_SkipAndRestart(t *testing.T) {
	fake := fakeLLM()
	sess := testSession()
	p := newPipeline(t, fake, sess)
	ctx := context.Background()

	_, err := p.RunPhase(ctx, PhaseCodes, "", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, fake.CallCount("codes"))

	rep, err := p.RunPhase(ctx, PhaseCodes, "", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Skipped)
	assert.Equal(t, 2, fake.CallCount("codes"), "coded papers are skipped")

	rep, err = p.RunPhase(ctx, PhaseCodes, "", RunOptions{Restart: true})
	require.NoError(t, err)
	assert.Zero(t, rep.Skipped)
	assert.Equal(t, 4, fake.CallCount("codes"))
	assert.Len(t, sess.Snapshot().FirstOrderCodes, 3)
}

func TestRunPhase_NewRunSupersedesOld(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	fake := fakeLLM().On("codes", func(req llm.Request) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return `{"codes":["stale"]}`, nil
		}
		return `{"codes":["fresh"]}`, nil
	})
	sess := session.New("s", models.NewModelData("q"))
	sess.AddPapers(models.Paper{ID: "p1", FullText: "text"})
	p := newPipeline(t, fake, sess)

	type result struct {
		rep *PhaseReport
		err error
	}
	first := make(chan result, 1)
	go func() {
		rep, err := p.RunPhase(context.Background(), PhaseCodes, "", RunOptions{})
		first <- result{rep, err}
	}()
	<-started

	rep, err := p.RunPhase(context.Background(), PhaseCodes, "", RunOptions{Restart: true})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, rep.State)
	close(release)

	select {
	case r := <-first:
		require.Error(t, r.err)
		assert.True(t, errors.Is(r.err, context.Canceled), r.err)
		assert.Equal(t, StateCanceled, r.rep.State)
	case <-time.After(5 * time.Second):
		t.Fatal("first run did not return")
	}

	assert.Equal(t, []string{"fresh"}, sess.Snapshot().FirstOrderCodes)
	assert.Equal(t, StateCompleted, stateOf(p, PhaseCodes))
	for _, st := range p.Status() {
		if st.Phase == PhaseCodes {
			assert.Equal(t, 2, st.Runs)
		}
	}
}

func TestRunPhase_CanceledContext(t *testing.T) {
	sess := testSession()
	p := newPipeline(t, fakeLLM(), sess)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := p.RunPhase(ctx, PhaseCodes, "", RunOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateCanceled, rep.State)
	assert.Empty(t, sess.Snapshot().FirstOrderCodes)
}

func TestRunPhase_CritiqueAndVisualize(t *testing.T) {
	fake := fakeLLM()
	sess := testSession()
	p := newPipeline(t, fake, sess)
	ctx := context.Background()

	_, err := p.RunPhase(ctx, PhaseCritique, "", RunOptions{})
	require.Error(t, err, "no model yet")

	_ = sess.Update(func(m *models.ModelData) error {
		m.ModelDescription = "A model."
		return nil
	})
	fake.Reply(modeling.StepCritique, "Second opinion.")
	_, err = p.RunPhase(ctx, PhaseCritique, "", RunOptions{})
	require.NoError(t, err)
	_, err = p.RunPhase(ctx, PhaseVisualize, "", RunOptions{})
	require.NoError(t, err)

	m := sess.Snapshot()
	assert.Equal(t, "Second opinion.", m.Critique)
	assert.Equal(t, "graph TD\nA-->B", m.ModelVisualization)
	assert.Zero(t, fake.CallCount(modeling.StepConstruct))
}

func TestRunPhase_CommitHookError(t *testing.T) {
	p := newPipeline(t, fakeLLM(), testSession(), WithCommitHook(func(context.Context, *session.Session) error {
		return errors.New("disk full")
	}))
	rep, err := p.RunPhase(context.Background(), PhaseCodes, "", RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, StateFailed, rep.State)
}

func TestParsePhase(t *testing.T) {
	ph, err := ParsePhase(" Themes ")
	require.NoError(t, err)
	assert.Equal(t, PhaseThemes, ph)
	_, err = ParsePhase("coding")
	assert.Error(t, err)

	_, err = newPipeline(t, fakeLLM(), testSession()).RunPhase(context.Background(), Phase("bogus"), "", RunOptions{})
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Components{})
	assert.Error(t, err)
	_, err = New(testSession(), Components{})
	assert.Error(t, err)
}
