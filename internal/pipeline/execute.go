package pipeline

import (
	"context"
	"fmt"

	"github.com/academiaos/academiaos/internal/coding"
	"github.com/academiaos/academiaos/internal/modeling"
	"github.com/academiaos/academiaos/internal/models"
)

// execute runs phase over snap and returns the mutation to commit. rep.State
// is set when the phase decides it (partial failure); otherwise it is derived
// from the error.
func (p *Pipeline) execute(ctx context.Context, phase Phase, snap *models.ModelData, remarks string, opts RunOptions, rep *PhaseReport) (func(m *models.ModelData), error) {
	switch phase {
	case PhaseCodes:
		return p.runCodes(ctx, snap, remarks, opts, rep)
	case PhaseThemes:
		return p.runThemes(ctx, snap, remarks, rep)
	case PhaseDimensions:
		return p.runDimensions(ctx, snap, remarks, rep)
	case PhaseModel:
		return p.runModel(ctx, snap, remarks, rep)
	case PhaseCritique:
		return p.runCritique(ctx, snap, remarks, rep)
	case PhaseVisualize:
		return p.runVisualize(ctx, snap, remarks, rep)
	default:
		return nil, fmt.Errorf("unknown phase %q", phase)
	}
}

func (p *Pipeline) runCodes(ctx context.Context, snap *models.ModelData, remarks string, opts RunOptions, rep *PhaseReport) (func(m *models.ModelData), error) {
	papers := snap.Papers
	if opts.Restart {
		for i := range papers {
			papers[i].ClearInitialCodes()
		}
	}
	res, err := p.comp.Codes.ExtractCodes(ctx, papers, remarks)
	if err != nil {
		return nil, err
	}
	rep.Items = len(res.Papers)
	rep.Skipped = res.Skipped
	rep.Failed = len(res.Failures)
	for _, f := range res.Failures {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("paper %s: %v", f.PaperID, f.Err))
	}
	if res.Malformed > 0 {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%d malformed chunk response(s) ignored", res.Malformed))
	}
	if res.Partial() {
		rep.State = StatePartiallyFailed
	}

	coded := make(map[string]models.Paper, len(res.Papers))
	for _, paper := range res.Papers {
		coded[paper.ID] = paper
	}
	return func(m *models.ModelData) {
		// Papers added while the phase ran are kept uncoded.
		lists := make([][]string, 0, len(m.Papers))
		for i := range m.Papers {
			if paper, ok := coded[m.Papers[i].ID]; ok {
				m.Papers[i].SetInitialCodes(paper.InitialCodes())
			}
			lists = append(lists, m.Papers[i].InitialCodes())
		}
		m.FirstOrderCodes = coding.UnionCodes(lists...)
	}, nil
}

func (p *Pipeline) runThemes(ctx context.Context, snap *models.ModelData, remarks string, rep *PhaseReport) (func(m *models.ModelData), error) {
	res, err := p.comp.Themes.AggregateThemes(ctx, snap.FirstOrderCodes, remarks)
	if err != nil {
		return nil, err
	}
	rep.Items = res.Chunks
	rep.Failed = len(res.Failures)
	for _, f := range res.Failures {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("chunk %s: %v", f.Chunk, f.Err))
	}
	if res.Chunks > 0 && len(res.Failures) == res.Chunks {
		return nil, fmt.Errorf("every theme chunk failed: %w", res.Failures[0].Err)
	}
	if res.Partial() {
		rep.State = StatePartiallyFailed
	}
	themes := res.Themes
	return func(m *models.ModelData) {
		m.SecondOrderCodes = themes
	}, nil
}

func (p *Pipeline) runDimensions(ctx context.Context, snap *models.ModelData, remarks string, rep *PhaseReport) (func(m *models.ModelData), error) {
	dims, err := p.comp.Dimensions.AggregateDimensions(ctx, snap.SecondOrderCodes, remarks)
	if err != nil {
		return nil, err
	}
	rep.Items = len(dims)
	return func(m *models.ModelData) {
		m.AggregateDimensions = dims
	}, nil
}

func (p *Pipeline) runModel(ctx context.Context, snap *models.ModelData, remarks string, rep *PhaseReport) (func(m *models.ModelData), error) {
	in := modeling.InputFrom(snap)
	in.Remarks = remarks
	out, err := p.comp.Synthesizer.Synthesize(ctx, in)
	if err != nil {
		return nil, err
	}
	rep.Items = len(out.Interrelationships)
	for _, step := range out.Malformed {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("malformed %s response treated as empty", step))
	}
	return func(m *models.ModelData) {
		m.Theories = out.Theories
		m.Interrelationships = out.Interrelationships
		m.ModelName = out.Name
		m.ModelDescription = out.Description
		m.ModelVisualization = out.Visualization
		m.Critique = out.Critique
	}, nil
}

func (p *Pipeline) runCritique(ctx context.Context, snap *models.ModelData, remarks string, rep *PhaseReport) (func(m *models.ModelData), error) {
	if snap.ModelDescription == "" {
		return nil, fmt.Errorf("no model to critique; run the %s phase first", PhaseModel)
	}
	in := modeling.InputFrom(snap)
	in.Remarks = remarks
	critique, err := p.comp.Synthesizer.Critique(ctx, in)
	if err != nil {
		return nil, err
	}
	rep.Items = 1
	return func(m *models.ModelData) {
		m.Critique = critique
	}, nil
}

func (p *Pipeline) runVisualize(ctx context.Context, snap *models.ModelData, remarks string, rep *PhaseReport) (func(m *models.ModelData), error) {
	if snap.ModelDescription == "" {
		return nil, fmt.Errorf("no model to visualize; run the %s phase first", PhaseModel)
	}
	in := modeling.InputFrom(snap)
	in.Remarks = remarks
	diagram, err := p.comp.Synthesizer.Visualize(ctx, in)
	if err != nil {
		return nil, err
	}
	rep.Items = 1
	return func(m *models.ModelData) {
		m.ModelVisualization = diagram
	}, nil
}
