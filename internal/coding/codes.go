package coding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/academiaos/academiaos/internal/chunk"
	"github.com/academiaos/academiaos/internal/llm"
	"github.com/academiaos/academiaos/internal/models"
)

// CodeExtractor assigns first-order codes to papers.
type CodeExtractor struct {
	gateway llm.Sender
	chunker *chunk.Chunker
	opts    options
}

// PaperFailure records a paper whose coding failed at the gateway.
type PaperFailure struct {
	Index   int
	PaperID string
	Err     error
}

// CodeResult is the outcome of ExtractCodes.
type CodeResult struct {
	// Papers are updated copies of the input, in input order.
	Papers []models.Paper
	// Codes is the deduplicated union of every paper's codes, in first-occurrence order.
	Codes     []string
	Failures  []PaperFailure
	Skipped   int
	Malformed int
}

// Partial reports whether any paper failed.
func (r *CodeResult) Partial() bool {
	return len(r.Failures) > 0
}

// NewCodeExtractor returns an extractor splitting paper text with policy.
func NewCodeExtractor(gateway llm.Sender, policy chunk.Policy, opts ...Option) (*CodeExtractor, error) {
	c, err := chunk.New(policy)
	if err != nil {
		return nil, fmt.Errorf("codes: %w", err)
	}
	return &CodeExtractor{gateway: gateway, chunker: c, opts: buildOptions(opts)}, nil
}

// ExtractCodes codes every paper that has no initial codes yet. Papers run
// concurrently; a gateway failure empties that paper's list and is recorded
// in Failures without stopping the others. Only cancellation of ctx aborts.
func (e *CodeExtractor) ExtractCodes(ctx context.Context, papers []models.Paper, remarks string) (*CodeResult, error) {
	out := models.ClonePapers(papers)
	lists := make([][]string, len(out))
	errs := make([]error, len(out))
	coded := make([]bool, len(out))
	var malformedCount atomic.Int64
	skipped := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.concurrency)
	for i := range out {
		if out[i].HasInitialCodes() {
			skipped++
			continue
		}
		coded[i] = true
		paper := out[i]
		g.Go(func() error {
			codes, bad, err := e.codePaper(gctx, i, &paper, remarks)
			malformedCount.Add(int64(bad))
			if err != nil {
				if gctx.Err() != nil && isCanceled(err) {
					return err
				}
				e.opts.logger.Warn("paper coding failed",
					zap.Int("paper", i),
					zap.String("paper_id", paper.ID),
					zap.Error(err),
				)
				errs[i] = err
				return nil
			}
			lists[i] = codes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &CodeResult{Papers: out, Skipped: skipped, Malformed: int(malformedCount.Load())}
	all := make([][]string, len(out))
	for i := range out {
		if coded[i] {
			if errs[i] != nil {
				out[i].SetInitialCodes([]string{})
				res.Failures = append(res.Failures, PaperFailure{Index: i, PaperID: out[i].ID, Err: errs[i]})
			} else {
				out[i].SetInitialCodes(lists[i])
			}
		}
		all[i] = out[i].InitialCodes()
	}
	res.Codes = UnionCodes(all...)

	e.opts.logger.Info("codes extracted",
		zap.Int("papers", len(out)),
		zap.Int("skipped", skipped),
		zap.Int("failed", len(res.Failures)),
		zap.Int("malformed_chunks", res.Malformed),
		zap.Int("codes", len(res.Codes)),
	)
	return res, nil
}

// codePaper issues one call per chunk and concatenates the codes in chunk
// order. Chunks run concurrently; malformed replies are logged and counted,
// and a gateway error fails the paper.
func (e *CodeExtractor) codePaper(ctx context.Context, index int, paper *models.Paper, remarks string) ([]string, int, error) {
	tag := paper.ID
	if tag == "" {
		tag = fmt.Sprintf("paper-%d", index)
	}
	var chunks []chunk.Chunk
	for ch := range e.chunker.Split(tag, paper.Text()) {
		if strings.TrimSpace(ch.Content) != "" {
			chunks = append(chunks, ch)
		}
	}

	system := withRemarks(codesSystemPrompt, remarks)
	slots := make([][]string, len(chunks))
	var bad atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.concurrency)
	for i, ch := range chunks {
		g.Go(func() error {
			raw, err := e.gateway.Send(gctx, system, codesUserPrompt(paper.Title, ch.Content),
				llm.WithJSON(), llm.WithStep(StepCodes), llm.WithMaxTokens(e.opts.maxTokens))
			if err != nil {
				return err
			}
			parsed, err := ParseCodes(raw)
			if err != nil {
				bad.Add(1)
				mErr := NewMalformedResponseError(StepCodes, raw, err)
				e.opts.logger.Warn("MalformedResponse",
					zap.String("step", StepCodes),
					zap.String("chunk", ch.ID),
					zap.String("raw", mErr.Raw),
					zap.Error(err),
				)
				return nil
			}
			slots[i] = parsed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, int(bad.Load()), err
	}

	codes := []string{}
	for _, parsed := range slots {
		codes = append(codes, parsed...)
	}
	return codes, int(bad.Load()), nil
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
