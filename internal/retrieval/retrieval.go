// Package retrieval finds evidence passages for a pair of concepts. Papers are
// fragmented, embedded and indexed once per build; queries return the most
// similar fragments, optionally blended with BM25 keyword matches.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/academiaos/academiaos/internal/chunk"
	"github.com/academiaos/academiaos/internal/embedding"
	"github.com/academiaos/academiaos/internal/keyword"
	"github.com/academiaos/academiaos/internal/models"
	"github.com/academiaos/academiaos/internal/vector"
)

// DefaultTopK is the number of fragments joined into one evidence text.
const DefaultTopK = 4

// EmbeddingError means the embedding collaborator failed.
type EmbeddingError struct {
	Op  string
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding %s: %v", e.Op, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Options configures fragmenting and ranking.
type Options struct {
	Policy         chunk.Policy
	TopK           int
	KeywordWeight  float64
	SemanticWeight float64
}

// Hybrid reports whether keyword fusion is enabled.
func (o Options) Hybrid() bool {
	return o.KeywordWeight > 0
}

// Retriever builds evidence indexes.
type Retriever struct {
	embedder embedding.Embedder
	chunker  *chunk.Chunker
	opts     Options
	logger   *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New validates opts and returns a Retriever.
func New(embedder embedding.Embedder, opts Options, options ...Option) (*Retriever, error) {
	if embedder == nil {
		return nil, errors.New("retrieval: embedder is required")
	}
	c, err := chunk.New(opts.Policy)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.SemanticWeight == 0 && opts.KeywordWeight == 0 {
		opts.SemanticWeight = 1
	}
	r := &Retriever{embedder: embedder, chunker: c, opts: opts, logger: zap.NewNop()}
	for _, o := range options {
		o(r)
	}
	return r, nil
}

// Fragment is one indexed passage.
type Fragment struct {
	ID      string
	PaperID string
	Content string
	Score   float64
}

// Evidence is a built index over one set of papers.
type Evidence struct {
	r         *Retriever
	fragments map[string]Fragment
	semantic  *vector.MemoryIndex
	lexical   *keyword.BleveIndex
}

// Build fragments every paper's text and indexes the fragments.
func (r *Retriever) Build(ctx context.Context, papers []models.Paper) (*Evidence, error) {
	var ids, tags, texts []string
	fragments := make(map[string]Fragment)
	seen := make(map[string]bool)
	for i, p := range papers {
		tag := p.ID
		for n := 0; tag == "" || seen[tag]; n++ {
			tag = fmt.Sprintf("paper-%d", i)
			if n > 0 {
				tag = fmt.Sprintf("paper-%d-%d", i, n)
			}
		}
		seen[tag] = true
		for ch := range r.chunker.Split(tag, p.Text()) {
			content := strings.TrimSpace(ch.Content)
			if content == "" {
				continue
			}
			ids = append(ids, ch.ID)
			tags = append(tags, tag)
			texts = append(texts, content)
			fragments[ch.ID] = Fragment{ID: ch.ID, PaperID: p.ID, Content: content}
		}
	}

	ev := &Evidence{r: r, fragments: fragments}
	if len(ids) == 0 {
		return ev, nil
	}

	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &EmbeddingError{Op: "fragments", Err: err}
	}
	dims := r.embedder.Dimensions()
	if len(vecs) > 0 && len(vecs[0]) > 0 {
		dims = len(vecs[0])
	}
	idx, err := vector.NewMemoryIndex(dims)
	if err != nil {
		return nil, &EmbeddingError{Op: "index", Err: err}
	}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		return nil, &EmbeddingError{Op: "index", Err: err}
	}
	ev.semantic = idx

	if r.opts.Hybrid() {
		kw, err := keyword.NewMemIndex()
		if err != nil {
			return nil, err
		}
		if err := kw.AddBatch(ctx, ids, tags, texts); err != nil {
			_ = kw.Close()
			return nil, err
		}
		ev.lexical = kw
	}

	r.logger.Debug("evidence index built",
		zap.Int("papers", len(papers)),
		zap.Int("fragments", len(ids)),
		zap.Bool("hybrid", ev.lexical != nil),
	)
	return ev, nil
}

// Size returns the number of indexed fragments.
func (e *Evidence) Size() int {
	return len(e.fragments)
}

// Search returns up to k fragments most similar to query.
func (e *Evidence) Search(ctx context.Context, query string, k int) ([]Fragment, error) {
	if e.semantic == nil || k <= 0 {
		return nil, nil
	}
	qv, err := e.r.embedder.Embed(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &EmbeddingError{Op: "query", Err: err}
	}

	if e.lexical == nil {
		hits, err := e.semantic.Search(ctx, qv, k)
		if err != nil {
			return nil, &EmbeddingError{Op: "search", Err: err}
		}
		out := make([]Fragment, len(hits))
		for i, h := range hits {
			f := e.fragments[h.ID]
			f.Score = h.Score
			out[i] = f
		}
		return out, nil
	}

	candidates := max(k*5, 20)
	semantic, err := e.semantic.Search(ctx, qv, candidates)
	if err != nil {
		return nil, &EmbeddingError{Op: "search", Err: err}
	}
	lexical, err := e.lexical.Search(ctx, query, candidates)
	if err != nil {
		return nil, err
	}
	fused := Fuse(semantic, lexical, e.r.opts.KeywordWeight, e.r.opts.SemanticWeight)
	if len(fused) > k {
		fused = fused[:k]
	}
	out := make([]Fragment, len(fused))
	for i, h := range fused {
		f := e.fragments[h.ID]
		f.Score = h.Score
		out[i] = f
	}
	return out, nil
}

// Query returns the evidence query for a concept pair.
func Query(a, b string) string {
	return a + " and " + b
}

// Retrieve returns the top-k fragments for the pair (a, b) joined by a blank line.
func (e *Evidence) Retrieve(ctx context.Context, a, b string) (string, error) {
	frags, err := e.Search(ctx, Query(a, b), e.r.opts.TopK)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(frags))
	for i, f := range frags {
		parts[i] = f.Content
	}
	return strings.Join(parts, "\n\n"), nil
}

// Close releases the keyword index.
func (e *Evidence) Close() error {
	if e.lexical != nil {
		return e.lexical.Close()
	}
	return nil
}
