// Package keyword provides an in-memory BM25 index over text fragments, used
// to blend lexical matches into evidence retrieval.
package keyword

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
)

// Result is a single keyword search hit.
type Result struct {
	ID    string
	Score float64
}

type fragmentDoc struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

// BleveIndex is a memory-only Bleve index.
type BleveIndex struct {
	index bleve.Index
}

// NewMemIndex creates an empty memory-only index. Content uses the standard
// analyzer (lowercase and tokenize, no stemming); tag is stored as a keyword.
func NewMemIndex() (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("tag", bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("fragment", docMapping)
	im.DefaultType = "fragment"
	im.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Add indexes one fragment.
func (b *BleveIndex) Add(ctx context.Context, id, tag, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.index.Index(id, fragmentDoc{Tag: tag, Content: content})
}

// AddBatch indexes fragments in one batch. ids, tags and contents are parallel.
func (b *BleveIndex) AddBatch(ctx context.Context, ids, tags, contents []string) error {
	if len(ids) != len(contents) || len(ids) != len(tags) {
		return fmt.Errorf("ids, tags and contents length mismatch")
	}
	batch := b.index.NewBatch()
	for i, id := range ids {
		if err := batch.Index(id, fragmentDoc{Tag: tags[i], Content: contents[i]}); err != nil {
			return fmt.Errorf("failed to batch fragment %s: %w", id, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index batch: %w", err)
	}
	return nil
}

// Search runs a match query over content and returns up to limit hits by score.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := bleve.NewMatchQuery(query)
	q.SetField("content")
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]Result, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = Result{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// DocCount returns the number of indexed fragments.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close releases the index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
