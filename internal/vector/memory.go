package vector

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/academiaos/academiaos/pkg/utils"
)

// MemoryIndex is a brute-force cosine similarity index. Vectors are normalized
// on insert, so search is a dot product. Ties keep insertion order.
type MemoryIndex struct {
	dimensions int
	ids        []string
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{dimensions: dimensions}, nil
}

// Add appends vectors with the given IDs.
func (m *MemoryIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		if len(vectors[i]) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), m.dimensions)
		}
		m.ids = append(m.ids, id)
		m.vectors = append(m.vectors, normalized(vectors[i]))
	}
	return nil
}

// Search returns the top-k vectors by cosine similarity to query.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.ids) == 0 {
		return nil, nil
	}
	q := normalized(query)
	results := make([]Result, len(m.ids))
	for i, vec := range m.vectors {
		results[i] = Result{ID: m.ids[i], Score: InnerProduct(q, vec)}
	}
	slices.SortStableFunc(results, func(a, b Result) int { return cmp.Compare(b.Score, a.Score) })
	return results[:min(k, len(results))], nil
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

func normalized(v []float32) []float32 {
	out := slices.Clone(v)
	utils.NormalizeL2(out)
	return out
}
