package retrieval

import (
	"sort"

	"github.com/academiaos/academiaos/internal/keyword"
	"github.com/academiaos/academiaos/internal/vector"
)

// FusedResult holds a fragment ID and fused keyword/semantic scores.
type FusedResult struct {
	ID            string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// NormalizeKeywordScores normalizes keyword scores to [0,1] by max.
func NormalizeKeywordScores(results []keyword.Result) map[string]float64 {
	normalized := make(map[string]float64, len(results))
	maxScore := 0.0
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	for _, r := range results {
		if maxScore > 0 {
			normalized[r.ID] = r.Score / maxScore
		} else {
			normalized[r.ID] = 0
		}
	}
	return normalized
}

// Fuse merges semantic and keyword hits with weights. Keyword scores are
// normalized first. Equal scores keep semantic rank, then keyword rank.
func Fuse(semantic []vector.Result, lexical []keyword.Result, keywordWeight, semanticWeight float64) []FusedResult {
	keywordScores := NormalizeKeywordScores(lexical)
	index := make(map[string]int, len(semantic)+len(lexical))
	results := make([]FusedResult, 0, len(semantic)+len(lexical))
	for _, r := range semantic {
		if _, ok := index[r.ID]; ok {
			continue
		}
		index[r.ID] = len(results)
		results = append(results, FusedResult{ID: r.ID, SemanticScore: r.Score})
	}
	for _, r := range lexical {
		if i, ok := index[r.ID]; ok {
			results[i].KeywordScore = keywordScores[r.ID]
			continue
		}
		index[r.ID] = len(results)
		results = append(results, FusedResult{ID: r.ID, KeywordScore: keywordScores[r.ID]})
	}
	for i := range results {
		results[i].Score = keywordWeight*results[i].KeywordScore + semanticWeight*results[i].SemanticScore
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}
