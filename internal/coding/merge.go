package coding

import (
	"github.com/academiaos/academiaos/internal/models"
)

// MergeCodeMaps unions next into acc per key, deduplicating members by exact
// value and creating keys as needed. acc is modified and returned; a nil acc
// starts a new map. As a set-valued map the merge is commutative and
// associative; member order is first occurrence in merge order.
func MergeCodeMaps(acc, next models.CodeMap) models.CodeMap {
	if acc == nil {
		acc = make(models.CodeMap, len(next))
	}
	for _, key := range next.Keys() {
		members := acc[key]
		if members == nil {
			members = []string{}
		}
		seen := make(map[string]bool, len(members))
		for _, m := range members {
			seen[m] = true
		}
		for _, m := range next[key] {
			if !seen[m] {
				seen[m] = true
				members = append(members, m)
			}
		}
		acc[key] = members
	}
	return acc
}

// UnionCodes returns the deduplicated union of lists in first-occurrence order.
func UnionCodes(lists ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, list := range lists {
		for _, c := range list {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}
