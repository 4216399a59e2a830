package modeling

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/academiaos/academiaos/internal/coding"
	"github.com/academiaos/academiaos/internal/models"
)

// mermaidStarts are the diagram keywords a Mermaid source may begin with.
var mermaidStarts = []string{"graph", "flowchart", "sequenceDiagram", "classDiagram", "stateDiagram", "erDiagram", "mindmap"}

// ParseTheories reads {"theories":[...]} or a bare array of theory objects.
func ParseTheories(raw string) ([]models.Theory, error) {
	var v json.RawMessage
	if err := coding.DecodeJSON(raw, &v); err != nil {
		return nil, err
	}
	var list []models.Theory
	if err := json.Unmarshal(v, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Theories []models.Theory `json:"theories"`
	}
	if err := json.Unmarshal(v, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Theories == nil {
		return nil, errors.New(`object has no "theories" array`)
	}
	return wrapped.Theories, nil
}

// ParsePairs reads {"pairs":[[a,b],...]} or a bare array of pairs. Entries
// that are not exactly two non-empty strings are dropped.
func ParsePairs(raw string) ([][2]string, error) {
	var v any
	if err := coding.DecodeJSON(raw, &v); err != nil {
		return nil, err
	}
	var arr []any
	switch t := v.(type) {
	case []any:
		arr = t
	case map[string]any:
		var ok bool
		if arr, ok = t["pairs"].([]any); !ok {
			return nil, errors.New(`object has no "pairs" array`)
		}
	default:
		return nil, errors.New("expected object or array")
	}

	out := make([][2]string, 0, len(arr))
	for _, item := range arr {
		tuple, ok := item.([]any)
		if !ok || len(tuple) != 2 {
			continue
		}
		a, okA := tuple[0].(string)
		b, okB := tuple[1].(string)
		a, b = strings.TrimSpace(a), strings.TrimSpace(b)
		if !okA || !okB || a == "" || b == "" {
			continue
		}
		out = append(out, [2]string{a, b})
	}
	return out, nil
}

// CleanMermaid cuts raw at the first line starting with a Mermaid keyword and
// removes code fences.
func CleanMermaid(raw string) string {
	s := raw
	if idx := mermaidStart(s); idx >= 0 {
		s = s[idx:]
	}
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func mermaidStart(s string) int {
	offset := 0
	for _, line := range strings.SplitAfter(s, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		for _, kw := range mermaidStarts {
			if strings.HasPrefix(trimmed, kw) && !wordByteAt(trimmed, len(kw)) {
				return offset + len(line) - len(trimmed)
			}
		}
		offset += len(line)
	}
	best := -1
	for _, kw := range mermaidStarts {
		if i := indexWord(s, kw); i >= 0 && (best == -1 || i < best) {
			best = i
		}
	}
	return best
}

// indexWord is strings.Index restricted to matches that are whole words, so
// "graph" is not found inside "paragraph" or "graphical".
func indexWord(s, kw string) int {
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], kw)
		if i < 0 {
			return -1
		}
		i += from
		if !wordByteAt(s, i-1) && !wordByteAt(s, i+len(kw)) {
			return i
		}
		from = i + 1
	}
	return -1
}

func wordByteAt(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	c := s[i]
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// CleanName trims a model name reply to its first line without surrounding quotes.
func CleanName(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.TrimSpace(strings.Trim(s, "\"'`*“”‘’"))
	return s
}
