package coding

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/academiaos/academiaos/internal/models"
	"github.com/academiaos/academiaos/pkg/utils"
)

// MalformedResponseError means a model reply could not be parsed into the
// expected shape. Raw holds the reply, truncated.
type MalformedResponseError struct {
	Step string
	Raw  string
	Err  error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed %s response: %v", e.Step, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// NewMalformedResponseError records a reply for step that failed to parse with err.
func NewMalformedResponseError(step, raw string, err error) *MalformedResponseError {
	return &MalformedResponseError{Step: step, Raw: utils.Truncate(raw, 500), Err: err}
}

// DecodeJSON unmarshals a model reply into v. It tolerates code fences and
// prose around the first top-level JSON object or array.
func DecodeJSON(raw string, v any) error {
	s := stripFences(strings.TrimSpace(raw))
	if s == "" {
		return io.ErrUnexpectedEOF
	}
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}

	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return errors.New("no JSON value found in model output")
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return io.ErrUnexpectedEOF
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("failed to unmarshal extracted JSON (len=%d): %w", end+1-start, err)
	}
	return nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl != -1 {
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// ParseCodes reads {"codes":[...]} or a bare array of strings. Blank and
// non-string entries are dropped.
func ParseCodes(raw string) ([]string, error) {
	var v any
	if err := DecodeJSON(raw, &v); err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case []any:
		return stringsOf(t), nil
	case map[string]any:
		if arr, ok := t["codes"].([]any); ok {
			return stringsOf(arr), nil
		}
		// A single key holding an array is accepted under any name.
		if len(t) == 1 {
			for _, val := range t {
				if arr, ok := val.([]any); ok {
					return stringsOf(arr), nil
				}
			}
		}
		return nil, errors.New(`object has no "codes" array`)
	default:
		return nil, fmt.Errorf("expected object or array, got %T", v)
	}
}

// ParseCodeMap reads an object of label to member array. A reply wrapped in a
// single key such as {"themes":{...}} is unwrapped. A string value counts as a
// one-member list.
func ParseCodeMap(raw string) (models.CodeMap, error) {
	var obj map[string]any
	if err := DecodeJSON(raw, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("expected JSON object")
	}
	if len(obj) == 1 {
		for _, val := range obj {
			if inner, ok := val.(map[string]any); ok {
				obj = inner
			}
		}
	}
	out := make(models.CodeMap, len(obj))
	for key, val := range obj {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		switch t := val.(type) {
		case []any:
			out[key] = dedup(stringsOf(t))
		case string:
			if s := strings.TrimSpace(t); s != "" {
				out[key] = []string{s}
			}
		default:
			return nil, fmt.Errorf("value for %q is %T, expected array", key, val)
		}
	}
	return out, nil
}

func stringsOf(arr []any) []string {
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func dedup(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
