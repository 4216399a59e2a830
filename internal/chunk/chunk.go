// Package chunk splits large text into bounded, overlapping segments sized for a single model call.
package chunk

import (
	"errors"
	"fmt"
	"iter"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidPolicy is returned when a chunking policy has non-positive sizes
// or an overlap that would stop the window from advancing.
var ErrInvalidPolicy = errors.New("chunk: invalid policy")

// Policy controls splitting. Threshold is measured in characters (runes);
// Size and Overlap are measured in whitespace-delimited words.
type Policy struct {
	Threshold int `yaml:"threshold" json:"threshold"`
	Size      int `yaml:"size" json:"size"`
	Overlap   int `yaml:"overlap" json:"overlap"`
}

// Validate reports ErrInvalidPolicy for unusable parameters.
func (p Policy) Validate() error {
	switch {
	case p.Threshold <= 0:
		return fmt.Errorf("%w: threshold must be positive, got %d", ErrInvalidPolicy, p.Threshold)
	case p.Size <= 0:
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidPolicy, p.Size)
	case p.Overlap < 0:
		return fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidPolicy, p.Overlap)
	case p.Overlap >= p.Size:
		return fmt.Errorf("%w: overlap %d must be smaller than size %d", ErrInvalidPolicy, p.Overlap, p.Size)
	}
	return nil
}

// Chunk is one segment of a source text. Start and End are byte offsets into
// the source; Content[Overlap:] is the part not already covered by the
// previous chunk.
type Chunk struct {
	ID      string
	Tag     string
	Index   int
	Content string
	Start   int
	End     int
	Overlap int
}

// Fresh returns the part of the chunk that does not repeat the previous chunk.
func (c Chunk) Fresh() string {
	return c.Content[c.Overlap:]
}

// Chunker splits text according to a validated Policy.
type Chunker struct {
	policy Policy
}

// New creates a chunker, failing fast on an invalid policy.
func New(policy Policy) (*Chunker, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{policy: policy}, nil
}

// MustNew is New for policies known to be valid (defaults, tests).
func MustNew(policy Policy) *Chunker {
	c, err := New(policy)
	if err != nil {
		panic(err)
	}
	return c
}

// Policy returns the chunker's policy.
func (c *Chunker) Policy() Policy {
	return c.policy
}

// Split returns a lazy sequence of chunks for text, each tagged with tag for
// traceability. Text at or below the threshold yields exactly one chunk equal
// to the input. The sequence can be ranged over more than once.
func (c *Chunker) Split(tag, text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		if utf8.RuneCountInString(text) <= c.policy.Threshold {
			yield(Chunk{ID: chunkID(tag, 0), Tag: tag, Content: text, End: len(text)})
			return
		}
		starts := wordStarts(text)
		if len(starts) == 0 {
			yield(Chunk{ID: chunkID(tag, 0), Tag: tag, Content: text, End: len(text)})
			return
		}
		step := c.policy.Size - c.policy.Overlap
		index := 0
		for i := 0; i < len(starts); i += step {
			begin := starts[i]
			if i == 0 {
				begin = 0
			}
			last := i+c.policy.Size >= len(starts)
			end := len(text)
			if !last {
				end = starts[i+c.policy.Size]
			}
			overlap := 0
			if i > 0 {
				overlap = starts[i+c.policy.Overlap] - begin
			}
			ch := Chunk{
				ID:      chunkID(tag, index),
				Tag:     tag,
				Index:   index,
				Content: text[begin:end],
				Start:   begin,
				End:     end,
				Overlap: overlap,
			}
			if !yield(ch) || last {
				return
			}
			index++
		}
	}
}

// Texts collects chunk contents into a slice.
func Texts(seq iter.Seq[Chunk]) []string {
	var out []string
	for ch := range seq {
		out = append(out, ch.Content)
	}
	return out
}

// Collect gathers the sequence into a slice.
func Collect(seq iter.Seq[Chunk]) []Chunk {
	var out []Chunk
	for ch := range seq {
		out = append(out, ch)
	}
	return out
}

func chunkID(tag string, index int) string {
	return fmt.Sprintf("%s_%d", tag, index)
}

// wordStarts returns the byte offset of the first byte of every word.
func wordStarts(text string) []int {
	var starts []int
	inWord := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			starts = append(starts, i)
			inWord = true
		}
	}
	return starts
}
