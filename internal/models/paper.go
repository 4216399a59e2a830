// Package models defines the data structures shared by the coding and modeling pipeline.
package models

import "strings"

// DetailInitialCodes is the detail key holding a paper's first-order codes.
const DetailInitialCodes = "Initial Codes"

// Paper is a source document in a session. Details holds named fields that
// phases populate incrementally (e.g. DetailInitialCodes).
type Paper struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	FullText string         `json:"fullText,omitempty"`
	Abstract string         `json:"abstract,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// Text returns the best available text body: full text, then abstract, then title.
func (p *Paper) Text() string {
	if strings.TrimSpace(p.FullText) != "" {
		return p.FullText
	}
	if strings.TrimSpace(p.Abstract) != "" {
		return p.Abstract
	}
	return p.Title
}

// HasInitialCodes reports whether the paper has been coded, even if it yielded no codes.
func (p *Paper) HasInitialCodes() bool {
	if p.Details == nil {
		return false
	}
	_, ok := p.Details[DetailInitialCodes]
	return ok
}

// InitialCodes returns the paper's first-order codes. Values decoded from JSON
// ([]any) are converted; anything else yields nil.
func (p *Paper) InitialCodes() []string {
	if p.Details == nil {
		return nil
	}
	switch v := p.Details[DetailInitialCodes].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// SetInitialCodes replaces the paper's first-order codes.
func (p *Paper) SetInitialCodes(codes []string) {
	if p.Details == nil {
		p.Details = make(map[string]any)
	}
	if codes == nil {
		codes = []string{}
	}
	p.Details[DetailInitialCodes] = codes
}

// ClearInitialCodes removes the paper's codes so it will be coded again.
func (p *Paper) ClearInitialCodes() {
	if p.Details != nil {
		delete(p.Details, DetailInitialCodes)
	}
}

// Clone returns a copy whose Details map can be mutated independently.
func (p Paper) Clone() Paper {
	out := p
	if p.Details != nil {
		out.Details = make(map[string]any, len(p.Details))
		for k, v := range p.Details {
			if codes, ok := v.([]string); ok {
				v = append([]string(nil), codes...)
			}
			out.Details[k] = v
		}
	}
	return out
}

// ClonePapers copies a slice of papers with Clone.
func ClonePapers(papers []Paper) []Paper {
	if papers == nil {
		return nil
	}
	out := make([]Paper, len(papers))
	for i := range papers {
		out[i] = papers[i].Clone()
	}
	return out
}
