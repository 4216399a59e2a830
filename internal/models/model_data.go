package models

import "sort"

// CodeMap maps a higher-level label to its members: theme -> codes, or
// dimension -> themes. A member may appear under several keys.
type CodeMap map[string][]string

// Keys returns the map keys sorted.
func (m CodeMap) Keys() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (m CodeMap) Clone() CodeMap {
	if m == nil {
		return nil
	}
	out := make(CodeMap, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Interrelationship is a hypothesised relationship between two concepts.
type Interrelationship struct {
	Concepts          [2]string `json:"concepts"`
	Interrelationship string    `json:"interrelationship"`
	Evidence          string    `json:"evidence"`
}

// Theory is one result of the theory brainstorm step.
type Theory struct {
	Theory                    string   `json:"theory"`
	Description               string   `json:"description"`
	RelatedDimensions         []string `json:"relatedDimensions"`
	PossibleResearchQuestions []string `json:"possibleResearchQuestions"`
}

// ModelData is the session aggregate root. The JSON layout is the session
// document format written by session.Save.
type ModelData struct {
	SchemaVersion       int                 `json:"schemaVersion"`
	Query               string              `json:"query"`
	Papers              []Paper             `json:"papers"`
	FirstOrderCodes     []string            `json:"firstOrderCodes"`
	SecondOrderCodes    CodeMap             `json:"secondOrderCodes"`
	AggregateDimensions CodeMap             `json:"aggregateDimensions"`
	Interrelationships  []Interrelationship `json:"interrelationships"`
	ModelName           string              `json:"modelName"`
	ModelDescription    string              `json:"modelDescription"`
	ModelVisualization  string              `json:"modelVisualization"`
	Critique            string              `json:"critique"`
	Remarks             string              `json:"remarks"`

	// Theories from the last synthesis run; not part of the document.
	Theories []Theory `json:"-"`
}

// NewModelData returns an empty aggregate with non-nil collections.
func NewModelData(query string) *ModelData {
	return &ModelData{
		Query:               query,
		Papers:              []Paper{},
		FirstOrderCodes:     []string{},
		SecondOrderCodes:    CodeMap{},
		AggregateDimensions: CodeMap{},
		Interrelationships:  []Interrelationship{},
	}
}

// Clone returns a deep copy safe to hand to a running phase.
func (m *ModelData) Clone() *ModelData {
	out := *m
	out.Papers = ClonePapers(m.Papers)
	out.FirstOrderCodes = append([]string(nil), m.FirstOrderCodes...)
	out.SecondOrderCodes = m.SecondOrderCodes.Clone()
	out.AggregateDimensions = m.AggregateDimensions.Clone()
	out.Interrelationships = append([]Interrelationship(nil), m.Interrelationships...)
	out.Theories = append([]Theory(nil), m.Theories...)
	return &out
}

// Normalize replaces nil collections with empty ones so the document always
// serializes arrays and objects rather than null.
func (m *ModelData) Normalize() {
	if m.Papers == nil {
		m.Papers = []Paper{}
	}
	if m.FirstOrderCodes == nil {
		m.FirstOrderCodes = []string{}
	}
	if m.SecondOrderCodes == nil {
		m.SecondOrderCodes = CodeMap{}
	}
	if m.AggregateDimensions == nil {
		m.AggregateDimensions = CodeMap{}
	}
	if m.Interrelationships == nil {
		m.Interrelationships = []Interrelationship{}
	}
}
