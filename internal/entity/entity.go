// Package entity extracts space-biology entities (organisms, tissues,
// missions, genes, proteins, gravity conditions, study types) from free
// text.
//
// Two strategies exist: a regex dictionary that always works offline, and
// a model-backed extractor that asks Gemini for structured output and
// merges the result with the dictionary matches. Extraction never fails a
// request; when anything goes wrong the caller gets whatever the
// dictionary found.
package entity

import "context"

// Type classifies an extracted entity.
type Type string

// Entity types. The first four double as vector store filter keys.
const (
	TypeOrganism         Type = "organism"
	TypeTissue           Type = "tissue"
	TypeMission          Type = "mission"
	TypeGene             Type = "gene"
	TypeProtein          Type = "protein"
	TypeGravityCondition Type = "gravity_condition"
	TypeStudyType        Type = "study_type"
)

// Valid reports whether t is a known entity type.
func (t Type) Valid() bool {
	switch t {
	case TypeOrganism, TypeTissue, TypeMission, TypeGene, TypeProtein,
		TypeGravityCondition, TypeStudyType:
		return true
	}
	return false
}

// Entity is a typed mention found in text. Value keeps the surface form
// as matched, lowercased for dictionary hits, verbatim for gene symbols.
// Confidence is set only by the model-backed strategy; dictionary matches
// carry none.
type Entity struct {
	Type       Type    `json:"type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Extractor finds entities in text. Implementations must be safe for
// concurrent use and must not return an error for ordinary input; a nil
// slice simply means nothing was found.
type Extractor interface {
	Extract(ctx context.Context, text string) []Entity
}

// merge unions two entity lists, preserving the order of first appearance
// and dropping duplicates by (type, value). Confidence does not
// distinguish mentions; the first occurrence wins.
func merge(a, b []Entity) []Entity {
	type key struct {
		t Type
		v string
	}
	seen := make(map[key]struct{}, len(a)+len(b))
	out := make([]Entity, 0, len(a)+len(b))
	for _, list := range [][]Entity{a, b} {
		for _, e := range list {
			k := key{e.Type, e.Value}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}
