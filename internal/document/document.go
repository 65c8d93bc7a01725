// Package document defines the core domain types shared by the retrieval
// pipeline: documents with typed metadata, queries, and retrieved candidates.
//
// Documents are immutable once inserted into the vector store; re-insertion
// with the same ID is an upsert, not a duplicate. The core only reads
// documents — ingestion is an external collaborator.
package document

import (
	"errors"
	"fmt"
	"time"
)

// SourceType categorizes a document's origin.
type SourceType string

// Valid source types. Each carries its own required metadata fields,
// validated at the ingestion boundary (see Metadata.Validate).
const (
	SourcePublication SourceType = "publication"
	SourceDataset     SourceType = "dataset"
	SourceProject     SourceType = "project"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourcePublication, SourceDataset, SourceProject:
		return true
	}
	return false
}

// Sentinel errors for document validation.
var (
	// ErrMissingID indicates a document has no stable identifier.
	ErrMissingID = errors.New("document id is required")

	// ErrMissingContent indicates a document has no text content.
	ErrMissingContent = errors.New("document content is required")

	// ErrInvalidSourceType indicates an unknown source type.
	ErrInvalidSourceType = errors.New("invalid source type")

	// ErrMissingTitle indicates required title metadata is absent.
	ErrMissingTitle = errors.New("document title is required")
)

// Metadata carries the typed fields attached to a document.
// Title and SourceType are required for every document; the remaining
// fields are optional and vary by source type (a publication carries
// authors/journal/year, a dataset carries organism/tissue/mission).
type Metadata struct {
	Title      string     `json:"title"`
	SourceType SourceType `json:"source_type"`
	Organism   string     `json:"organism,omitempty"`
	Tissue     string     `json:"tissue,omitempty"`
	Mission    string     `json:"mission,omitempty"`
	Authors    string     `json:"authors,omitempty"`
	Journal    string     `json:"journal,omitempty"`
	Year       string     `json:"year,omitempty"`
	URL        string     `json:"url,omitempty"`
}

// Validate checks the required fields for the metadata's source type.
func (m Metadata) Validate() error {
	if m.Title == "" {
		return ErrMissingTitle
	}
	if !m.SourceType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSourceType, m.SourceType)
	}
	return nil
}

// Filterable returns the metadata as a flat string map for vector store
// filter matching. Only non-empty fields are included.
func (m Metadata) Filterable() map[string]string {
	out := make(map[string]string, 4)
	if m.Organism != "" {
		out["organism"] = m.Organism
	}
	if m.Tissue != "" {
		out["tissue"] = m.Tissue
	}
	if m.Mission != "" {
		out["mission"] = m.Mission
	}
	out["source_type"] = string(m.SourceType)
	return out
}

// Document is a corpus unit owned by the vector store.
type Document struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Validate checks the document for the invariants the ingestion boundary
// requires: stable ID, non-empty content, valid typed metadata.
func (d Document) Validate() error {
	if d.ID == "" {
		return ErrMissingID
	}
	if d.Content == "" {
		return fmt.Errorf("%w (id=%s)", ErrMissingContent, d.ID)
	}
	if err := d.Metadata.Validate(); err != nil {
		return fmt.Errorf("document %s: %w", d.ID, err)
	}
	return nil
}

// Candidate is a document paired with its similarity score, as returned by
// a vector store query. A ranked list is always non-increasing in score.
type Candidate struct {
	Document Document
	Score    float32 // cosine similarity in [0,1]
}

// Query is the ephemeral per-request value object: raw text plus optional
// metadata filters. Created per request, discarded after response.
type Query struct {
	Text     string
	TopK     int
	Filters  map[string]string // conjunctive equality filters over metadata
	MinScore float32           // similarity floor; 0 disables
}
