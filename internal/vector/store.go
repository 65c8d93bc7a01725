// Package vector implements the pgvector-backed document store. It owns
// documents and their embeddings and answers ranked similarity queries.
// Embedding generation happens upstream; the store only ever sees vectors.
package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/kosmos-bio/kosmos/internal/document"
)

// Dimensions is the embedding width the documents table is declared with.
// Vectors of any other length are rejected before touching the database.
const Dimensions = 768

// ErrUnavailable indicates the store could not be reached or the query
// failed. Callers treat it as retryable.
var ErrUnavailable = errors.New("vector store unavailable")

// ErrDimensionMismatch indicates an embedding of the wrong width.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Querier is the subset of pgxpool.Pool the store needs.
// Defined here, by the consumer, so tests can substitute a fake.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store manages documents in PostgreSQL with pgvector similarity search.
// Safe for concurrent use by multiple goroutines.
type Store struct {
	db     Querier
	logger *slog.Logger
}

// New creates a Store over the given querier. A nil logger falls back to
// slog.Default.
func New(db Querier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Upsert inserts the document or, when the ID already exists, atomically
// replaces its content, metadata and embedding. Calling it twice with the
// same arguments leaves a single row.
func (s *Store) Upsert(ctx context.Context, doc document.Document, embedding []float32) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if len(embedding) != Dimensions {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), Dimensions)
	}

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	vec := pgvector.NewVector(embedding)
	_, err = s.db.Exec(ctx,
		`INSERT INTO documents (id, content, metadata, embedding)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET content = EXCLUDED.content,
		     metadata = EXCLUDED.metadata,
		     embedding = EXCLUDED.embedding`,
		doc.ID, doc.Content, metadataJSON, vec)
	if err != nil {
		return fmt.Errorf("%w: upsert document %q: %v", ErrUnavailable, doc.ID, err)
	}

	s.logger.Debug("upserted document", "id", doc.ID, "content_length", len(doc.Content))
	return nil
}

// Search returns the documents closest to the query embedding, most similar
// first. Ties are broken by document ID so rankings are stable across calls.
//
// Example:
//
//	results, err := store.Search(ctx, vec,
//	    vector.WithTopK(10),
//	    vector.WithFilter("organism", "mouse"))
func (s *Store) Search(ctx context.Context, embedding []float32, opts ...SearchOption) ([]document.Candidate, error) {
	if len(embedding) != Dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), Dimensions)
	}
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	vec := pgvector.NewVector(embedding)

	// Filters are always serialized with json.Marshal and matched with
	// the parameterized @> containment operator, never interpolated.
	var rows pgx.Rows
	var err error
	if len(cfg.filter) > 0 {
		filterJSON, marshalErr := json.Marshal(cfg.filter)
		if marshalErr != nil {
			return nil, fmt.Errorf("failed to marshal filter: %w", marshalErr)
		}
		rows, err = s.db.Query(queryCtx,
			`SELECT id, content, metadata, created_at, 1 - (embedding <=> $1) AS score
			 FROM documents
			 WHERE metadata @> $2
			 ORDER BY embedding <=> $1, id
			 LIMIT $3`,
			vec, filterJSON, cfg.topK)
	} else {
		rows, err = s.db.Query(queryCtx,
			`SELECT id, content, metadata, created_at, 1 - (embedding <=> $1) AS score
			 FROM documents
			 ORDER BY embedding <=> $1, id
			 LIMIT $2`,
			vec, cfg.topK)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: search query timeout: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("%w: search failed: %v", ErrUnavailable, err)
	}

	candidates, err := scanCandidates(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return clipMinScore(candidates, cfg.minScore), nil
}

// Delete removes a document by ID. Deleting an absent ID is not an error.
func (s *Store) Delete(ctx context.Context, docID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, docID); err != nil {
		return fmt.Errorf("%w: delete document %q: %v", ErrUnavailable, docID, err)
	}
	s.logger.Debug("deleted document", "id", docID)
	return nil
}

// Count returns the number of documents matching the filter, or the total
// count when filter is empty.
func (s *Store) Count(ctx context.Context, filter map[string]string) (int, error) {
	var count int64
	var err error
	if len(filter) > 0 {
		filterJSON, marshalErr := json.Marshal(filter)
		if marshalErr != nil {
			return 0, fmt.Errorf("failed to marshal filter: %w", marshalErr)
		}
		err = s.db.QueryRow(ctx,
			`SELECT count(*) FROM documents WHERE metadata @> $1`, filterJSON).Scan(&count)
	} else {
		err = s.db.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: count failed: %v", ErrUnavailable, err)
	}
	if count > math.MaxInt {
		return 0, fmt.Errorf("document count %d exceeds platform int capacity", count)
	}
	return int(count), nil
}

// Stats summarizes corpus contents for the health endpoint.
type Stats struct {
	Total        int            `json:"total"`
	BySourceType map[string]int `json:"by_source_type"`
}

// HealthCheck verifies connectivity with a real round trip and reports
// corpus counts grouped by source type.
func (s *Store) HealthCheck(ctx context.Context) (Stats, error) {
	rows, err := s.db.Query(ctx,
		`SELECT metadata->>'source_type', count(*)
		 FROM documents
		 GROUP BY 1`)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: health check failed: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	stats := Stats{BySourceType: make(map[string]int)}
	for rows.Next() {
		var sourceType *string
		var count int
		if err := rows.Scan(&sourceType, &count); err != nil {
			return Stats{}, fmt.Errorf("%w: health check scan: %v", ErrUnavailable, err)
		}
		key := "unknown"
		if sourceType != nil && *sourceType != "" {
			key = *sourceType
		}
		stats.BySourceType[key] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("%w: health check: %v", ErrUnavailable, err)
	}
	return stats, nil
}

// scanCandidates drains rows into ranked candidates. Row order is the
// database ranking and is preserved as-is.
func scanCandidates(rows pgx.Rows) ([]document.Candidate, error) {
	defer rows.Close()

	var out []document.Candidate
	for rows.Next() {
		var (
			doc          document.Document
			metadataJSON []byte
			score        float64
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON, &doc.CreatedAt, &score); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for %q: %w", doc.ID, err)
		}
		out = append(out, document.Candidate{Document: doc, Score: float32(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result rows: %w", err)
	}
	return out, nil
}

// clipMinScore drops candidates below the similarity floor. Candidates are
// ranked best-first, so the clip always removes a suffix.
func clipMinScore(candidates []document.Candidate, minScore float32) []document.Candidate {
	if minScore <= 0 {
		return candidates
	}
	for i, c := range candidates {
		if c.Score < minScore {
			return candidates[:i]
		}
	}
	return candidates
}
