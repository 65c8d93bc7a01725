package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the store needs. Defined by the
// consumer so tests can substitute a fake.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store manages sessions and messages in PostgreSQL. Safe for concurrent
// use; concurrent appends to one session serialize on a row lock.
type Store struct {
	db     DB
	logger *slog.Logger
}

// NewStore creates a Store. A nil logger falls back to slog.Default.
func NewStore(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Create starts a new untitled session.
func (s *Store) Create(ctx context.Context) (*Session, error) {
	sess := &Session{ID: uuid.New()}
	err := s.db.QueryRow(ctx,
		`INSERT INTO sessions (id) VALUES ($1)
		 RETURNING created_at, updated_at`,
		sess.ID).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: create session: %v", ErrUnavailable, err)
	}

	s.logger.Debug("created session", "session_id", sess.ID)
	return sess, nil
}

// Get loads one session.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess := &Session{ID: id}
	var title *string
	err := s.db.QueryRow(ctx,
		`SELECT title, created_at, updated_at FROM sessions WHERE id = $1`,
		id).Scan(&title, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get session: %v", ErrUnavailable, err)
	}
	if title != nil {
		sess.Title = *title
	}
	return sess, nil
}

// List returns sessions, most recently active first.
func (s *Store) List(ctx context.Context, limit int) ([]Session, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, title, created_at, updated_at
		 FROM sessions
		 ORDER BY updated_at DESC
		 LIMIT $1`,
		clampHistoryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var title *string
		if err := rows.Scan(&sess.ID, &title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan session: %v", ErrUnavailable, err)
		}
		if title != nil {
			sess.Title = *title
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrUnavailable, err)
	}
	return out, nil
}

// AppendTurn stores one answered question as a user and an assistant
// message in one transaction. The session row is locked first so
// concurrent appends to the same session get dense, gap-free sequence
// numbers. The session title is set from the first question and only the
// first, the conditional UPDATE leaves an existing title alone.
func (s *Store) AppendTurn(ctx context.Context, sessionID uuid.UUID, turn Turn) error {
	if err := turn.Validate(); err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin append: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM sessions WHERE id = $1 FOR UPDATE`,
		sessionID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return fmt.Errorf("%w: lock session: %v", ErrUnavailable, err)
	}

	var maxSeq int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM session_messages WHERE session_id = $1`,
		sessionID).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("%w: read sequence: %v", ErrUnavailable, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO session_messages (session_id, sequence, role, content)
		 VALUES ($1, $2, $3, $4)`,
		sessionID, maxSeq+1, RoleUser, turn.Question)
	if err != nil {
		return fmt.Errorf("%w: insert user message: %v", ErrUnavailable, err)
	}

	sourcesJSON, err := json.Marshal(turn.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	entitiesJSON, err := json.Marshal(turn.Entities)
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO session_messages (session_id, sequence, role, content, sources, entities)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sessionID, maxSeq+2, RoleAssistant, turn.Answer, sourcesJSON, entitiesJSON)
	if err != nil {
		return fmt.Errorf("%w: insert assistant message: %v", ErrUnavailable, err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE sessions SET title = $2 WHERE id = $1 AND title IS NULL`,
		sessionID, deriveTitle(turn.Question))
	if err != nil {
		return fmt.Errorf("%w: set title: %v", ErrUnavailable, err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE sessions SET updated_at = now() WHERE id = $1`,
		sessionID)
	if err != nil {
		return fmt.Errorf("%w: touch session: %v", ErrUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit append: %v", ErrUnavailable, err)
	}

	s.logger.Debug("appended turn", "session_id", sessionID, "sequence", maxSeq+2)
	return nil
}

// History returns the newest messages of a session in chronological
// order. limit counts messages, not turns, and is clamped.
func (s *Store) History(ctx context.Context, sessionID uuid.UUID, limit int) ([]Message, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, session_id, sequence, role, content, sources, entities, created_at
		 FROM (
		     SELECT * FROM session_messages
		     WHERE session_id = $1
		     ORDER BY sequence DESC
		     LIMIT $2
		 ) newest
		 ORDER BY sequence ASC`,
		sessionID, clampHistoryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("%w: load history: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m            Message
			sourcesJSON  []byte
			entitiesJSON []byte
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sequence, &m.Role, &m.Content,
			&sourcesJSON, &entitiesJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan message: %v", ErrUnavailable, err)
		}
		if len(sourcesJSON) > 0 {
			if err := json.Unmarshal(sourcesJSON, &m.Sources); err != nil {
				return nil, fmt.Errorf("unmarshal sources: %w", err)
			}
		}
		if len(entitiesJSON) > 0 {
			if err := json.Unmarshal(entitiesJSON, &m.Entities); err != nil {
				return nil, fmt.Errorf("unmarshal entities: %w", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: load history: %v", ErrUnavailable, err)
	}
	return out, nil
}

// Clear removes every message of a session but keeps the session row.
// The title is reset too, so the next first turn derives a fresh one.
func (s *Store) Clear(ctx context.Context, sessionID uuid.UUID) error {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin clear: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM session_messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("%w: clear session: %v", ErrUnavailable, err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET title = NULL, updated_at = now() WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("%w: reset title: %v", ErrUnavailable, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit clear: %v", ErrUnavailable, err)
	}

	s.logger.Debug("cleared session", "session_id", sessionID)
	return nil
}

// Delete removes a session and, via cascade, its messages.
func (s *Store) Delete(ctx context.Context, sessionID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("%w: delete session: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.logger.Debug("deleted session", "session_id", sessionID)
	return nil
}
