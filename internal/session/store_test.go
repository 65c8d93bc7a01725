package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeTx embeds pgx.Tx for interface satisfaction and stubs the methods
// AppendTurn actually uses. Unstubbed methods panic, which is the point:
// the test fails loudly if the store starts calling something new.
type fakeTx struct {
	pgx.Tx

	sessionExists bool
	execSQL       []string
	committed     bool
	rolledBack    bool
}

func (f *fakeTx) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "FOR UPDATE"):
		if !f.sessionExists {
			return scanErrRow{err: pgx.ErrNoRows}
		}
		return scanRow{values: []any{uuid.New()}}
	case strings.Contains(sql, "MAX(sequence)"):
		return scanRow{values: []any{4}}
	}
	return scanErrRow{err: errors.New("unexpected QueryRow: " + sql)}
}

func (f *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	return pgconn.CommandTag{}, nil
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolledBack = true
	return nil
}

type scanErrRow struct{ err error }

func (r scanErrRow) Scan(...any) error { return r.err }

// scanRow copies scripted values into Scan destinations.
type scanRow struct{ values []any }

func (r scanRow) Scan(dest ...any) error {
	for i, d := range dest {
		if r.values[i] == nil {
			continue
		}
		switch v := r.values[i].(type) {
		case uuid.UUID:
			*d.(*uuid.UUID) = v
		case int:
			*d.(*int) = v
		case time.Time:
			*d.(*time.Time) = v
		default:
			return errors.New("scanRow: unsupported type")
		}
	}
	return nil
}

type fakeDB struct {
	tx       *fakeTx
	beginErr error
	getRow   pgx.Row
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return f.tx, nil
}

func (f *fakeDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected Query")
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	if f.getRow != nil {
		return f.getRow
	}
	return scanErrRow{err: errors.New("unexpected QueryRow")}
}

func TestAppendTurn(t *testing.T) {
	t.Parallel()

	turn := Turn{Question: "bone loss in mice?", Answer: "Bone density drops [1]."}

	t.Run("writes both messages and commits", func(t *testing.T) {
		t.Parallel()

		tx := &fakeTx{sessionExists: true}
		store := NewStore(&fakeDB{tx: tx}, nil)

		if err := store.AppendTurn(context.Background(), uuid.New(), turn); err != nil {
			t.Fatalf("AppendTurn() = %v", err)
		}
		if !tx.committed {
			t.Fatal("transaction not committed")
		}

		var inserts, titleUpdates int
		for _, sql := range tx.execSQL {
			if strings.Contains(sql, "INSERT INTO session_messages") {
				inserts++
			}
			if strings.Contains(sql, "title IS NULL") {
				titleUpdates++
			}
		}
		if inserts != 2 {
			t.Errorf("got %d message inserts, want 2", inserts)
		}
		if titleUpdates != 1 {
			t.Errorf("got %d conditional title updates, want 1", titleUpdates)
		}
	})

	t.Run("missing session", func(t *testing.T) {
		t.Parallel()

		tx := &fakeTx{sessionExists: false}
		store := NewStore(&fakeDB{tx: tx}, nil)

		err := store.AppendTurn(context.Background(), uuid.New(), turn)
		if !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("AppendTurn() = %v, want ErrSessionNotFound", err)
		}
		if tx.committed {
			t.Error("transaction committed despite missing session")
		}
	})

	t.Run("empty turn rejected before touching the database", func(t *testing.T) {
		t.Parallel()

		db := &fakeDB{beginErr: errors.New("must not begin")}
		store := NewStore(db, nil)

		err := store.AppendTurn(context.Background(), uuid.New(), Turn{Question: "q"})
		if !errors.Is(err, ErrEmptyTurn) {
			t.Fatalf("AppendTurn() = %v, want ErrEmptyTurn", err)
		}
	})

	t.Run("begin failure maps to ErrUnavailable", func(t *testing.T) {
		t.Parallel()

		db := &fakeDB{beginErr: errors.New("pool exhausted")}
		store := NewStore(db, nil)

		err := store.AppendTurn(context.Background(), uuid.New(), turn)
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("AppendTurn() = %v, want ErrUnavailable", err)
		}
	})
}

func TestClearResetsTitle(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{}
	db := &fakeDB{
		tx:     tx,
		getRow: scanRow{values: []any{nil, time.Now(), time.Now()}},
	}
	store := NewStore(db, nil)

	if err := store.Clear(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Clear() = %v", err)
	}
	if !tx.committed {
		t.Fatal("clear transaction not committed")
	}

	var deletedMessages, resetTitle bool
	for _, sql := range tx.execSQL {
		if strings.Contains(sql, "DELETE FROM session_messages") {
			deletedMessages = true
		}
		if strings.Contains(sql, "title = NULL") {
			resetTitle = true
		}
	}
	if !deletedMessages {
		t.Error("messages were not deleted")
	}
	if !resetTitle {
		t.Error("title survived the clear; the next first turn could not derive a fresh one")
	}
}

func TestDeleteMissingSession(t *testing.T) {
	t.Parallel()

	store := NewStore(&fakeDB{}, nil)
	err := store.Delete(context.Background(), uuid.New())
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Delete() = %v, want ErrSessionNotFound", err)
	}
}
