package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	appLog "itevents/internal/log"
)

const (
	createDocumentsSQL = `
CREATE TABLE IF NOT EXISTS documents (
	name       TEXT PRIMARY KEY,
	body       BLOB NOT NULL,
	updated_at TEXT NOT NULL
)`

	selectDocumentSQL = `SELECT body FROM documents WHERE name = ?`

	upsertDocumentSQL = `
INSERT INTO documents (name, body, updated_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`

	quarantineDocumentSQL = `UPDATE documents SET name = ? WHERE name = ?`
)

// SQLiteStore keeps documents as rows of a single table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (and migrates) the database at path.
func OpenSQLite(ctx context.Context, path string, now func() time.Time) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, createDocumentsSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &SQLiteStore{db: db, now: now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, name string, v any) (bool, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, selectDocumentSQL, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(body, v); err != nil {
		bad := name + ".corrupt-" + s.now().UTC().Format("20060102T150405")
		appLog.Error("store document corrupt, quarantining", fmt.Errorf("%w: %v", ErrCorrupt, err), "name", name, "moved_to", bad)
		if _, qerr := s.db.ExecContext(ctx, quarantineDocumentSQL, bad, name); qerr != nil {
			return false, qerr
		}
		return false, nil
	}
	return true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, name string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, upsertDocumentSQL, name, body, s.now().UTC().Format(time.RFC3339Nano))
	return err
}
