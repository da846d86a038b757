// Package sqlitestore is a repository.Store backed by a single SQLite file.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/okian/tutorlog/internal/adapters/repository"
)

//go:embed schema.sql
var schema string

// Store persists documents in SQLite.
type Store struct {
	db *sql.DB
}

var _ repository.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlitestore: storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	// One writer connection keeps create-if-absent free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := repository.ValidateDocPath(path); err != nil {
		return nil, err
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = ?`, path).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", repository.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get %s: %w", path, err)
	}
	return json.RawMessage(data), nil
}

func (s *Store) Set(ctx context.Context, path string, data json.RawMessage) error {
	if err := validate(path, data); err != nil {
		return err
	}
	collection, id := repository.Split(path)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (path, collection, id, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		path, collection, id, string(data), now())
	if err != nil {
		return fmt.Errorf("sqlitestore: set %s: %w", path, err)
	}
	return nil
}

func (s *Store) Merge(ctx context.Context, path string, patch json.RawMessage) error {
	if err := validate(path, patch); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET data = json_patch(data, ?), updated_at = ? WHERE path = ?`,
		string(patch), now(), path)
	if err != nil {
		return fmt.Errorf("sqlitestore: merge %s: %w", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlitestore: merge %s: %w", path, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, path)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, path string, data json.RawMessage) (repository.CreateResult, error) {
	if err := validate(path, data); err != nil {
		return 0, err
	}
	collection, id := repository.Split(path)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (path, collection, id, data, updated_at) VALUES (?, ?, ?, ?, ?)`,
		path, collection, id, string(data), now())
	if isConstraintError(err) {
		return repository.AlreadyExists, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: create %s: %w", path, err)
	}
	return repository.Created, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := repository.ValidateDocPath(path); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
		return fmt.Errorf("sqlitestore: delete %s: %w", path, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, collection string) ([]repository.Snapshot, error) {
	if err := repository.ValidateCollectionPath(collection); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, id, data FROM documents WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list %s: %w", collection, err)
	}
	defer rows.Close()

	var out []repository.Snapshot
	for rows.Next() {
		var snap repository.Snapshot
		var data string
		if err := rows.Scan(&snap.Path, &snap.ID, &data); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan %s: %w", collection, err)
		}
		snap.Data = json.RawMessage(data)
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: list %s: %w", collection, err)
	}
	return out, nil
}

func validate(path string, data json.RawMessage) error {
	if err := repository.ValidateDocPath(path); err != nil {
		return err
	}
	return repository.ValidateObject(data)
}

func now() int64 { return time.Now().UTC().UnixMilli() }

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
