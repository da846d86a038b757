// Package pgstore is a repository.Store backed by a PostgreSQL JSONB table.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/tutorlog/internal/adapters/repository"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		path       TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		data       JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS documents_collection_id ON documents (collection, id)`,
}

// Store persists documents in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

// New connects to dsn, verifies the connection and ensures the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	for _, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("pgstore: migrate: %w", err)
		}
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := repository.ValidateDocPath(path); err != nil {
		return nil, err
	}
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM documents WHERE path = $1`, path).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", repository.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get %s: %w", path, err)
	}
	return data, nil
}

func (s *Store) Set(ctx context.Context, path string, data json.RawMessage) error {
	if err := validate(path, data); err != nil {
		return err
	}
	collection, id := repository.Split(path)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (path, collection, id, data)
		 VALUES ($1, $2, $3, $4::jsonb)
		 ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		path, collection, id, string(data))
	if err != nil {
		return fmt.Errorf("pgstore: set %s: %w", path, err)
	}
	return nil
}

// Merge applies the patch inside a transaction holding the row lock.
// jsonb || is shallow, so RFC 7396 is evaluated in Go.
func (s *Store) Merge(ctx context.Context, path string, patch json.RawMessage) error {
	if err := validate(path, patch); err != nil {
		return err
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var current []byte
		err := tx.QueryRow(ctx, `SELECT data FROM documents WHERE path = $1 FOR UPDATE`, path).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", repository.ErrNotFound, path)
		}
		if err != nil {
			return err
		}
		merged, err := jsonpatch.MergePatch(current, patch)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE documents SET data = $2::jsonb, updated_at = now() WHERE path = $1`,
			path, string(merged))
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("pgstore: merge %s: %w", path, err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, path string, data json.RawMessage) (repository.CreateResult, error) {
	if err := validate(path, data); err != nil {
		return 0, err
	}
	collection, id := repository.Split(path)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO documents (path, collection, id, data)
		 VALUES ($1, $2, $3, $4::jsonb)
		 ON CONFLICT (path) DO NOTHING`,
		path, collection, id, string(data))
	if err != nil {
		return 0, fmt.Errorf("pgstore: create %s: %w", path, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.AlreadyExists, nil
	}
	return repository.Created, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := repository.ValidateDocPath(path); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE path = $1`, path); err != nil {
		return fmt.Errorf("pgstore: delete %s: %w", path, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, collection string) ([]repository.Snapshot, error) {
	if err := repository.ValidateCollectionPath(collection); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT path, id, data FROM documents WHERE collection = $1 ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list %s: %w", collection, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (repository.Snapshot, error) {
		var snap repository.Snapshot
		var data []byte
		if err := row.Scan(&snap.Path, &snap.ID, &data); err != nil {
			return snap, err
		}
		snap.Data = data
		return snap, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pgstore: list %s: %w", collection, err)
	}
	return out, nil
}

func validate(path string, data json.RawMessage) error {
	if err := repository.ValidateDocPath(path); err != nil {
		return err
	}
	return repository.ValidateObject(data)
}
