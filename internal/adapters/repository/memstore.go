package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// MemStore is an in-memory Store. Writes are linearizable; List reflects
// every write that completed before it started.
type MemStore struct {
	mu     sync.RWMutex
	docs   map[string]json.RawMessage
	closed bool
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[string]json.RawMessage)}
}

func (s *MemStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := s.check(ctx, path); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return slices.Clone(doc), nil
}

func (s *MemStore) Set(ctx context.Context, path string, data json.RawMessage) error {
	if err := s.check(ctx, path); err != nil {
		return err
	}
	if err := ValidateObject(data); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[path] = slices.Clone(data)
	return nil
}

func (s *MemStore) Merge(ctx context.Context, path string, patch json.RawMessage) error {
	if err := s.check(ctx, path); err != nil {
		return err
	}
	if err := ValidateObject(patch); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	merged, err := jsonpatch.MergePatch(doc, patch)
	if err != nil {
		return fmt.Errorf("merge %s: %w", path, err)
	}
	s.docs[path] = merged
	return nil
}

func (s *MemStore) Create(ctx context.Context, path string, data json.RawMessage) (CreateResult, error) {
	if err := s.check(ctx, path); err != nil {
		return 0, err
	}
	if err := ValidateObject(data); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[path]; ok {
		return AlreadyExists, nil
	}
	s.docs[path] = slices.Clone(data)
	return Created, nil
}

func (s *MemStore) Delete(ctx context.Context, path string) error {
	if err := s.check(ctx, path); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.docs, path)
	return nil
}

func (s *MemStore) List(ctx context.Context, collection string) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateCollectionPath(collection); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	prefix := collection + "/"
	var out []Snapshot
	for path, doc := range s.docs {
		id, ok := strings.CutPrefix(path, prefix)
		if !ok || strings.Contains(id, "/") {
			continue
		}
		out = append(out, Snapshot{Path: path, ID: id, Data: slices.Clone(doc)})
	}
	slices.SortFunc(out, func(a, b Snapshot) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Len is the number of stored documents.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemStore) check(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateDocPath(path); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}
