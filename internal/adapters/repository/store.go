// Package repository defines the hierarchical document store the transcript
// subsystem persists into, plus an in-memory implementation.
//
// Documents live at slash-separated paths with an even number of segments
// (collection/doc/collection/doc). Collections have an odd number.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CreateResult reports what a create-if-absent write did.
type CreateResult int

const (
	// Created means the document did not exist and was written.
	Created CreateResult = iota + 1
	// AlreadyExists means a document was already at the path; nothing was written.
	AlreadyExists
)

func (r CreateResult) String() string {
	switch r {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// Snapshot is one document returned by List.
type Snapshot struct {
	Path string
	ID   string
	Data json.RawMessage
}

// Store is a per-path document store. Data is always a JSON object.
type Store interface {
	// Get returns the document at path, or ErrNotFound.
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// Set writes the document at path, replacing any previous content.
	Set(ctx context.Context, path string, data json.RawMessage) error

	// Merge applies an RFC 7396 merge patch to an existing document.
	// It returns ErrNotFound when nothing is stored at path.
	Merge(ctx context.Context, path string, patch json.RawMessage) error

	// Create writes data only when path is empty.
	Create(ctx context.Context, path string, data json.RawMessage) (CreateResult, error)

	// Delete removes the document at path. Deleting a missing document
	// is not an error. Child collections are left untouched.
	Delete(ctx context.Context, path string) error

	// List returns the documents directly inside collection, ordered by ID.
	List(ctx context.Context, collection string) ([]Snapshot, error)

	Close() error
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// ValidateDocPath checks that path names a document.
func ValidateDocPath(path string) error {
	n, err := segments(path)
	if err != nil {
		return err
	}
	if n%2 != 0 {
		return fmt.Errorf("%w: %q is a collection, not a document", ErrInvalidPath, path)
	}
	return nil
}

// ValidateCollectionPath checks that path names a collection.
func ValidateCollectionPath(path string) error {
	n, err := segments(path)
	if err != nil {
		return err
	}
	if n%2 != 1 {
		return fmt.Errorf("%w: %q is a document, not a collection", ErrInvalidPath, path)
	}
	return nil
}

// Split returns the parent collection and the ID of a document path.
func Split(path string) (collection, id string) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

func segments(path string) (int, error) {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" {
			return 0, fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
	}
	return len(parts), nil
}

// ValidateObject checks that data is a JSON object.
func ValidateObject(data json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return fmt.Errorf("%w: documents must be JSON objects", ErrInvalidDocument)
	}
	return nil
}
