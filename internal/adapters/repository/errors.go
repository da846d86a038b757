package repository

import "errors"

// Sentinel kinds for document store errors.
var (
	ErrNotFound        = errors.New("document not found")
	ErrInvalidPath     = errors.New("invalid document path")
	ErrInvalidDocument = errors.New("invalid document")
	ErrClosed          = errors.New("store closed")
)
