package queue

import "errors"

var (
	// ErrFull is returned when a lane has no room left.
	ErrFull = errors.New("queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("queue closed")
)
