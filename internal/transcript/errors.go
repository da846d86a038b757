package transcript

import (
	"errors"
	"fmt"

	"github.com/okian/tutorlog/internal/adapters/repository"
)

var (
	// ErrNotFound is returned when a transcript document does not exist.
	ErrNotFound = fmt.Errorf("transcript %w", repository.ErrNotFound)

	ErrExists        = errors.New("transcript already exists")
	ErrInvalidPath   = errors.New("invalid transcript path")
	ErrMirrorFailed  = errors.New("message stored but not mirrored")
	ErrCorruptRecord = errors.New("corrupt transcript record")
)
