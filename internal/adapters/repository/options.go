package repository

import "github.com/okian/tutorlog/pkg/logger"

// Option configures an Instrumented store.
type Option func(*Instrumented)

// WithLogger sets the logger used for failed operations.
func WithLogger(l logger.Logger) Option {
	return func(s *Instrumented) {
		if l != nil {
			s.log = l
		}
	}
}
