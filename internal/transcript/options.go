package transcript

import "github.com/okian/tutorlog/pkg/logger"

type settings struct {
	log logger.Logger
}

func newSettings(name string, opts []Option) settings {
	s := settings{log: logger.NewNop()}
	for _, opt := range opts {
		opt(&s)
	}
	s.log = s.log.Named(name)
	return s
}

// Option configures the components of this package.
type Option func(*settings)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}
