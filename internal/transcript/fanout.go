package transcript

import (
	"context"
	"fmt"

	"github.com/okian/tutorlog/internal/adapters/repository"
	"github.com/okian/tutorlog/internal/domain/model"
	"github.com/okian/tutorlog/pkg/logger"
	"github.com/okian/tutorlog/pkg/metrics"
	"github.com/okian/tutorlog/pkg/tracing"
)

// Stream is a per-role collection that mirrors messages so role-specific
// triggers can observe them.
type Stream string

const (
	UserStream      Stream = "umsgs"
	AssistantStream Stream = "amsgs"
)

// Streams lists every fan-out stream.
func Streams() []Stream { return []Stream{UserStream, AssistantStream} }

// StreamFor routes a role to its stream. Only user and assistant messages
// are mirrored.
func StreamFor(role model.Role) (Stream, error) {
	switch role {
	case model.RoleUser:
		return UserStream, nil
	case model.RoleAssistant:
		return AssistantStream, nil
	case model.RoleSystem, model.RoleFunction:
		return "", fmt.Errorf("%w: %s messages are not mirrored", model.ErrInvalidRole, role)
	default:
		return "", fmt.Errorf("%w: %q", model.ErrInvalidRole, role)
	}
}

// Fanout writes message mirrors.
type Fanout struct {
	store repository.Store
	log   logger.Logger
}

// NewFanout returns a Fanout over store.
func NewFanout(store repository.Store, opts ...Option) *Fanout {
	s := newSettings("fanout", opts)
	return &Fanout{store: store, log: s.log}
}

// Mirror writes msg under id into the stream for its role. The
// transcript must be live.
func (f *Fanout) Mirror(ctx context.Context, t *model.Transcript, id string, msg model.Message) (err error) {
	ref := RefOf(t)
	ctx, span := tracing.StartSpan(ctx, "transcript.mirror", spanRef(ref))
	defer func() { tracing.End(span, err) }()

	if t.Status != model.StatusLive {
		return fmt.Errorf("%w: cannot mirror into %s transcript %s", model.ErrInvalidState, t.Status, ref)
	}
	stream, err := StreamFor(msg.Role)
	if err != nil {
		return err
	}
	data, err := encode(msg)
	if err != nil {
		return err
	}
	path := ref.StreamEntryPath(stream, id)
	if err := f.store.Set(ctx, path, data); err != nil {
		return fmt.Errorf("transcript: mirror %s: %w", path, err)
	}
	f.log.Debug(ctx, "mirrored message", logger.String("path", path))
	metrics.RecordFanoutMirrored(string(stream))
	return nil
}
