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

// Log is the durable, append-only message log of a transcript.
type Log struct {
	store  repository.Store
	fanout *Fanout
	log    logger.Logger
}

// NewLog returns a Log persisting into store and mirroring through fanout.
func NewLog(store repository.Store, fanout *Fanout, opts ...Option) *Log {
	s := newSettings("log", opts)
	return &Log{store: store, fanout: fanout, log: s.log}
}

type appendConfig struct {
	mirror bool
}

// AppendOption tunes one Append call.
type AppendOption func(*appendConfig)

// WithoutMirror stores the message in the transcript document only. No
// stream entry is written and no downstream trigger fires.
func WithoutMirror() AppendOption {
	return func(c *appendConfig) { c.mirror = false }
}

// WithMirror sets mirroring explicitly.
func WithMirror(mirror bool) AppendOption {
	return func(c *appendConfig) { c.mirror = mirror }
}

// Append assigns msg an ID, persists it into the transcript document and,
// unless disabled, mirrors it into its role stream. Roles that cannot be
// mirrored are rejected before anything is written.
//
// If the document write fails the in-memory transcript is rolled back. If
// only the mirror fails, the ID is returned with ErrMirrorFailed and the
// mirror can be retried with Fanout.Mirror.
func (l *Log) Append(ctx context.Context, t *model.Transcript, msg model.Message, opts ...AppendOption) (_ string, err error) {
	cfg := appendConfig{mirror: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	ref := RefOf(t)
	ctx, span := tracing.StartSpan(ctx, "transcript.append", spanRef(ref))
	defer func() { tracing.End(span, err) }()

	if t.Status != model.StatusLive {
		metrics.RecordAppendRejected("invalid_state")
		return "", fmt.Errorf("%w: cannot append to %s transcript %s", model.ErrInvalidState, t.Status, ref)
	}
	if cfg.mirror {
		if _, err := StreamFor(msg.Role); err != nil {
			metrics.RecordAppendRejected("invalid_role")
			return "", err
		}
	}

	id, err := t.Add(msg)
	if err != nil {
		metrics.RecordAppendRejected("invalid_message")
		return "", err
	}
	stored, _ := t.Message(id)
	patch, err := messagePatch(id, stored)
	if err != nil {
		t.Forget(id)
		return "", err
	}
	if err := l.store.Merge(ctx, ref.DocPath(), patch); err != nil {
		t.Forget(id)
		if isNotFound(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return "", fmt.Errorf("transcript: append to %s: %w", ref, err)
	}
	metrics.RecordMessageAppended(string(stored.Role))

	if !cfg.mirror {
		l.log.Warn(ctx, "message stored in transcript body only; no stream triggers will fire",
			logger.String("transcript", ref.String()),
			logger.String("message_id", id),
			logger.String("role", string(stored.Role)))
		metrics.RecordFanoutSkipped()
		return id, nil
	}
	if err := l.fanout.Mirror(ctx, t, id, stored); err != nil {
		l.log.Error(ctx, "mirror failed after durable append",
			logger.String("transcript", ref.String()),
			logger.String("message_id", id),
			logger.Error(err))
		return id, fmt.Errorf("%w: %s: %w", ErrMirrorFailed, id, err)
	}
	return id, nil
}

// AppendAll appends msgs in order and returns their IDs. It stops at the
// first failure and returns the IDs appended so far.
func (l *Log) AppendAll(ctx context.Context, t *model.Transcript, msgs []model.Message, opts ...AppendOption) ([]string, error) {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		id, err := l.Append(ctx, t, m, opts...)
		if id != "" {
			ids = append(ids, id)
		}
		if err != nil {
			return ids, err
		}
	}
	return ids, nil
}
