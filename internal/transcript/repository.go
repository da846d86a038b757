// Package transcript persists transcripts and implements their write path:
// durable append, per-role fan-out and idempotent finalization.
//
// None of the components serialize writers. Callers must ensure at most
// one goroutine mutates a given transcript at a time.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/okian/tutorlog/internal/adapters/repository"
	"github.com/okian/tutorlog/internal/domain/model"
	"github.com/okian/tutorlog/pkg/logger"
	"github.com/okian/tutorlog/pkg/metrics"
	"github.com/okian/tutorlog/pkg/tracing"
)

const deleteConcurrency = 8

// Repository reads and writes whole transcripts.
type Repository struct {
	store repository.Store
	log   logger.Logger
}

// NewRepository returns a Repository over store.
func NewRepository(store repository.Store, opts ...Option) *Repository {
	s := newSettings("repository", opts)
	return &Repository{store: store, log: s.log}
}

// Create stores a new transcript. It fails with ErrExists when the
// document is already present.
func (r *Repository) Create(ctx context.Context, t *model.Transcript) error {
	ref := RefOf(t)
	if err := ref.Validate(); err != nil {
		return err
	}
	data, err := encode(toDocument(t))
	if err != nil {
		return err
	}
	res, err := r.store.Create(ctx, ref.DocPath(), data)
	if err != nil {
		return fmt.Errorf("transcript: create %s: %w", ref, err)
	}
	if res == repository.AlreadyExists {
		return fmt.Errorf("%w: %s", ErrExists, ref)
	}
	metrics.RecordTranscriptCreated()
	return nil
}

// Update overwrites the stored transcript with t.
func (r *Repository) Update(ctx context.Context, t *model.Transcript) error {
	ref := RefOf(t)
	if err := ref.Validate(); err != nil {
		return err
	}
	data, err := encode(toDocument(t))
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, ref.DocPath(), data); err != nil {
		return fmt.Errorf("transcript: update %s: %w", ref, err)
	}
	return nil
}

// UpdateMessage replaces one message inside the transcript document.
// Fields msg leaves empty are removed from the stored message. The
// fan-out streams are not touched, so no downstream trigger fires.
func (r *Repository) UpdateMessage(ctx context.Context, t *model.Transcript, id string, msg model.Message) error {
	ref := RefOf(t)
	prev, ok := t.Message(id)
	if !ok {
		return fmt.Errorf("%w: %s in %s", model.ErrUnknownMessage, id, ref)
	}
	if err := t.Replace(id, msg); err != nil {
		return err
	}
	patch, err := replacePatch(id, prev, msg)
	if err != nil {
		_ = t.Replace(id, prev)
		return err
	}
	if err := r.store.Merge(ctx, ref.DocPath(), patch); err != nil {
		_ = t.Replace(id, prev)
		return r.notFound(ref, "update message", err)
	}
	r.log.Debug(ctx, "updated message", logger.String("transcript", ref.String()), logger.String("message_id", id))
	metrics.RecordMessageUpdated()
	return nil
}

// Read loads a transcript from its document.
func (r *Repository) Read(ctx context.Context, ref Ref) (_ *model.Transcript, err error) {
	ctx, span := tracing.StartSpan(ctx, "transcript.read", spanRef(ref))
	defer func() { tracing.End(span, err) }()

	if err := ref.Validate(); err != nil {
		return nil, err
	}
	raw, err := r.store.Get(ctx, ref.DocPath())
	if err != nil {
		return nil, r.notFound(ref, "read", err)
	}
	return r.decode(ctx, ref, raw)
}

// ReadFromSubcollections loads the document and overlays every entry of
// both fan-out streams onto its messages. It costs one read per mirrored
// message and is meant for repair and backfill only.
func (r *Repository) ReadFromSubcollections(ctx context.Context, ref Ref) (_ *model.Transcript, err error) {
	ctx, span := tracing.StartSpan(ctx, "transcript.read_streams", spanRef(ref))
	defer func() { tracing.End(span, err) }()

	t, err := r.Read(ctx, ref)
	if err != nil {
		return nil, err
	}
	r.log.Warn(ctx, "reading transcript from streams; one read per message",
		logger.String("transcript", ref.String()))

	for _, s := range Streams() {
		snaps, err := r.store.List(ctx, ref.StreamPath(s))
		if err != nil {
			return nil, fmt.Errorf("transcript: list %s of %s: %w", s, ref, err)
		}
		for _, snap := range snaps {
			var m model.Message
			if err := json.Unmarshal(snap.Data, &m); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, snap.Path, err)
			}
			t.Restore(snap.ID, m)
		}
	}
	metrics.RecordStreamReconstruction()
	return t, nil
}

// Delete removes both fan-out streams, the status sentinels and then the
// transcript document. Deleting a missing transcript succeeds.
func (r *Repository) Delete(ctx context.Context, ref Ref) (err error) {
	ctx, span := tracing.StartSpan(ctx, "transcript.delete", spanRef(ref))
	defer func() { tracing.End(span, err) }()

	if err := ref.Validate(); err != nil {
		return err
	}
	collections := []string{ref.StatusPath()}
	for _, s := range Streams() {
		collections = append(collections, ref.StreamPath(s))
	}

	var children []string
	for _, c := range collections {
		snaps, err := r.store.List(ctx, c)
		if err != nil {
			return fmt.Errorf("transcript: list %s: %w", c, err)
		}
		for _, snap := range snaps {
			children = append(children, snap.Path)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteConcurrency)
	for _, path := range children {
		g.Go(func() error {
			return r.store.Delete(gctx, path)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("transcript: delete children of %s: %w", ref, err)
	}
	if err := r.store.Delete(ctx, ref.DocPath()); err != nil {
		return fmt.Errorf("transcript: delete %s: %w", ref, err)
	}
	r.log.Info(ctx, "deleted transcript", logger.String("transcript", ref.String()))
	metrics.RecordTranscriptDeleted()
	return nil
}

func (r *Repository) decode(ctx context.Context, ref Ref, raw json.RawMessage) (*model.Transcript, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, ref, err)
	}
	return fromDocument(ref, doc, func(id, mid string) {
		r.log.Warn(ctx, "message carries a stale mid attribute; keeping the map key",
			logger.String("transcript", ref.String()),
			logger.String("message_id", id),
			logger.String("mid", mid))
	})
}

func (r *Repository) notFound(ref Ref, op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return fmt.Errorf("transcript: %s %s: %w", op, ref, err)
}

func spanRef(ref Ref) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("transcript.user_id", ref.UserID),
		attribute.String("transcript.id", ref.TranscriptID),
	)
}
