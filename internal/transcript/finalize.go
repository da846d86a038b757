package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/okian/tutorlog/internal/adapters/repository"
	"github.com/okian/tutorlog/internal/domain/model"
	"github.com/okian/tutorlog/pkg/logger"
	"github.com/okian/tutorlog/pkg/metrics"
	"github.com/okian/tutorlog/pkg/tracing"
)

var sentinelBody = json.RawMessage(`{}`)

// Finalizer closes transcripts. Downstream grading and bookkeeping react
// to the status sentinel it creates.
type Finalizer struct {
	store repository.Store
	log   logger.Logger
}

// NewFinalizer returns a Finalizer over store.
func NewFinalizer(store repository.Store, opts ...Option) *Finalizer {
	s := newSettings("finalizer", opts)
	return &Finalizer{store: store, log: s.log}
}

// Finalize moves t to final (it has a user message) or empty (it does
// not), persists the status and creates the sentinel for it. Calling it
// again is safe: an existing sentinel is treated as success.
func (f *Finalizer) Finalize(ctx context.Context, t *model.Transcript) (_ model.Status, err error) {
	ref := RefOf(t)
	ctx, span := tracing.StartSpan(ctx, "transcript.finalize", spanRef(ref))
	defer func() { tracing.End(span, err) }()

	target := t.ResolveStatus()
	prev := t.Status
	if err := t.Transition(target); err != nil {
		return "", err
	}

	patch, err := encode(map[string]model.Status{"status": target})
	if err != nil {
		t.Status = prev
		return "", err
	}
	if err := f.store.Merge(ctx, ref.DocPath(), patch); err != nil {
		t.Status = prev
		if isNotFound(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return "", fmt.Errorf("transcript: persist status of %s: %w", ref, err)
	}

	sentinel := ref.SentinelPath(target)
	res, err := f.store.Create(ctx, sentinel, sentinelBody)
	if err != nil {
		return "", fmt.Errorf("transcript: create sentinel %s: %w", sentinel, err)
	}
	span.SetAttributes(
		attribute.String("transcript.status", string(target)),
		attribute.String("transcript.sentinel", res.String()),
	)
	if res == repository.AlreadyExists {
		f.log.Debug(ctx, "status sentinel already exists", logger.String("path", sentinel))
		metrics.RecordFinalization(string(target), "replayed")
	} else {
		metrics.RecordFinalization(string(target), "created")
	}

	f.log.Info(ctx, "finalized transcript",
		logger.String("transcript", ref.String()),
		logger.String("status", string(target)),
		logger.String("feedback", string(t.Feedback)))
	return target, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
