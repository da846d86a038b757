package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/tutorlog/pkg/logger"
	"github.com/okian/tutorlog/pkg/metrics"
	"github.com/okian/tutorlog/pkg/tracing"
)

// Instrumented decorates a Store with latency metrics, spans and debug
// logging of failures. ErrNotFound is not counted as a failure.
type Instrumented struct {
	next    Store
	backend string
	log     logger.Logger
}

var _ Store = (*Instrumented)(nil)

// Instrument wraps next. backend labels the metrics ("memory", "sqlite", ...).
func Instrument(next Store, backend string, opts ...Option) *Instrumented {
	s := &Instrumented{next: next, backend: backend, log: logger.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Instrumented) observe(ctx context.Context, op, path string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "docstore."+op, trace.WithAttributes(
		attribute.String("docstore.backend", s.backend),
		attribute.String("docstore.path", path),
	))
	return ctx, func(err error) {
		failed := err != nil && !errors.Is(err, ErrNotFound)
		metrics.RecordStoreOperation(s.backend, op, float64(time.Since(start).Microseconds())/1000, failed)
		if failed {
			s.log.Debug(ctx, "store operation failed",
				logger.String("op", op), logger.String("path", path), logger.Error(err))
			tracing.End(span, err)
			return
		}
		span.End()
	}
}

func (s *Instrumented) Get(ctx context.Context, path string) (data json.RawMessage, err error) {
	ctx, done := s.observe(ctx, "get", path)
	defer func() { done(err) }()
	return s.next.Get(ctx, path)
}

func (s *Instrumented) Set(ctx context.Context, path string, data json.RawMessage) (err error) {
	ctx, done := s.observe(ctx, "set", path)
	defer func() { done(err) }()
	return s.next.Set(ctx, path, data)
}

func (s *Instrumented) Merge(ctx context.Context, path string, patch json.RawMessage) (err error) {
	ctx, done := s.observe(ctx, "merge", path)
	defer func() { done(err) }()
	return s.next.Merge(ctx, path, patch)
}

func (s *Instrumented) Create(ctx context.Context, path string, data json.RawMessage) (res CreateResult, err error) {
	ctx, done := s.observe(ctx, "create", path)
	defer func() { done(err) }()
	return s.next.Create(ctx, path, data)
}

func (s *Instrumented) Delete(ctx context.Context, path string) (err error) {
	ctx, done := s.observe(ctx, "delete", path)
	defer func() { done(err) }()
	return s.next.Delete(ctx, path)
}

func (s *Instrumented) List(ctx context.Context, collection string) (out []Snapshot, err error) {
	ctx, done := s.observe(ctx, "list", collection)
	defer func() { done(err) }()
	return s.next.List(ctx, collection)
}

func (s *Instrumented) Close() error { return s.next.Close() }
