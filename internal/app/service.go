// Package service wires the transcript components into the operations
// served by the HTTP API and the CLI.
//
// Every write to a transcript runs on the worker lane owned by its
// document path, so at most one goroutine mutates a transcript at a time.
// Each write re-reads the transcript before mutating it.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	workerpool "github.com/okian/tutorlog/internal/adapters/mq/worker"
	"github.com/okian/tutorlog/internal/adapters/repository"
	"github.com/okian/tutorlog/internal/adapters/repository/pgstore"
	"github.com/okian/tutorlog/internal/adapters/repository/sqlitestore"
	"github.com/okian/tutorlog/internal/config"
	"github.com/okian/tutorlog/internal/domain/dedupe"
	"github.com/okian/tutorlog/internal/domain/model"
	"github.com/okian/tutorlog/internal/transcript"
	"github.com/okian/tutorlog/pkg/logger"
	"github.com/okian/tutorlog/pkg/metrics"
)

var (
	// ErrNotStarted is returned by operations called before Start or after Stop.
	ErrNotStarted = errors.New("service not started")

	// ErrInProgress is returned for an idempotency key whose first append
	// has not finished yet. Retry later.
	ErrInProgress = errors.New("append in progress")
)

// AppendRequest tunes AppendMessage.
type AppendRequest struct {
	// SkipMirror stores the message in the transcript document only.
	SkipMirror bool

	// IdempotencyKey, when set, makes retries of the same append return
	// the first result instead of appending again.
	IdempotencyKey string
}

// AppendResult is the outcome of AppendMessage.
type AppendResult struct {
	ID        string
	Duplicate bool
	Mirrored  bool
}

// Service implements the API dependencies for the transcript subsystem.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	repo      *transcript.Repository
	log       *transcript.Log
	fanout    *transcript.Fanout
	finalizer *transcript.Finalizer
	deduper   dedupe.Deduper
	pool      *workerpool.Pool

	// Configuration
	storeDriver string
	sqlitePath  string
	postgresDSN string
	workerCount int
	queueSize   int
	dedupeSize  int

	// State
	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of writer lanes.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of each writer lane.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many idempotency keys are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore uses store instead of opening one. The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
			s.storeDriver = "custom"
		}
	}
}

// WithSQLite stores documents in the SQLite database at path.
func WithSQLite(path string) Option {
	return func(s *Service) {
		s.storeDriver = config.DriverSQLite
		s.sqlitePath = path
	}
}

// WithPostgres stores documents in the Postgres database at dsn.
func WithPostgres(dsn string) Option {
	return func(s *Service) {
		s.storeDriver = config.DriverPostgres
		s.postgresDSN = dsn
	}
}

// FromConfig translates cfg into options.
func FromConfig(cfg *config.Config) []Option {
	opts := []Option{
		WithWorkerCount(cfg.WorkerCount),
		WithQueueSize(cfg.QueueSize),
		WithDedupeSize(cfg.DedupeSize),
	}
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		opts = append(opts, WithSQLite(cfg.SQLitePath))
	case config.DriverPostgres:
		opts = append(opts, WithPostgres(cfg.PostgresDSN))
	}
	return opts
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		storeDriver: config.DriverMemory,
		workerCount: runtime.NumCPU() * 4,
		queueSize:   1024,
		dedupeSize:  50_000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) openStore(ctx context.Context) (repository.Store, error) {
	switch s.storeDriver {
	case "custom":
		return s.store, nil
	case config.DriverMemory:
		return repository.NewMemStore(), nil
	case config.DriverSQLite:
		return sqlitestore.Open(ctx, s.sqlitePath)
	case config.DriverPostgres:
		return pgstore.New(ctx, s.postgresDSN)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", config.ErrInvalidConfig, s.storeDriver)
	}
}

// Start opens the store and starts the writer lanes.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting transcript service...", logger.String("store", s.storeDriver))

	raw, err := s.openStore(ctx)
	if err != nil {
		return fmt.Errorf("service: open %s store: %w", s.storeDriver, err)
	}
	s.store = repository.Instrument(raw, s.storeDriver, repository.WithLogger(s.logger.Named("store")))

	opt := transcript.WithLogger(s.logger.Named("transcript"))
	s.repo = transcript.NewRepository(s.store, opt)
	s.fanout = transcript.NewFanout(s.store, opt)
	s.log = transcript.NewLog(s.store, s.fanout, opt)
	s.finalizer = transcript.NewFinalizer(s.store, opt)
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))

	// Lanes outlive the request that started the service.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.pool = workerpool.NewPool(s.workerCount, s.queueSize, workerpool.WithLogger(s.logger))
	s.pool.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "transcript service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// Stop drains the writer lanes and closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping transcript service...")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "writer lanes did not drain", logger.Error(err))
	}
	s.cancel()
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "error closing store", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "transcript service stopped")
}

func (s *Service) running() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// write runs fn on the lane owning ref.
func (s *Service) write(ctx context.Context, ref transcript.Ref, fn func(ctx context.Context) error) error {
	if err := s.running(); err != nil {
		return err
	}
	if err := ref.Validate(); err != nil {
		return err
	}
	return s.pool.Submit(ctx, ref.DocPath(), fn)
}

// CreateTranscript starts and stores a new live transcript for plan.
func (s *Service) CreateTranscript(ctx context.Context, plan model.Plan, opts ...model.Option) (*model.Transcript, error) {
	t, err := model.FromPlan(plan, opts...)
	if err != nil {
		return nil, err
	}
	err = s.write(ctx, transcript.RefOf(t), func(ctx context.Context) error {
		return s.repo.Create(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug(ctx, "created transcript", logger.String("transcript", transcript.RefOf(t).String()))
	return t, nil
}

// AppendMessage durably appends msg to the transcript and mirrors it
// unless req.SkipMirror is set.
func (s *Service) AppendMessage(ctx context.Context, ref transcript.Ref, msg model.Message, req AppendRequest) (AppendResult, error) {
	var key string
	if req.IdempotencyKey != "" {
		if err := s.running(); err != nil {
			return AppendResult{}, err
		}
		key = ref.DocPath() + "#" + req.IdempotencyKey
		if id, seen := s.deduper.Claim(ctx, key); seen {
			metrics.RecordRequestDuplicate()
			s.logger.Debug(ctx, "duplicate append request",
				logger.String("transcript", ref.String()),
				logger.String("idempotency_key", req.IdempotencyKey))
			if id == "" {
				return AppendResult{}, fmt.Errorf("%w: %s", ErrInProgress, req.IdempotencyKey)
			}
			return AppendResult{ID: id, Duplicate: true}, nil
		}
	}

	// Whoever flips taken owns the key: the job once it starts, or the
	// caller when Submit gave up before the job ran.
	var taken atomic.Bool
	out := make(chan string, 1)
	err := s.write(ctx, ref, func(ctx context.Context) error {
		if !taken.CompareAndSwap(false, true) {
			return context.Canceled
		}
		id, err := s.appendOnLane(ctx, ref, msg, req)
		if key != "" {
			if id != "" {
				s.deduper.Complete(ctx, key, id)
			} else {
				s.deduper.Release(ctx, key)
			}
		}
		out <- id
		return err
	})
	if taken.CompareAndSwap(false, true) && key != "" {
		s.deduper.Release(ctx, key)
	}

	var id string
	select {
	case id = <-out:
	default:
	}
	if err != nil {
		metrics.RecordErrorByComponent("service", "append")
		return AppendResult{ID: id}, err
	}
	return AppendResult{ID: id, Mirrored: !req.SkipMirror}, nil
}

func (s *Service) appendOnLane(ctx context.Context, ref transcript.Ref, msg model.Message, req AppendRequest) (string, error) {
	t, err := s.repo.Read(ctx, ref)
	if err != nil {
		return "", err
	}
	return s.log.Append(ctx, t, msg, transcript.WithMirror(!req.SkipMirror))
}

// UpdateMessage replaces message id. Streams are not touched.
func (s *Service) UpdateMessage(ctx context.Context, ref transcript.Ref, id string, msg model.Message) error {
	return s.write(ctx, ref, func(ctx context.Context) error {
		t, err := s.repo.Read(ctx, ref)
		if err != nil {
			return err
		}
		return s.repo.UpdateMessage(ctx, t, id, msg)
	})
}

// Finalize closes the transcript and returns its terminal status.
func (s *Service) Finalize(ctx context.Context, ref transcript.Ref) (model.Status, error) {
	out := make(chan model.Status, 1)
	err := s.write(ctx, ref, func(ctx context.Context) error {
		t, err := s.repo.Read(ctx, ref)
		if err != nil {
			return err
		}
		status, err := s.finalizer.Finalize(ctx, t)
		out <- status
		return err
	})
	if err != nil {
		return "", err
	}
	return <-out, nil
}

// Transcript reads a transcript. fromStreams rebuilds the messages from
// the fan-out streams and is meant for repair only.
func (s *Service) Transcript(ctx context.Context, ref transcript.Ref, fromStreams bool) (*model.Transcript, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	if fromStreams {
		return s.repo.ReadFromSubcollections(ctx, ref)
	}
	return s.repo.Read(ctx, ref)
}

// Templatable renders the transcript as "role: body" lines.
func (s *Service) Templatable(ctx context.Context, ref transcript.Ref, roles ...model.Role) (string, error) {
	t, err := s.Transcript(ctx, ref, false)
	if err != nil {
		return "", err
	}
	return t.ToTemplatable(roles...), nil
}

// DeleteTranscript removes the transcript, its streams and sentinels.
func (s *Service) DeleteTranscript(ctx context.Context, ref transcript.Ref) error {
	return s.write(ctx, ref, func(ctx context.Context) error {
		return s.repo.Delete(ctx, ref)
	})
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"store":       s.storeDriver,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}
	if s.started {
		queueLen := s.pool.Len()
		stats["queueLength"] = queueLen
		stats["idempotencyKeys"] = s.deduper.Size()

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateWorkerCount(s.pool.Workers())
	}
	return stats
}
