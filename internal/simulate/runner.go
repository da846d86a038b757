package simulate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/tutorlog/internal/domain/model"
	"github.com/okian/tutorlog/pkg/logger"
)

// ErrVerification is returned when a session did not round-trip intact.
var ErrVerification = errors.New("verification failed")

type runner struct {
	cfg    Config
	client *Client
	log    logger.Logger

	final, empty, messages, duplicate, failed atomic.Int64
	appends                                   atomic.Int64
}

// Run checks the server, drives cfg.Sessions scripted sessions with
// cfg.Workers in flight, and verifies each transcript after finalizing it.
func Run(ctx context.Context, cfg Config, log logger.Logger) (*Stats, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	r := &runner{cfg: cfg, client: NewClient(cfg.BaseURL, cfg.Timeout), log: log}
	stats := &Stats{Sessions: cfg.Sessions, StartTime: time.Now()}

	log.Info(ctx, "starting transcript simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("sessions", cfg.Sessions),
		logger.Int("turns", cfg.Turns),
		logger.Int("workers", cfg.Workers))

	if err := r.client.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(cfg.Workers)
	start := time.Now().UTC()
	for i := range cfg.Sessions {
		if ctx.Err() != nil {
			break
		}
		s := newSession(cfg, i, start)
		g.Go(func() error {
			if err := r.drive(ctx, s); err != nil {
				r.failed.Add(1)
				log.Warn(ctx, "session failed", logger.String("user", s.plan.UserID), logger.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Final = int(r.final.Load())
	stats.Empty = int(r.empty.Load())
	stats.Messages = int(r.messages.Load())
	stats.Duplicate = int(r.duplicate.Load())
	stats.Failed = int(r.failed.Load())
	stats.Duration = time.Since(stats.StartTime)

	log.Info(ctx, "simulation finished",
		logger.Int("final", stats.Final),
		logger.Int("empty", stats.Empty),
		logger.Int("messages", stats.Messages),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("failed", stats.Failed),
		logger.String("duration", stats.Duration.String()))

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if stats.Failed > 0 {
		return stats, fmt.Errorf("%w: %d of %d sessions", ErrVerification, stats.Failed, cfg.Sessions)
	}
	return stats, nil
}

func (r *runner) drive(ctx context.Context, s session) error {
	view, err := r.client.Create(ctx, s.plan)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	uid, tid := view.UserID, view.ID

	ids := make(map[string]bool, len(s.turns))
	for _, turn := range s.turns {
		key := uuid.NewString()
		res, err := r.client.Append(ctx, uid, tid, turn, key)
		if err != nil {
			return fmt.Errorf("append: %w", err)
		}
		if ids[res.ID] {
			return fmt.Errorf("%w: message id %s assigned twice", ErrVerification, res.ID)
		}
		ids[res.ID] = true
		r.messages.Add(1)

		if n := r.appends.Add(1); r.cfg.Retries > 0 && n%int64(r.cfg.Retries) == 0 {
			again, err := r.client.Append(ctx, uid, tid, turn, key)
			if err != nil {
				return fmt.Errorf("retry append: %w", err)
			}
			if !again.Duplicate || again.ID != res.ID {
				return fmt.Errorf("%w: retry of %s was appended again as %s", ErrVerification, res.ID, again.ID)
			}
			r.duplicate.Add(1)
		}
	}

	want := model.StatusEmpty
	if s.userTurns() > 0 {
		want = model.StatusFinal
	}
	status, err := r.client.Finalize(ctx, uid, tid)
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	if status != want {
		return fmt.Errorf("%w: finalized as %s, want %s", ErrVerification, status, want)
	}
	if err := r.verify(ctx, uid, tid, s, want); err != nil {
		return err
	}

	switch status {
	case model.StatusFinal:
		r.final.Add(1)
	case model.StatusEmpty:
		r.empty.Add(1)
	}
	if r.cfg.Cleanup {
		if err := r.client.Delete(ctx, uid, tid); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
	}
	return nil
}

// verify reads the transcript back from the document and from the streams.
func (r *runner) verify(ctx context.Context, uid, tid string, s session, want model.Status) error {
	doc, err := r.client.Get(ctx, uid, tid, false)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if doc.Status != want {
		return fmt.Errorf("%w: stored status %s, want %s", ErrVerification, doc.Status, want)
	}
	if len(doc.Messages) != len(s.turns) {
		return fmt.Errorf("%w: %d messages stored, want %d", ErrVerification, len(doc.Messages), len(s.turns))
	}
	for i, m := range doc.Messages {
		if m.Role != s.turns[i].Role || m.Body != s.turns[i].Body {
			return fmt.Errorf("%w: message %d out of order", ErrVerification, i)
		}
	}

	streams, err := r.client.Get(ctx, uid, tid, true)
	if err != nil {
		return fmt.Errorf("get from streams: %w", err)
	}
	if len(streams.Messages) != len(s.turns) {
		return fmt.Errorf("%w: %d messages mirrored, want %d", ErrVerification, len(streams.Messages), len(s.turns))
	}

	text, err := r.client.Text(ctx, uid, tid)
	if err != nil {
		return fmt.Errorf("text: %w", err)
	}
	if got := strings.Count(text, "\n") + 1; got != len(s.turns) {
		return fmt.Errorf("%w: rendered %d lines, want %d", ErrVerification, got, len(s.turns))
	}
	return nil
}
