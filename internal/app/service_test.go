package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/tutorlog/internal/app"
	"github.com/okian/tutorlog/internal/adapters/repository"
	"github.com/okian/tutorlog/internal/config"
	"github.com/okian/tutorlog/internal/domain/model"
	"github.com/okian/tutorlog/internal/transcript"
	"github.com/okian/tutorlog/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var plan = model.Plan{
	ActivityID:   "act-1",
	ActivityType: model.ActivityScenario,
	PlanID:       "plan-1",
	UserID:       "u1",
	LanguageTag:  "en-US",
}

func started(opts ...service.Option) *service.Service {
	svc := service.New(append([]service.Option{service.WithWorkerCount(4), service.WithQueueSize(256)}, opts...)...)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(service.WithWorkerCount(2), service.WithDedupeSize(10))
		defer svc.Stop()

		Convey("Operations fail before Start", func() {
			_, err := svc.CreateTranscript(context.Background(), plan)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("When starting the service", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then it reports its configuration", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["workerCount"], ShouldEqual, 2)
				So(stats["store"], ShouldEqual, config.DriverMemory)
				So(stats["queueLength"], ShouldEqual, 0)
			})

			Convey("Then it keeps working after the start context ends", func() {
				cancel()
				_, err := svc.CreateTranscript(context.Background(), plan)
				So(err, ShouldBeNil)
			})

			Convey("Then stopping marks it stopped", func() {
				svc.Stop()
				So(svc.GetStats()["started"], ShouldEqual, false)
				_, err := svc.Transcript(context.Background(), transcript.Ref{UserID: "u1", TranscriptID: "t"}, false)
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			})
		})
	})
}

func TestService_Session(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := started()
		defer svc.Stop()
		ctx := context.Background()

		tr, err := svc.CreateTranscript(ctx, plan)
		So(err, ShouldBeNil)
		ref := transcript.RefOf(tr)

		Convey("A full session ends final with ordered text", func() {
			greet := model.Message{Role: model.RoleAssistant, Body: "Hello, world!", CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
			reply := model.Message{Role: model.RoleUser, Body: "Hey what's up, I'm Mars.", CreatedAt: time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)}

			r1, err := svc.AppendMessage(ctx, ref, greet, service.AppendRequest{})
			So(err, ShouldBeNil)
			So(r1.ID, ShouldEqual, "AST0")
			So(r1.Mirrored, ShouldBeTrue)
			r2, err := svc.AppendMessage(ctx, ref, reply, service.AppendRequest{})
			So(err, ShouldBeNil)
			So(r2.ID, ShouldEqual, "USR1")

			status, err := svc.Finalize(ctx, ref)
			So(err, ShouldBeNil)
			So(status, ShouldEqual, model.StatusFinal)

			text, err := svc.Templatable(ctx, ref)
			So(err, ShouldBeNil)
			So(text, ShouldEqual, "ast: Hello, world!\nusr: Hey what's up, I'm Mars.")

			again, err := svc.Finalize(ctx, ref)
			So(err, ShouldBeNil)
			So(again, ShouldEqual, model.StatusFinal)

			_, err = svc.AppendMessage(ctx, ref, reply, service.AppendRequest{})
			So(errors.Is(err, model.ErrInvalidState), ShouldBeTrue)
		})

		Convey("A session without user turns ends empty", func() {
			_, err := svc.AppendMessage(ctx, ref, model.NewMessage(model.RoleAssistant, "Anyone there?"), service.AppendRequest{})
			So(err, ShouldBeNil)
			status, err := svc.Finalize(ctx, ref)
			So(err, ShouldBeNil)
			So(status, ShouldEqual, model.StatusEmpty)
		})

		Convey("Concurrent appends to one transcript get distinct IDs", func() {
			const n = 40
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				ids  = map[string]bool{}
				errs int
			)
			for i := range n {
				wg.Add(1)
				go func() {
					defer wg.Done()
					role := model.RoleUser
					if i%2 == 1 {
						role = model.RoleAssistant
					}
					res, err := svc.AppendMessage(ctx, ref, model.NewMessage(role, fmt.Sprintf("turn %d", i)), service.AppendRequest{})
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						errs++
						return
					}
					ids[res.ID] = true
				}()
			}
			wg.Wait()

			So(errs, ShouldEqual, 0)
			So(ids, ShouldHaveLength, n)
			stored, err := svc.Transcript(ctx, ref, false)
			So(err, ShouldBeNil)
			So(stored.Len(), ShouldEqual, n)

			repaired, err := svc.Transcript(ctx, ref, true)
			So(err, ShouldBeNil)
			So(repaired.Len(), ShouldEqual, n)
		})

		Convey("Retried appends with one idempotency key append once", func() {
			req := service.AppendRequest{IdempotencyKey: "req-1"}
			first, err := svc.AppendMessage(ctx, ref, model.NewMessage(model.RoleUser, "once"), req)
			So(err, ShouldBeNil)
			second, err := svc.AppendMessage(ctx, ref, model.NewMessage(model.RoleUser, "once"), req)
			So(err, ShouldBeNil)
			So(second.Duplicate, ShouldBeTrue)
			So(second.ID, ShouldEqual, first.ID)

			stored, _ := svc.Transcript(ctx, ref, false)
			So(stored.Len(), ShouldEqual, 1)
			So(svc.GetStats()["idempotencyKeys"], ShouldEqual, 1)
		})

		Convey("A failed append releases its idempotency key", func() {
			req := service.AppendRequest{IdempotencyKey: "req-2"}
			_, err := svc.AppendMessage(ctx, ref, model.NewMessage(model.RoleSystem, "prompt"), req)
			So(errors.Is(err, model.ErrInvalidRole), ShouldBeTrue)

			req.SkipMirror = true
			res, err := svc.AppendMessage(ctx, ref, model.NewMessage(model.RoleSystem, "prompt"), req)
			So(err, ShouldBeNil)
			So(res.Duplicate, ShouldBeFalse)
			So(res.Mirrored, ShouldBeFalse)
			So(res.ID, ShouldEqual, "SYS0")
		})

		Convey("Enrichment updates a message in place", func() {
			res, err := svc.AppendMessage(ctx, ref, model.NewMessage(model.RoleUser, "hi"), service.AppendRequest{})
			So(err, ShouldBeNil)
			msg := model.NewMessage(model.RoleUser, "hi")
			msg.Translation = "salut"
			So(svc.UpdateMessage(ctx, ref, res.ID, msg), ShouldBeNil)

			stored, _ := svc.Transcript(ctx, ref, false)
			got, ok := stored.Message(res.ID)
			So(ok, ShouldBeTrue)
			So(got.Translation, ShouldEqual, "salut")

			So(errors.Is(svc.UpdateMessage(ctx, ref, "USR99", msg), model.ErrUnknownMessage), ShouldBeTrue)
		})

		Convey("Deleting removes the transcript", func() {
			_, _ = svc.AppendMessage(ctx, ref, model.NewMessage(model.RoleUser, "bye"), service.AppendRequest{})
			So(svc.DeleteTranscript(ctx, ref), ShouldBeNil)
			_, err := svc.Transcript(ctx, ref, false)
			So(errors.Is(err, transcript.ErrNotFound), ShouldBeTrue)
			_, err = svc.Finalize(ctx, ref)
			So(errors.Is(err, transcript.ErrNotFound), ShouldBeTrue)
		})

		Convey("Bad input is rejected", func() {
			_, err := svc.CreateTranscript(ctx, model.Plan{UserID: "u1"})
			So(errors.Is(err, model.ErrInvalidPlan), ShouldBeTrue)

			bad := plan
			bad.LanguageTag = "not a tag!"
			_, err = svc.CreateTranscript(ctx, bad)
			So(errors.Is(err, model.ErrInvalidLanguage), ShouldBeTrue)

			_, err = svc.Finalize(ctx, transcript.Ref{UserID: "u1", TranscriptID: "a/b"})
			So(errors.Is(err, transcript.ErrInvalidPath), ShouldBeTrue)

			_, err = svc.CreateTranscript(ctx, plan, model.WithID(tr.ID))
			So(errors.Is(err, transcript.ErrExists), ShouldBeTrue)
		})
	})
}

// gatedStore holds every Merge until the gate opens.
type gatedStore struct {
	repository.Store
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func newGatedStore() *gatedStore {
	return &gatedStore{Store: repository.NewMemStore(), entered: make(chan struct{}, 16), gate: make(chan struct{})}
}

func (s *gatedStore) Merge(ctx context.Context, path string, patch json.RawMessage) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.gate
	return s.Store.Merge(ctx, path, patch)
}

func (s *gatedStore) open() { s.once.Do(func() { close(s.gate) }) }

func TestService_AbandonedAppend(t *testing.T) {
	Convey("Given a service whose store stalls on writes", t, func() {
		store := newGatedStore()
		svc := started(service.WithStore(store), service.WithWorkerCount(1))
		defer svc.Stop()
		defer store.open()

		bg := context.Background()
		tr, err := svc.CreateTranscript(bg, plan)
		So(err, ShouldBeNil)
		ref := transcript.RefOf(tr)
		hi := model.Message{Role: model.RoleUser, Body: "hi", CreatedAt: time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)}

		Convey("When the caller gives up after the append started", func() {
			ctx, cancel := context.WithCancel(bg)
			go func() {
				<-store.entered
				cancel()
			}()
			_, err := svc.AppendMessage(ctx, ref, hi, service.AppendRequest{IdempotencyKey: "k1"})
			So(errors.Is(err, context.Canceled), ShouldBeTrue)

			Convey("Then a retry while it runs is told to wait", func() {
				_, err := svc.AppendMessage(bg, ref, hi, service.AppendRequest{IdempotencyKey: "k1"})
				So(errors.Is(err, service.ErrInProgress), ShouldBeTrue)
			})

			Convey("Then a retry after it lands returns the first ID", func() {
				store.open()
				var (
					res service.AppendResult
					err error
				)
				for i := 0; i < 200; i++ {
					res, err = svc.AppendMessage(bg, ref, hi, service.AppendRequest{IdempotencyKey: "k1"})
					if !errors.Is(err, service.ErrInProgress) {
						break
					}
					time.Sleep(10 * time.Millisecond)
				}
				So(err, ShouldBeNil)
				So(res.Duplicate, ShouldBeTrue)
				So(res.ID, ShouldEqual, "USR0")

				got, err := svc.Transcript(bg, ref, false)
				So(err, ShouldBeNil)
				So(got.Len(), ShouldEqual, 1)
			})
		})

		Convey("When the caller gives up before the append started", func() {
			first := make(chan error, 1)
			go func() {
				_, err := svc.AppendMessage(bg, ref, hi, service.AppendRequest{})
				first <- err
			}()
			<-store.entered

			ctx, cancel := context.WithTimeout(bg, 30*time.Millisecond)
			defer cancel()
			_, err := svc.AppendMessage(ctx, ref, model.Message{Role: model.RoleAssistant, Body: "late", CreatedAt: hi.CreatedAt.Add(time.Second)},
				service.AppendRequest{IdempotencyKey: "k2"})
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)

			store.open()
			So(<-first, ShouldBeNil)

			Convey("Then the queued append is skipped and the key is free", func() {
				res, err := svc.AppendMessage(bg, ref, model.NewMessage(model.RoleAssistant, "again"), service.AppendRequest{IdempotencyKey: "k2"})
				So(err, ShouldBeNil)
				So(res.Duplicate, ShouldBeFalse)
				So(res.ID, ShouldEqual, "AST1")

				got, err := svc.Transcript(bg, ref, false)
				So(err, ShouldBeNil)
				So(got.Len(), ShouldEqual, 2)
				m, ok := got.Message("AST1")
				So(ok, ShouldBeTrue)
				So(m.Body, ShouldEqual, "again")
			})
		})
	})
}

func TestService_SQLite(t *testing.T) {
	Convey("Given a service backed by SQLite", t, func() {
		path := filepath.Join(t.TempDir(), "tutorlog.db")
		ctx := context.Background()

		svc := started(service.WithSQLite(path))
		tr, err := svc.CreateTranscript(ctx, plan)
		So(err, ShouldBeNil)
		ref := transcript.RefOf(tr)
		_, err = svc.AppendMessage(ctx, ref, model.NewMessage(model.RoleUser, "persisted"), service.AppendRequest{})
		So(err, ShouldBeNil)
		svc.Stop()

		Convey("The transcript survives a restart", func() {
			reopened := started(service.WithSQLite(path))
			defer reopened.Stop()

			got, err := reopened.Transcript(ctx, ref, false)
			So(err, ShouldBeNil)
			So(got.Len(), ShouldEqual, 1)
			So(got.LanguageTag, ShouldEqual, "en-US")

			status, err := reopened.Finalize(ctx, ref)
			So(err, ShouldBeNil)
			So(status, ShouldEqual, model.StatusFinal)
		})
	})
}

func TestFromConfig(t *testing.T) {
	Convey("Config drives the store selection", t, func() {
		cfg := config.New()
		cfg.StoreDriver = config.DriverSQLite
		cfg.SQLitePath = filepath.Join(t.TempDir(), "cfg.db")
		cfg.WorkerCount = 3

		svc := service.New(service.FromConfig(cfg)...)
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()

		stats := svc.GetStats()
		So(stats["store"], ShouldEqual, config.DriverSQLite)
		So(stats["workerCount"], ShouldEqual, 3)
	})
}
