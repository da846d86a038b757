package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/tutorlog/internal/adapters/http/api"
	"github.com/okian/tutorlog/internal/adapters/mq/worker"
	service "github.com/okian/tutorlog/internal/app"
	"github.com/okian/tutorlog/internal/domain/model"
	"github.com/okian/tutorlog/internal/domain/types"
	"github.com/okian/tutorlog/internal/transcript"
	"github.com/okian/tutorlog/pkg/logger"
)

type client struct {
	srv *httptest.Server
}

func (c client) do(method, path, body string, headers ...string) (*http.Response, string) {
	var rdr io.Reader = http.NoBody
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, rdr)
	So(err, ShouldBeNil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := c.srv.Client().Do(req)
	So(err, ShouldBeNil)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	So(err, ShouldBeNil)
	return resp, string(raw)
}

func newServer(deps api.Dependencies, stats api.StatsProvider) client {
	mux := http.NewServeMux()
	api.NewServer(deps, stats).Register(context.Background(), mux)
	return client{srv: httptest.NewServer(mux)}
}

const planBody = `{"aid":"act-1","atp":"scenario","pid":"plan-1","uid":"u1","bcp47":"en-US"}`

func TestTranscriptRoutes(t *testing.T) {
	Convey("Given the API backed by an in-memory service", t, func() {
		svc := service.New(service.WithWorkerCount(2), service.WithLogger(logger.NewNop()))
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()
		c := newServer(svc, svc)
		defer c.srv.Close()

		resp, body := c.do(http.MethodPost, "/transcripts", planBody)
		So(resp.StatusCode, ShouldEqual, http.StatusCreated)
		var created types.TranscriptView
		So(json.Unmarshal([]byte(body), &created), ShouldBeNil)
		So(created.Status, ShouldEqual, model.StatusLive)
		So(created.ID, ShouldEndWith, "-en-US")
		base := "/users/u1/transcripts/" + created.ID
		So(resp.Header.Get("Location"), ShouldEqual, base)

		Convey("A session can be run end to end", func() {
			resp, body := c.do(http.MethodPost, base+"/messages", `{"role":"ast","body":"Hello, world!","created_at":"2026-01-01T00:00:00Z"}`)
			So(resp.StatusCode, ShouldEqual, http.StatusCreated)
			So(body, ShouldContainSubstring, `"id":"AST0"`)

			resp, _ = c.do(http.MethodPost, base+"/messages", `{"role":"usr","body":"Hey what's up, I'm Mars.","created_at":"2026-01-01T00:00:01Z"}`)
			So(resp.StatusCode, ShouldEqual, http.StatusCreated)

			resp, body = c.do(http.MethodGet, base+"/text", "")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(resp.Header.Get("Content-Type"), ShouldStartWith, "text/plain")
			So(body, ShouldEqual, "ast: Hello, world!\nusr: Hey what's up, I'm Mars.")

			resp, body = c.do(http.MethodGet, base+"/text?roles=usr", "")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body, ShouldEqual, "usr: Hey what's up, I'm Mars.")

			resp, body = c.do(http.MethodPost, base+"/finalize", "")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body, ShouldContainSubstring, `"status":"final"`)

			resp, _ = c.do(http.MethodPost, base+"/finalize", "")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			resp, body = c.do(http.MethodPost, base+"/messages", `{"role":"usr","body":"late"}`)
			So(resp.StatusCode, ShouldEqual, http.StatusConflict)
			So(body, ShouldContainSubstring, `"code":"conflict"`)

			resp, body = c.do(http.MethodGet, base, "")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			var view types.TranscriptView
			So(json.Unmarshal([]byte(body), &view), ShouldBeNil)
			So(view.Status, ShouldEqual, model.StatusFinal)
			So(view.Messages, ShouldHaveLength, 2)
			So(view.Messages[0].ID, ShouldEqual, "AST0")
		})

		Convey("Idempotency keys deduplicate retried appends", func() {
			hdr := []string{api.IdempotencyKeyHeader, "retry-1"}
			resp, body := c.do(http.MethodPost, base+"/messages", `{"role":"usr","body":"once"}`, hdr...)
			So(resp.StatusCode, ShouldEqual, http.StatusCreated)
			So(body, ShouldContainSubstring, `"id":"USR0"`)

			resp, body = c.do(http.MethodPost, base+"/messages", `{"role":"usr","body":"once"}`, hdr...)
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body, ShouldContainSubstring, `"duplicate":true`)
			So(body, ShouldContainSubstring, `"id":"USR0"`)
		})

		Convey("System messages need mirror=false", func() {
			resp, _ := c.do(http.MethodPost, base+"/messages", `{"role":"sys","body":"prompt"}`)
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)

			resp, body := c.do(http.MethodPost, base+"/messages?mirror=false", `{"role":"sys","body":"prompt"}`)
			So(resp.StatusCode, ShouldEqual, http.StatusCreated)
			So(body, ShouldContainSubstring, `"mirrored":false`)

			resp, _ = c.do(http.MethodPost, base+"/messages?mirror=maybe", `{"role":"usr","body":"x"}`)
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Messages can be enriched in place", func() {
			resp, _ := c.do(http.MethodPost, base+"/messages", `{"role":"usr","body":"hola"}`)
			So(resp.StatusCode, ShouldEqual, http.StatusCreated)

			resp, _ = c.do(http.MethodPatch, base+"/messages/USR0",
				`{"role":"usr","body":"hola","translation":"hello","score":{"vocab":{"score":"CHILD"}}}`)
			So(resp.StatusCode, ShouldEqual, http.StatusNoContent)

			_, body := c.do(http.MethodGet, base, "")
			So(body, ShouldContainSubstring, `"translation":"hello"`)
			So(body, ShouldContainSubstring, `"scores":{"vocab":{"median":2,"mad":0,"n":1}}`)

			resp, _ = c.do(http.MethodPatch, base+"/messages/USR9", `{"role":"usr","body":"x"}`)
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})

		Convey("Streams can rebuild the transcript", func() {
			_, _ = c.do(http.MethodPost, base+"/messages", `{"role":"usr","body":"a"}`)
			resp, body := c.do(http.MethodGet, base+"?source=streams", "")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body, ShouldContainSubstring, `"id":"USR0"`)

			resp, _ = c.do(http.MethodGet, base+"?source=cache", "")
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Deleting makes the transcript disappear", func() {
			resp, _ := c.do(http.MethodDelete, base, "")
			So(resp.StatusCode, ShouldEqual, http.StatusNoContent)
			resp, body := c.do(http.MethodGet, base, "")
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
			So(body, ShouldContainSubstring, `"code":"not_found"`)
			resp, _ = c.do(http.MethodDelete, base, "")
			So(resp.StatusCode, ShouldEqual, http.StatusNoContent)
		})

		Convey("Bad requests are rejected", func() {
			resp, _ := c.do(http.MethodPost, "/transcripts", `{"aid":"a"}`)
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)

			resp, _ = c.do(http.MethodPost, "/transcripts", `{"aid":"a","atp":"intro","pid":"p","uid":"u","bcp47":"??"}`)
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)

			resp, _ = c.do(http.MethodPost, "/transcripts", `{not json`)
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)

			resp, _ = c.do(http.MethodPost, base+"/messages", `{"role":"robot","body":"beep"}`)
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)

			resp, _ = c.do(http.MethodGet, base+"/text?roles=ast,bot", "")
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)

			resp, _ = c.do(http.MethodPost, "/transcripts", fmt.Sprintf(`{"id":%q,"aid":"a","atp":"intro","pid":"p","uid":"u1","bcp47":"en"}`, created.ID))
			So(resp.StatusCode, ShouldEqual, http.StatusConflict)
		})

		Convey("Unknown routes and methods are rejected by the mux", func() {
			resp, _ := c.do(http.MethodPut, base, "")
			So(resp.StatusCode, ShouldEqual, http.StatusMethodNotAllowed)
			resp, _ = c.do(http.MethodGet, "/leaderboard", "")
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})

		Convey("Operational endpoints respond", func() {
			resp, body := c.do(http.MethodGet, "/stats", "")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body, ShouldContainSubstring, `"started":true`)

			resp, body = c.do(http.MethodGet, "/metrics", "")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body, ShouldContainSubstring, "tutorlog_transcript_transcripts_created_total")

			resp, _ = c.do(http.MethodGet, "/healthz", "")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
		})
	})
}

// stubDeps returns err from every operation.
type stubDeps struct {
	err   error
	reply service.AppendResult
}

func (s stubDeps) CreateTranscript(context.Context, model.Plan, ...model.Option) (*model.Transcript, error) {
	return nil, s.err
}

func (s stubDeps) AppendMessage(context.Context, transcript.Ref, model.Message, service.AppendRequest) (service.AppendResult, error) {
	return s.reply, s.err
}

func (s stubDeps) UpdateMessage(context.Context, transcript.Ref, string, model.Message) error {
	return s.err
}

func (s stubDeps) Finalize(context.Context, transcript.Ref) (model.Status, error) { return "", s.err }

func (s stubDeps) Transcript(context.Context, transcript.Ref, bool) (*model.Transcript, error) {
	return nil, s.err
}

func (s stubDeps) Templatable(context.Context, transcript.Ref, ...model.Role) (string, error) {
	return "", s.err
}

func (s stubDeps) DeleteTranscript(context.Context, transcript.Ref) error { return s.err }

func (s stubDeps) GetStats() map[string]any { return map[string]any{} }

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"backpressure", fmt.Errorf("%w: users/u/transcripts/t", worker.ErrBackpressure), http.StatusTooManyRequests},
		{"stopped", worker.ErrStopped, http.StatusServiceUnavailable},
		{"not started", service.ErrNotStarted, http.StatusServiceUnavailable},
		{"not found", transcript.ErrNotFound, http.StatusNotFound},
		{"invalid path", transcript.ErrInvalidPath, http.StatusBadRequest},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"store failure", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	Convey("Given handlers whose dependencies fail", t, func() {
		for _, tc := range cases {
			Convey("When the failure is "+tc.name, func() {
				c := newServer(stubDeps{err: tc.err}, stubDeps{})
				defer c.srv.Close()

				resp, _ := c.do(http.MethodPost, "/users/u/transcripts/t/finalize", "")
				So(resp.StatusCode, ShouldEqual, tc.status)
			})
		}

		Convey("When an append is stored but not mirrored", func() {
			c := newServer(stubDeps{
				err:   fmt.Errorf("%w: USR3", transcript.ErrMirrorFailed),
				reply: service.AppendResult{ID: "USR3"},
			}, stubDeps{})
			defer c.srv.Close()

			resp, _ := c.do(http.MethodPost, "/users/u/transcripts/t/messages", `{"role":"usr","body":"x"}`)
			So(resp.StatusCode, ShouldEqual, http.StatusInternalServerError)
			So(resp.Header.Get("X-Message-Id"), ShouldEqual, "USR3")
		})

		Convey("When the same idempotency key is still running", func() {
			c := newServer(stubDeps{err: fmt.Errorf("%w: k1", service.ErrInProgress)}, stubDeps{})
			defer c.srv.Close()

			resp, body := c.do(http.MethodPost, "/users/u/transcripts/t/messages", `{"role":"usr","body":"x"}`, "Idempotency-Key", "k1")
			So(resp.StatusCode, ShouldEqual, http.StatusConflict)
			So(body, ShouldContainSubstring, `"code":"in_progress"`)
			So(resp.Header.Get("X-Message-Id"), ShouldBeEmpty)
		})
	})
}
