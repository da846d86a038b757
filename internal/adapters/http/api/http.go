// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/tutorlog/internal/adapters/mq/worker"
	service "github.com/okian/tutorlog/internal/app"
	"github.com/okian/tutorlog/internal/domain/model"
	"github.com/okian/tutorlog/internal/domain/scoring"
	"github.com/okian/tutorlog/internal/transcript"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	CreateTranscript(ctx context.Context, plan model.Plan, opts ...model.Option) (*model.Transcript, error)
	AppendMessage(ctx context.Context, ref transcript.Ref, msg model.Message, req service.AppendRequest) (service.AppendResult, error)
	UpdateMessage(ctx context.Context, ref transcript.Ref, id string, msg model.Message) error
	Finalize(ctx context.Context, ref transcript.Ref) (model.Status, error)
	Transcript(ctx context.Context, ref transcript.Ref, fromStreams bool) (*model.Transcript, error)
	Templatable(ctx context.Context, ref transcript.Ref, roles ...model.Role) (string, error)
	DeleteTranscript(ctx context.Context, ref transcript.Ref) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	transcriptsHandler *TranscriptsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		transcriptsHandler: NewTranscriptsHandler(deps),
	}
}

const transcriptPath = "/users/{uid}/transcripts/{tid}"

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	th := s.transcriptsHandler

	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", MetricsMiddleware(s.healthHandler.HandleHealth, "metrics"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /transcripts", MetricsMiddleware(th.HandleCreate, "transcripts"))
	mux.HandleFunc("GET "+transcriptPath, MetricsMiddleware(th.HandleGet, "transcript"))
	mux.HandleFunc("DELETE "+transcriptPath, MetricsMiddleware(th.HandleDelete, "transcript"))
	mux.HandleFunc("POST "+transcriptPath+"/messages", MetricsMiddleware(th.HandleAppend, "messages"))
	mux.HandleFunc("PATCH "+transcriptPath+"/messages/{mid}", MetricsMiddleware(th.HandleUpdateMessage, "message"))
	mux.HandleFunc("POST "+transcriptPath+"/finalize", MetricsMiddleware(th.HandleFinalize, "finalize"))
	mux.HandleFunc("GET "+transcriptPath+"/text", MetricsMiddleware(th.HandleText, "text"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, transcript.ErrNotFound), errors.Is(err, model.ErrUnknownMessage):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrInvalidState), errors.Is(err, transcript.ErrExists):
		return http.StatusConflict, "conflict"
	case errors.Is(err, service.ErrInProgress):
		return http.StatusConflict, "in_progress"
	case errors.Is(err, model.ErrInvalidRole),
		errors.Is(err, model.ErrInvalidPlan),
		errors.Is(err, model.ErrInvalidLanguage),
		errors.Is(err, transcript.ErrInvalidPath),
		errors.Is(err, scoring.ErrInvalidLevel),
		errors.Is(err, scoring.ErrUnknownDimension),
		errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, worker.ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, worker.ErrStopped), errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, err)
}
