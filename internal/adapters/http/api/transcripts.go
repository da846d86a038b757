package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	service "github.com/okian/tutorlog/internal/app"
	"github.com/okian/tutorlog/internal/domain/model"
	"github.com/okian/tutorlog/internal/domain/types"
	"github.com/okian/tutorlog/internal/transcript"
)

// IdempotencyKeyHeader lets clients retry an append safely.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxBodyBytes = 1 << 20

// createRequest is the body of POST /transcripts.
type createRequest struct {
	model.Plan
	ID string `json:"id,omitempty"`
}

// TranscriptsHandler serves the transcript routes.
type TranscriptsHandler struct {
	deps Dependencies
}

// NewTranscriptsHandler creates a new transcripts handler.
func NewTranscriptsHandler(deps Dependencies) *TranscriptsHandler {
	return &TranscriptsHandler{deps: deps}
}

func refFrom(r *http.Request) transcript.Ref {
	return transcript.Ref{UserID: r.PathValue("uid"), TranscriptID: r.PathValue("tid")}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}

// HandleCreate handles POST /transcripts.
func (h *TranscriptsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(w, r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	t, err := h.deps.CreateTranscript(r.Context(), req.Plan, model.WithID(req.ID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Location", "/"+transcript.RefOf(t).DocPath())
	writeJSON(w, http.StatusCreated, types.NewTranscriptView(t))
}

// HandleGet handles GET /users/{uid}/transcripts/{tid}. With
// ?source=streams the messages are rebuilt from the fan-out streams.
func (h *TranscriptsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	var fromStreams bool
	switch src := r.URL.Query().Get("source"); src {
	case "", "document":
	case "streams":
		fromStreams = true
	default:
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: unknown source %q", ErrBadRequest, src))
		return
	}
	t, err := h.deps.Transcript(r.Context(), refFrom(r), fromStreams)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.NewTranscriptView(t))
}

// HandleDelete handles DELETE /users/{uid}/transcripts/{tid}.
func (h *TranscriptsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.DeleteTranscript(r.Context(), refFrom(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAppend handles POST /users/{uid}/transcripts/{tid}/messages.
// ?mirror=false stores the message without mirroring it.
func (h *TranscriptsHandler) HandleAppend(w http.ResponseWriter, r *http.Request) {
	var req types.MessageRequest
	if err := decode(w, r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	skip, err := skipMirror(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	res, err := h.deps.AppendMessage(r.Context(), refFrom(r), req.Message(), service.AppendRequest{
		SkipMirror:     skip,
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		if res.ID != "" {
			// Stored but not mirrored; report the ID so the caller can retry the mirror.
			w.Header().Set("X-Message-Id", res.ID)
		}
		writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, types.AppendResponse{ID: res.ID, Duplicate: res.Duplicate, Mirrored: res.Mirrored})
}

func skipMirror(r *http.Request) (bool, error) {
	switch v := r.URL.Query().Get("mirror"); v {
	case "", "true", "1":
		return false, nil
	case "false", "0":
		return true, nil
	default:
		return false, fmt.Errorf("%w: mirror must be true or false, got %q", ErrBadRequest, v)
	}
}

// HandleUpdateMessage handles PATCH /users/{uid}/transcripts/{tid}/messages/{mid}.
func (h *TranscriptsHandler) HandleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	var req types.MessageRequest
	if err := decode(w, r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.deps.UpdateMessage(r.Context(), refFrom(r), r.PathValue("mid"), req.Message()); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleFinalize handles POST /users/{uid}/transcripts/{tid}/finalize.
func (h *TranscriptsHandler) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	status, err := h.deps.Finalize(r.Context(), refFrom(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FinalizeResponse{Status: status})
}

// HandleText handles GET /users/{uid}/transcripts/{tid}/text?roles=ast,usr.
func (h *TranscriptsHandler) HandleText(w http.ResponseWriter, r *http.Request) {
	var roles []model.Role
	if raw := r.URL.Query().Get("roles"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			role, err := model.ParseRole(strings.TrimSpace(s))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			roles = append(roles, role)
		}
	}
	text, err := h.deps.Templatable(r.Context(), refFrom(r), roles...)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}
