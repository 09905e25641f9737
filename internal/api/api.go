// Package api exposes the service over HTTP for the embedding page.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/app"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/progress"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/quiz"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/report"
)

const maxBodyBytes = 1 << 16

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler serves the JSON API.
type Handler struct {
	svc    *app.Service
	events http.Handler
	ready  HealthChecker
}

// New creates the router. events serves the completion event stream and may
// be nil; ready backs /readyz and may be nil.
func New(svc *app.Service, events http.Handler, ready HealthChecker) *http.ServeMux {
	h := &Handler{svc: svc, events: events, ready: ready}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", h.handleReadyz)

	mux.HandleFunc("GET /api/topics", h.handleTopics)
	mux.HandleFunc("GET /api/topics/{topic}/levels", h.handleLevels)
	mux.HandleFunc("GET /api/progress", h.handleProgress)
	mux.HandleFunc("POST /api/learner", h.handleCreateLearner)
	mux.HandleFunc("PUT /api/mode", h.handleSelectMode)
	mux.HandleFunc("POST /api/reset", h.handleReset)

	mux.HandleFunc("POST /api/session", h.handleStartSession)
	mux.HandleFunc("GET /api/session", h.handleSession)
	mux.HandleFunc("POST /api/session/answer", h.handleAnswer)
	mux.HandleFunc("POST /api/session/advance", h.handleAdvance)
	mux.HandleFunc("DELETE /api/session", h.handleAbandon)

	mux.HandleFunc("GET /api/report.xlsx", h.handleReport)
	if events != nil {
		mux.Handle("GET /api/events", events)
	}
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready.HealthCheck(r.Context()); err != nil {
			slog.Warn("readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (h *Handler) handleTopics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Topics())
}

func (h *Handler) handleLevels(w http.ResponseWriter, r *http.Request) {
	levels, err := h.svc.Levels(r.PathValue("topic"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, levels)
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	body, err := progress.Encode(h.svc.Progress())
	if err != nil {
		writeError(w, err)
		return
	}

	sum := blake2b.Sum256(body)
	etag := `"` + hex.EncodeToString(sum[:16]) + `"`
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

type learnerRequest struct {
	Name        string `json:"name"`
	AvatarColor string `json:"avatarColor"`
}

func (h *Handler) handleCreateLearner(w http.ResponseWriter, r *http.Request) {
	var req learnerRequest
	if !readJSON(w, r, &req) {
		return
	}
	p, err := h.svc.CreateLearner(r.Context(), req.Name, req.AvatarColor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type modeRequest struct {
	Mode progress.Mode `json:"mode"`
}

func (h *Handler) handleSelectMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !readJSON(w, r, &req) {
		return
	}
	p, err := h.svc.SelectMode(r.Context(), req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Reset(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type sessionRequest struct {
	TopicID string `json:"topicId"`
	Level   int    `json:"level"`
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !readJSON(w, r, &req) {
		return
	}
	v, err := h.svc.StartSession(r.Context(), req.TopicID, req.Level)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Session(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type answerRequest struct {
	Option *int `json:"option"`
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Option == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "option is required"})
		return
	}
	v, err := h.svc.Answer(r.Context(), *req.Option)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Advance(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Abandon(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="progression.xlsx"`)
	if err := h.svc.Export(w); err != nil {
		slog.Error("writing report failed", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encoding response failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, progress.ErrUnknownTopic), errors.Is(err, app.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, progress.ErrInvalidLevel),
		errors.Is(err, app.ErrInvalidName),
		errors.Is(err, app.ErrInvalidColor),
		errors.Is(err, quiz.ErrInvalidOption):
		return http.StatusUnprocessableEntity
	case errors.Is(err, progress.ErrLevelLocked),
		errors.Is(err, app.ErrNoLearner),
		errors.Is(err, app.ErrNotReady),
		errors.Is(err, quiz.ErrNotAnswered),
		errors.Is(err, quiz.ErrNotStarted),
		errors.Is(err, quiz.ErrAbandoned),
		errors.Is(err, quiz.ErrResultTaken):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
