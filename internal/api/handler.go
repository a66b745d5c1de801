// Package api provides HTTP handlers for the recording API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/meetlog/internal/capture"
	"github.com/ashureev/meetlog/internal/domain"
	"github.com/ashureev/meetlog/internal/export"
	"github.com/ashureev/meetlog/internal/lifecycle"
	"github.com/go-chi/chi/v5"
)

// Recorder is the part of the lifecycle coordinator the API drives.
type Recorder interface {
	Start(ctx context.Context) (lifecycle.StartResult, error)
	Stop(ctx context.Context) error
	Status(ctx context.Context) (lifecycle.Status, error)
	Messages(ctx context.Context) ([]domain.Message, error)
	ClearMessages(ctx context.Context) error
	Export(ctx context.Context, format export.Format) (export.File, error)
	Recovery(ctx context.Context) (*domain.PendingRecovery, error)
	AcknowledgeRecovery(ctx context.Context, discard bool) error
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Streams serves the notification streams.
type Streams interface {
	HandleSSE(w http.ResponseWriter, r *http.Request)
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
}

// Handler serves the recording API.
type Handler struct {
	rec     Recorder
	db      Pinger
	streams Streams
	logger  *slog.Logger
}

// NewHandler creates a new Handler. streams may be nil.
func NewHandler(rec Recorder, db Pinger, streams Streams, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{rec: rec, db: db, streams: streams, logger: logger}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/status", h.GetStatus)

		r.Post("/recording/start", h.StartRecording)
		r.Post("/recording/stop", h.StopRecording)

		r.Get("/messages", h.ListMessages)
		r.Delete("/messages", h.ClearMessages)
		r.Get("/export", h.Export)

		r.Get("/recovery", h.GetRecovery)
		r.Post("/recovery/ack", h.AcknowledgeRecovery)

		if h.streams != nil {
			r.Get("/events", h.streams.HandleSSE)
		}
	})
	if h.streams != nil {
		r.Get("/ws/events", h.streams.HandleWebSocket)
	}
}

// Health reports whether the store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.Error("Health check failed", "error", err)
			JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "unreachable"})
			return
		}
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetStatus returns the session record.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.rec.Status(r.Context())
	if err != nil {
		h.fail(w, "status", err)
		return
	}
	JSON(w, http.StatusOK, st)
}

// StartRecording starts capture. A region that is not there yet answers 202.
func (h *Handler) StartRecording(w http.ResponseWriter, r *http.Request) {
	res, err := h.rec.Start(r.Context())
	if err != nil {
		h.fail(w, "start", err)
		return
	}
	if res.Pending {
		JSON(w, http.StatusAccepted, map[string]interface{}{"started": false, "pending": true})
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"started": true, "pending": false})
}

// StopRecording stops capture.
func (h *Handler) StopRecording(w http.ResponseWriter, r *http.Request) {
	if err := h.rec.Stop(r.Context()); err != nil {
		h.fail(w, "stop", err)
		return
	}
	st, err := h.rec.Status(r.Context())
	if err != nil {
		h.fail(w, "status", err)
		return
	}
	JSON(w, http.StatusOK, st)
}

// ListMessages returns the captured messages.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.rec.Messages(r.Context())
	if err != nil {
		h.fail(w, "messages", err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"messages": msgs, "count": len(msgs)})
}

// ClearMessages removes every captured message.
func (h *Handler) ClearMessages(w http.ResponseWriter, r *http.Request) {
	if err := h.rec.ClearMessages(r.Context()); err != nil {
		h.fail(w, "clear", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export downloads the captured messages as markdown (default) or csv.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format := export.Markdown
	if q := r.URL.Query().Get("format"); q != "" {
		f, err := export.ParseFormat(q)
		if err != nil {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		format = f
	}

	file, err := h.rec.Export(r.Context(), format)
	if err != nil {
		h.fail(w, "export", err)
		return
	}

	w.Header().Set("Content-Type", file.Format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(file.Content)); err != nil {
		h.logger.Warn("Failed to write export", "error", err)
	}
}

// GetRecovery returns the pending recovery entry.
func (h *Handler) GetRecovery(w http.ResponseWriter, r *http.Request) {
	pending, err := h.rec.Recovery(r.Context())
	if err != nil {
		h.fail(w, "recovery", err)
		return
	}
	if pending == nil {
		Error(w, http.StatusNotFound, "no pending recovery")
		return
	}
	JSON(w, http.StatusOK, pending)
}

// AcknowledgeRecovery dismisses the pending recovery entry.
func (h *Handler) AcknowledgeRecovery(w http.ResponseWriter, r *http.Request) {
	discard := false
	if q := r.URL.Query().Get("discard"); q != "" {
		v, err := strconv.ParseBool(q)
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid discard value")
			return
		}
		discard = v
	}
	if err := h.rec.AcknowledgeRecovery(r.Context(), discard); err != nil {
		h.fail(w, "acknowledge", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrNothingToExport):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, capture.ErrNotFound):
		Error(w, http.StatusServiceUnavailable, "chat container not found")
	default:
		h.logger.Error("Request failed", "op", op, "error", err)
		Error(w, http.StatusInternalServerError, err.Error())
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
