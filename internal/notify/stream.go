package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
)

// StreamConfig controls the HTTP event streams.
type StreamConfig struct {
	RetryDelay        time.Duration
	KeepaliveInterval time.Duration
	OriginPatterns    []string
	Buffer            int
}

// DefaultStreamConfig returns the defaults used by the server.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		RetryDelay:        5 * time.Second,
		KeepaliveInterval: 10 * time.Second,
		OriginPatterns:    []string{"*"},
		Buffer:            64,
	}
}

// StreamHandler serves hub events over SSE and websocket.
type StreamHandler struct {
	hub    *Hub
	cfg    StreamConfig
	logger *slog.Logger
}

// NewStreamHandler creates a stream handler for hub.
func NewStreamHandler(hub *Hub, cfg StreamConfig, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{hub: hub, cfg: cfg, logger: logger}
}

// HandleSSE streams events as server-sent events. Clients reconnecting with a
// Last-Event-ID header (or lastEventId query parameter) receive buffered events
// they missed.
func (h *StreamHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
			h.logger.Info("[NOTIFY] SSE client reconnecting", "last_event_id", lastEventID)
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.cfg.RetryDelay.Milliseconds())); err != nil {
		h.logger.Warn("[NOTIFY] Failed to write SSE retry header", "error", err)
		return
	}
	flusher.Flush()

	// Subscribe before replaying so nothing published in between is lost.
	events, unsubscribe := h.hub.Subscribe(h.cfg.Buffer)
	defer unsubscribe()

	sent := lastEventID
	if lastEventID > 0 {
		for _, rec := range h.hub.Since(lastEventID) {
			if err := writeSSEWithID(w, rec.ID, "message", string(rec.Data)); err != nil {
				return
			}
			sent = rec.ID
		}
		flusher.Flush()
	}

	keepalive := time.NewTicker(h.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("[NOTIFY] SSE client disconnected")
			return
		case rec, ok := <-events:
			if !ok {
				return
			}
			if rec.ID <= sent {
				continue
			}
			if err := writeSSEWithID(w, rec.ID, "message", string(rec.Data)); err != nil {
				h.logger.Warn("[NOTIFY] Failed to write SSE event", "error", err, "event_id", rec.ID)
				return
			}
			sent = rec.ID
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				h.logger.Warn("[NOTIFY] Failed to write SSE keepalive ping", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// HandleWebSocket streams events as JSON text frames. Client frames are read
// only to notice the close.
func (h *StreamHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		h.logger.Error("[NOTIFY] Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("[NOTIFY] Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := h.hub.Subscribe(h.cfg.Buffer)
	defer unsubscribe()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				if websocket.CloseStatus(err) != -1 {
					h.logger.Debug("[NOTIFY] WebSocket closed by client")
				}
				return
			}
		}
	}()
	defer func() {
		cancel()
		<-readDone
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-events:
			if !ok {
				return
			}
			if err := ws.Write(ctx, websocket.MessageText, rec.Data); err != nil {
				h.logger.Debug("[NOTIFY] WebSocket write error", "error", err)
				return
			}
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
