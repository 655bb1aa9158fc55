package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-orchestrator-go/internal/bus"
	apperrors "github.com/openclaw/wa-orchestrator-go/internal/errors"
	"github.com/openclaw/wa-orchestrator-go/internal/manager"
)

const heartbeatInterval = 15 * time.Second

type LogsHandler struct {
	manager *manager.Manager
}

func NewLogsHandler(m *manager.Manager) *LogsHandler {
	return &LogsHandler{manager: m}
}

// logEvent is the wire shape of one streamed entry.
type logEvent struct {
	TS   int64  `json:"ts"`
	At   string `json:"at"`
	ID   string `json:"id"`
	Text string `json:"text"`
	Type string `json:"type"`
}

// GET /v1/logs/{id}
func (h *LogsHandler) StreamSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.manager.SubscribeLogs(id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Unsubscribe()

	h.stream(w, r, sub, id)
}

// GET /v1/logs
func (h *LogsHandler) StreamAll(w http.ResponseWriter, r *http.Request) {
	sub := h.manager.SubscribeAllLogs()
	defer sub.Unsubscribe()

	h.stream(w, r, sub, "")
}

func (h *LogsHandler) stream(w http.ResponseWriter, r *http.Request, sub *bus.Subscriber, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	opened, _ := json.Marshal(map[string]string{"id": id})
	fmt.Fprintf(w, "event: open\ndata: %s\n\n", opened)
	flusher.Flush()

	log.Info().Str("id", id).Msg("log stream established")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("id", id).Msg("log stream closed by client")
			return

		case <-sub.Done():
			log.Debug().Str("id", id).Msg("log stream closed by bus")
			return

		case ev := <-sub.Events():
			payload, err := json.Marshal(logEvent{
				TS:   ev.TS,
				At:   time.UnixMilli(ev.TS).UTC().Format(time.RFC3339),
				ID:   ev.ID,
				Text: ev.Text,
				Type: string(ev.Type),
			})
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
