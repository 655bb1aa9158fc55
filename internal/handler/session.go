package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/wa-orchestrator-go/internal/errors"
	"github.com/openclaw/wa-orchestrator-go/internal/manager"
)

type SessionHandler struct {
	manager *manager.Manager
}

func NewSessionHandler(m *manager.Manager) *SessionHandler {
	return &SessionHandler{manager: m}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/active", h.ActiveBots)
	r.Get("/commands", h.Commands)
	r.Post("/bootstrap", h.BootstrapAll)
	r.Post("/execute", h.Execute)

	r.Post("/{id}/start", h.StartSession)
	r.Post("/{id}/code", h.RequestCode)
	r.Get("/{id}/status", h.GetStatus)
	r.Post("/{id}/reset", h.Reset)
	r.Post("/{id}/bootstrap", h.BootstrapOne)
	r.Get("/{id}/info", h.BotInfo)
	r.Delete("/{id}", h.Delete)

	return r
}

// POST /v1/sessions/{id}/start
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.manager.StartSession(r.Context(), id); err != nil {
		log.Error().Err(err).Str("id", id).Msg("failed to start session")
		writeError(w, err)
		return
	}

	status, _ := h.manager.GetStatus(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"id":     id,
		"status": status,
	})
}

type codeRequest struct {
	Phone string `json:"phone"`
}

// POST /v1/sessions/{id}/code
func (h *SessionHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req codeRequest
	if r.Body != nil {
		// Body is optional; the path id doubles as the phone number.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Phone == "" {
		req.Phone = r.URL.Query().Get("phone")
	}

	result := h.manager.RequestCode(r.Context(), id, req.Phone)
	writeJSON(w, http.StatusOK, result)
}

// GET /v1/sessions/{id}/status
func (h *SessionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := h.manager.GetStatus(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"id":     id,
		"status": status,
	})
}

// POST /v1/sessions/{id}/reset
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.manager.Reset(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// DELETE /v1/sessions/{id}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result := h.manager.DeleteByNumber(id)
	writeJSON(w, http.StatusOK, result)
}

// GET /v1/sessions/{id}/info
func (h *SessionHandler) BotInfo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	info := h.manager.BotInfo(r.Context(), id)
	writeJSON(w, http.StatusOK, info)
}

// GET /v1/sessions/active
func (h *SessionHandler) ActiveBots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.ActiveBots())
}

// POST /v1/sessions/bootstrap
func (h *SessionHandler) BootstrapAll(w http.ResponseWriter, r *http.Request) {
	ids, err := h.manager.BootstrapAll(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("bootstrap failed")
		writeError(w, apperrors.Internal("bootstrap failed").WithCause(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"count": len(ids),
		"ids":   ids,
	})
}

// POST /v1/sessions/{id}/bootstrap
func (h *SessionHandler) BootstrapOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result := h.manager.BootstrapOne(r.Context(), id)
	writeJSON(w, http.StatusOK, result)
}

type executeRequest struct {
	Target string   `json:"target"`
	Method string   `json:"method"`
	Args   []string `json:"args"`
}

// POST /v1/sessions/execute
func (h *SessionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Validation("invalid request body"))
		return
	}
	if req.Target == "" || req.Method == "" {
		writeError(w, apperrors.Validation("target and method are required"))
		return
	}

	result := h.manager.Execute(r.Context(), req.Target, req.Method, req.Args...)
	writeJSON(w, http.StatusOK, result)
}

// GET /v1/sessions/commands
func (h *SessionHandler) Commands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"commands": manager.Commands(),
	})
}
