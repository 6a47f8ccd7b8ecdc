package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"autotrade/internal/bot"
	"autotrade/internal/models"
	"autotrade/internal/repository"
)

// SessionHandler обслуживает endpoints торговых сессий
type SessionHandler struct {
	manager *bot.StateManager
	repo    repository.StateRepository
}

// NewSessionHandler создаёт handler сессий
func NewSessionHandler(manager *bot.StateManager, repo repository.StateRepository) *SessionHandler {
	return &SessionHandler{manager: manager, repo: repo}
}

// List - GET /api/v1/sessions?active=true
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	sessions, err := h.repo.ListSessions(activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "STORAGE_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Data: sessions})
}

// startSessionRequest - тело запроса на запуск сессии
type startSessionRequest struct {
	CurrencyPair string                 `json:"currency_pair"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Start - POST /api/v1/sessions
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "BAD_BODY")
		return
	}
	if req.CurrencyPair == "" {
		writeError(w, http.StatusBadRequest, "currency_pair is required", "BAD_BODY")
		return
	}
	if h.manager.CurrentState() != models.StateRunning {
		writeError(w, http.StatusConflict, "trading sessions require RUNNING state", "NOT_RUNNING")
		return
	}

	sessionID, err := h.manager.StartTradingSession(req.CurrencyPair, req.Metadata)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "SESSION_ERROR")
		return
	}
	writeJSON(w, http.StatusCreated, SuccessResponse{
		Message: "trading session started",
		Data:    map[string]string{"session_id": sessionID},
	})
}

// Stop - POST /api/v1/sessions/{id}/stop
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.manager.StopTradingSession(id, "stopped via API"); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error(), "SESSION_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Message: "trading session stopped"})
}
