package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"autotrade/internal/bot"
	"autotrade/internal/models"
	"autotrade/internal/repository"
)

// StateHandler обслуживает endpoints жизненного цикла приложения
type StateHandler struct {
	manager *bot.StateManager
	repo    repository.StateRepository
}

// NewStateHandler создаёт handler состояния
func NewStateHandler(manager *bot.StateManager, repo repository.StateRepository) *StateHandler {
	return &StateHandler{manager: manager, repo: repo}
}

// Health - GET /health
// Живость процесса: 200 пока HTTP сервер отвечает
func (h *StateHandler) Health(w http.ResponseWriter, r *http.Request) {
	state := h.manager.CurrentState()
	status := http.StatusOK
	if state == models.StateError {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status": "ok",
		"state":  state,
	})
}

// Status - GET /api/v1/status
// Полная запись состояния плюс счётчики менеджера
func (h *StateHandler) Status(w http.ResponseWriter, r *http.Request) {
	info := h.manager.StateInfo()
	writeJSON(w, http.StatusOK, SuccessResponse{
		Data: map[string]interface{}{
			"state_info":  info,
			"description": models.StateDescription(info.CurrentState),
			"stats":       h.manager.Stats(),
		},
	})
}

// Pause - POST /api/v1/control/pause
// Приостановка торговли: RUNNING -> PAUSING -> PAUSED
func (h *StateHandler) Pause(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.manager.TransitionTo(ctx, models.StatePausing, "Pause requested via API", nil) {
		writeError(w, http.StatusConflict, "transition to PAUSING rejected", "TRANSITION_REJECTED")
		return
	}
	if !h.manager.TransitionTo(ctx, models.StatePaused, "Trading paused", nil) {
		writeError(w, http.StatusConflict, "transition to PAUSED rejected", "TRANSITION_REJECTED")
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Message: "trading paused"})
}

// Resume - POST /api/v1/control/resume
func (h *StateHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if !h.manager.TransitionTo(r.Context(), models.StateRunning, "Resume requested via API", nil) {
		writeError(w, http.StatusConflict, "transition to RUNNING rejected", "TRANSITION_REJECTED")
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Message: "trading resumed"})
}

// Shutdown - POST /api/v1/control/shutdown
// Запускает плавную остановку в фоне и сразу отвечает.
// Контекст запроса не используется: он закроется раньше остановки.
func (h *StateHandler) Shutdown(w http.ResponseWriter, r *http.Request) {
	go h.manager.RequestGracefulShutdown(context.Background(), models.ShutdownUserRequest)
	writeJSON(w, http.StatusAccepted, SuccessResponse{Message: "graceful shutdown started"})
}

// Transitions - GET /api/v1/transitions?from=RFC3339&to=RFC3339&limit=N
// Журнал переходов, новые первыми
func (h *StateHandler) Transitions(w http.ResponseWriter, r *http.Request) {
	from, to, limit, err := parseRangeQuery(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BAD_QUERY")
		return
	}

	transitions, err := h.repo.ListTransitions(from, to, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "STORAGE_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Data: transitions})
}

// parseRangeQuery разбирает общие параметры from/to/limit
func parseRangeQuery(r *http.Request, defaultLimit int) (time.Time, time.Time, int, error) {
	var from, to time.Time
	q := r.URL.Query()

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, 0, err
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, 0, err
		}
		to = t
	}

	limit := defaultLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return from, to, 0, errInvalidLimit
		}
		limit = n
	}
	return from, to, limit, nil
}
