package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"autotrade/internal/bot"
	"autotrade/internal/models"
	"autotrade/internal/repository"
)

// SnapshotHandler обслуживает endpoints снапшотов и восстановления
type SnapshotHandler struct {
	manager *bot.StateManager
	repo    repository.StateRepository
}

// NewSnapshotHandler создаёт handler снапшотов
func NewSnapshotHandler(manager *bot.StateManager, repo repository.StateRepository) *SnapshotHandler {
	return &SnapshotHandler{manager: manager, repo: repo}
}

// List - GET /api/v1/snapshots?from=&to=&limit=
func (h *SnapshotHandler) List(w http.ResponseWriter, r *http.Request) {
	from, to, limit, err := parseRangeQuery(r, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BAD_QUERY")
		return
	}

	snapshots, err := h.repo.ListSnapshots(from, to, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "STORAGE_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Data: snapshots})
}

// Get - GET /api/v1/snapshots/{id}
func (h *SnapshotHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	snapshot, err := h.repo.GetSnapshot(id)
	if err != nil {
		if errors.Is(err, repository.ErrSnapshotNotFound) {
			writeError(w, http.StatusNotFound, "snapshot not found", "NOT_FOUND")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error(), "STORAGE_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Data: snapshot})
}

// Create - POST /api/v1/snapshots
// Создаёт снапшот вручную (тип manual)
func (h *SnapshotHandler) Create(w http.ResponseWriter, r *http.Request) {
	id := h.manager.CreateSystemSnapshot(r.Context(), models.SnapshotTypeManual)
	if id == "" {
		writeError(w, http.StatusInternalServerError, "snapshot was not persisted", "SNAPSHOT_FAILED")
		return
	}
	writeJSON(w, http.StatusCreated, SuccessResponse{
		Message: "snapshot created",
		Data:    map[string]string{"snapshot_id": id},
	})
}

// RecoveryCandidates - GET /api/v1/recovery/candidates
// Кандидаты на восстановление в порядке срочности
func (h *SnapshotHandler) RecoveryCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.repo.GetRecoveryCandidates()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "STORAGE_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Data: candidates})
}
