package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"autotrade/internal/bot"
	"autotrade/internal/config"
	"autotrade/internal/models"
	"autotrade/pkg/utils"
)

// ============ SnapshotHandler Tests ============

func TestSnapshotHandler_CreateAndGet(t *testing.T) {
	manager, repo := newTestStateManager()
	handler := NewSnapshotHandler(manager, repo)

	w := httptest.NewRecorder()
	handler.Create(w, httptest.NewRequest(http.MethodPost, "/api/v1/snapshots", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected status %d, got %d", http.StatusCreated, w.Code)
	}
	body := decodeBody(t, w)
	data := body["data"].(map[string]interface{})
	snapshotID, _ := data["snapshot_id"].(string)
	if snapshotID == "" {
		t.Fatal("create must return the snapshot id")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/snapshots/"+snapshotID, nil)
	req = mux.SetURLVars(req, map[string]string{"id": snapshotID})
	w = httptest.NewRecorder()
	handler.Get(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("get: expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestSnapshotHandler_GetNotFound(t *testing.T) {
	manager, repo := newTestStateManager()
	handler := NewSnapshotHandler(manager, repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/snapshots/missing", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "missing"})
	w := httptest.NewRecorder()
	handler.Get(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestSnapshotHandler_RecoveryCandidates(t *testing.T) {
	manager, repo := newTestStateManager()
	handler := NewSnapshotHandler(manager, repo)

	// Два снапшота: приоритеты normal и error
	w := httptest.NewRecorder()
	handler.Create(w, httptest.NewRequest(http.MethodPost, "/api/v1/snapshots", nil))
	manager.TransitionTo(context.Background(), models.StateError, "test", nil)
	w = httptest.NewRecorder()
	handler.Create(w, httptest.NewRequest(http.MethodPost, "/api/v1/snapshots", nil))

	w = httptest.NewRecorder()
	handler.RecoveryCandidates(w, httptest.NewRequest(http.MethodGet, "/api/v1/recovery/candidates", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	body := decodeBody(t, w)
	data, ok := body["data"].([]interface{})
	if !ok || len(data) != 2 {
		t.Fatalf("expected 2 candidates, got %v", body["data"])
	}
	// Приоритет по возрастанию: normal (3) раньше error (5)
	first := data[0].(map[string]interface{})
	if first["recovery_priority"].(float64) != float64(models.RecoveryPriorityNormal) {
		t.Errorf("top candidate priority = %v, want %d", first["recovery_priority"], models.RecoveryPriorityNormal)
	}
}

// ============ SessionHandler Tests ============

func TestSessionHandler_StartStop(t *testing.T) {
	manager, repo := newTestStateManager()
	manager.TransitionTo(context.Background(), models.StateRunning, "test", nil)
	handler := NewSessionHandler(manager, repo)

	reqBody := []byte(`{"currency_pair":"BTC/USDT"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()
	handler.Start(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("start: expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	data := body["data"].(map[string]interface{})
	sessionID, _ := data["session_id"].(string)
	if sessionID == "" {
		t.Fatal("start must return the session id")
	}

	stopReq := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+sessionID+"/stop", nil)
	stopReq = mux.SetURLVars(stopReq, map[string]string{"id": sessionID})
	w = httptest.NewRecorder()
	handler.Stop(w, stopReq)

	if w.Code != http.StatusOK {
		t.Fatalf("stop: expected status %d, got %d", http.StatusOK, w.Code)
	}

	sessions, err := repo.ListSessions(true)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("active sessions after stop = %d, want 0", len(sessions))
	}
}

func TestSessionHandler_StartValidation(t *testing.T) {
	tests := []struct {
		name       string
		running    bool
		body       string
		wantStatus int
	}{
		{"rejects when not running", false, `{"currency_pair":"BTC/USDT"}`, http.StatusConflict},
		{"rejects empty pair", true, `{}`, http.StatusBadRequest},
		{"rejects malformed body", true, `{not json`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, repo := newTestStateManager()
			if tt.running {
				manager.TransitionTo(context.Background(), models.StateRunning, "test", nil)
			}
			handler := NewSessionHandler(manager, repo)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader([]byte(tt.body)))
			w := httptest.NewRecorder()
			handler.Start(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestSessionHandler_StopUnknown(t *testing.T) {
	manager, repo := newTestStateManager()
	handler := NewSessionHandler(manager, repo)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/ghost/stop", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "ghost"})
	w := httptest.NewRecorder()
	handler.Stop(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

// ============ StopLossHandler Tests ============

func TestStopLossHandler_Stats(t *testing.T) {
	log := utils.InitLogger(utils.LogConfig{Level: "error"})
	monitor := bot.NewStopLossMonitor(config.StopLossConfig{}, nil, nil, nil, nil, log)
	handler := NewStopLossHandler(monitor)

	w := httptest.NewRecorder()
	handler.Stats(w, httptest.NewRequest(http.MethodGet, "/api/v1/stoploss/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	body := decodeBody(t, w)
	data, ok := body["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing data envelope: %v", body)
	}
	if _, ok := data["checks_performed"]; !ok {
		t.Error("stats must include checks_performed")
	}

	w = httptest.NewRecorder()
	handler.ResetWarnings(w, httptest.NewRequest(http.MethodPost, "/api/v1/stoploss/reset-warnings", nil))
	if w.Code != http.StatusOK {
		t.Errorf("reset: expected status %d, got %d", http.StatusOK, w.Code)
	}
}
