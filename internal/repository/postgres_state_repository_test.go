package repository

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"autotrade/internal/models"
)

// ============================================================
// PostgresStateRepository Tests
// ============================================================

func TestNewPostgresStateRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewPostgresStateRepository(db)
	if repo == nil {
		t.Fatal("NewPostgresStateRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestPostgresSaveStateInfo(t *testing.T) {
	tests := []struct {
		name        string
		info        *models.ApplicationStateInfo
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "upsert success",
			info: &models.ApplicationStateInfo{
				CurrentState:  models.StateRunning,
				PreviousState: models.StateStarting,
				RestartCount:  2,
				TradingActive: true,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO app_state`).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			expectError: false,
		},
		{
			name: "database error",
			info: models.NewApplicationStateInfo(),
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO app_state`).
					WillReturnError(errors.New("connection refused"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewPostgresStateRepository(db)
			err = repo.SaveStateInfo(tt.info)

			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPostgresLoadStateInfo(t *testing.T) {
	now := time.Now()
	stateColumns := []string{
		"current_state", "previous_state", "state_changed_at", "uptime_seconds",
		"restart_count", "last_shutdown_reason", "last_error", "trading_active",
		"maintenance_mode", "safe_shutdown_requested", "emergency_stop_active",
		"session_start_time", "deals_processed", "orders_processed", "errors_count",
	}

	tests := []struct {
		name          string
		mockSetup     func(mock sqlmock.Sqlmock)
		wantState     string
		wantLastError bool
		wantErr       error
	}{
		{
			name: "state with last error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				errJSON, _ := json.Marshal(&models.ErrorInfo{
					Message:   "exchange timeout",
					Component: "connector",
				})
				rows := sqlmock.NewRows(stateColumns).
					AddRow(models.StateError, models.StateRunning, now.UnixMilli(), int64(3600),
						1, models.ShutdownError, errJSON, false,
						false, false, true, now, int64(10), int64(20), int64(3))
				mock.ExpectQuery(`SELECT .+ FROM app_state WHERE id = 1`).
					WillReturnRows(rows)
			},
			wantState:     models.StateError,
			wantLastError: true,
		},
		{
			name: "clean state without error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(stateColumns).
					AddRow(models.StateStopped, models.StateStopping, now.UnixMilli(), int64(0),
						0, models.ShutdownGraceful, nil, false,
						false, false, false, now, int64(0), int64(0), int64(0))
				mock.ExpectQuery(`SELECT .+ FROM app_state WHERE id = 1`).
					WillReturnRows(rows)
			},
			wantState: models.StateStopped,
		},
		{
			name: "no persisted state",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM app_state WHERE id = 1`).
					WillReturnError(sql.ErrNoRows)
			},
			wantErr: ErrStateNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewPostgresStateRepository(db)
			info, err := repo.LoadStateInfo()

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if info.CurrentState != tt.wantState {
				t.Errorf("CurrentState = %s, want %s", info.CurrentState, tt.wantState)
			}
			if tt.wantLastError {
				if info.LastError == nil || info.LastError.Message != "exchange timeout" {
					t.Errorf("LastError = %+v, want unmarshalled error info", info.LastError)
				}
			} else if info.LastError != nil {
				t.Errorf("LastError = %+v, want nil", info.LastError)
			}
		})
	}
}

func TestPostgresSnapshotRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	sessions, _ := json.Marshal([]*models.TradingSessionState{
		{SessionID: "s1", CurrencyPair: "BTC/USDT", IsActive: true},
	})
	deals, _ := json.Marshal([]*models.Deal{{DealID: "d1", Status: models.DealStatusOpen}})

	rows := sqlmock.NewRows([]string{
		"snapshot_id", "timestamp", "application_state", "trading_sessions",
		"active_deals", "pending_orders", "system_metrics", "config_checksum", "error_info",
	}).AddRow("pre_shutdown_1_abc", now, models.StateStopping, sessions, deals, []byte("[]"), nil, "cafe01", nil)

	mock.ExpectQuery(`SELECT .+ FROM system_snapshots WHERE snapshot_id = \$1`).
		WithArgs("pre_shutdown_1_abc").
		WillReturnRows(rows)

	repo := NewPostgresStateRepository(db)
	snapshot, err := repo.GetSnapshot("pre_shutdown_1_abc")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}

	if snapshot.ApplicationState != models.StateStopping {
		t.Errorf("ApplicationState = %s, want %s", snapshot.ApplicationState, models.StateStopping)
	}
	if len(snapshot.TradingSessions) != 1 || snapshot.TradingSessions[0].SessionID != "s1" {
		t.Errorf("TradingSessions not unmarshalled: %+v", snapshot.TradingSessions)
	}
	if len(snapshot.ActiveDeals) != 1 || snapshot.ActiveDeals[0].DealID != "d1" {
		t.Errorf("ActiveDeals not unmarshalled: %+v", snapshot.ActiveDeals)
	}
	if snapshot.ConfigChecksum != "cafe01" {
		t.Errorf("ConfigChecksum = %s, want cafe01", snapshot.ConfigChecksum)
	}
}

func TestPostgresGetSnapshotNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM system_snapshots WHERE snapshot_id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	repo := NewPostgresStateRepository(db)
	if _, err := repo.GetSnapshot("missing"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("err = %v, want ErrSnapshotNotFound", err)
	}
}

func TestPostgresGetRecoveryCandidates(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"snapshot_id", "created_at", "application_version", "recovery_priority",
		"recovery_notes", "validation_status", "metadata",
	}).
		AddRow("snap_fresh", now, "1.0.0", 1, "active trading", models.ValidationPending, nil).
		AddRow("snap_old", now.Add(-time.Hour), "1.0.0", 1, "active trading", models.ValidationPending, nil).
		AddRow("snap_err", now, "1.0.0", 5, "error state", models.ValidationPending, nil)

	// Порядок задаёт SQL: приоритет по возрастанию, свежие раньше
	mock.ExpectQuery(`SELECT .+ FROM recovery_info ORDER BY recovery_priority ASC, created_at DESC`).
		WillReturnRows(rows)

	repo := NewPostgresStateRepository(db)
	candidates, err := repo.GetRecoveryCandidates()
	if err != nil {
		t.Fatalf("GetRecoveryCandidates: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("candidates = %d, want 3", len(candidates))
	}
	if candidates[0].SnapshotID != "snap_fresh" {
		t.Errorf("top candidate = %s, want snap_fresh", candidates[0].SnapshotID)
	}
}

func TestPostgresSaveTransition(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO state_transitions`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	repo := NewPostgresStateRepository(db)
	tr := &models.StateTransition{
		FromState: models.StateRunning,
		ToState:   models.StateStopping,
		Timestamp: time.Now(),
		Reason:    "user_request",
		Success:   true,
	}
	if err := repo.SaveTransition(tr); err != nil {
		t.Fatalf("SaveTransition: %v", err)
	}
	if tr.ID != 42 {
		t.Errorf("ID = %d, want 42 from RETURNING", tr.ID)
	}
}

func TestPostgresCleanup(t *testing.T) {
	tests := []struct {
		name      string
		mockSetup func(mock sqlmock.Sqlmock)
		run       func(repo *PostgresStateRepository) (int64, error)
		want      int64
	}{
		{
			name: "snapshots with linked recovery info",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`DELETE FROM recovery_info WHERE created_at < \$1`).
					WillReturnResult(sqlmock.NewResult(0, 4))
				mock.ExpectExec(`DELETE FROM system_snapshots WHERE timestamp < \$1`).
					WillReturnResult(sqlmock.NewResult(0, 4))
			},
			run:  func(repo *PostgresStateRepository) (int64, error) { return repo.CleanupOldSnapshots(7) },
			want: 4,
		},
		{
			name: "transitions",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`DELETE FROM state_transitions WHERE timestamp < \$1`).
					WillReturnResult(sqlmock.NewResult(0, 17))
			},
			run:  func(repo *PostgresStateRepository) (int64, error) { return repo.CleanupOldTransitions(30) },
			want: 17,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewPostgresStateRepository(db)
			removed, err := tt.run(repo)
			if err != nil {
				t.Fatalf("cleanup: %v", err)
			}
			if removed != tt.want {
				t.Errorf("removed = %d, want %d", removed, tt.want)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPostgresSaveSessionUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO trading_sessions`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresStateRepository(db)
	err = repo.SaveSession(&models.TradingSessionState{
		SessionID:      "s1",
		CurrencyPair:   "BTC/USDT",
		IsActive:       true,
		StartTimestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
