package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"autotrade/internal/models"
	"autotrade/internal/repository"
)

// ============================================================
// Тесты снапшотов
// ============================================================

func seedDeals(t *testing.T, repo *repository.MemoryDealRepository, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		deal := &models.Deal{
			DealID:       "deal-" + string(rune('a'+i)),
			CurrencyPair: "BTC/USDT",
			Status:       models.DealStatusOpen,
			BuyOrder: &models.Order{
				OrderID:      "buy-" + string(rune('a'+i)),
				Side:         models.OrderSideBuy,
				Price:        100,
				Amount:       1,
				FilledAmount: 1,
				Status:       models.OrderStatusFilled,
			},
			SellOrder: &models.Order{
				OrderID: "sell-" + string(rune('a'+i)),
				Side:    models.OrderSideSell,
				Price:   110,
				Amount:  1,
				Status:  models.OrderStatusOpen,
			},
			CreatedAt: time.Now(),
		}
		if err := repo.Save(deal); err != nil {
			t.Fatalf("Save deal: %v", err)
		}
	}
}

func TestCreateSystemSnapshot_RoundTrip(t *testing.T) {
	m, stateRepo := newTestManager(t)
	dealRepo := repository.NewMemoryDealRepository()
	seedDeals(t, dealRepo, 3)
	m.SetDealRepository(dealRepo)
	m.SetOrderRepository(dealRepo)

	id := m.CreateSystemSnapshot(context.Background(), models.SnapshotTypeManual)
	if id == "" {
		t.Fatal("CreateSystemSnapshot returned empty id")
	}
	if !strings.HasPrefix(id, models.SnapshotTypeManual) {
		t.Errorf("snapshot id %q must start with its type", id)
	}

	loaded, err := stateRepo.GetSnapshot(id)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if len(loaded.ActiveDeals) != 3 {
		t.Errorf("ActiveDeals = %d, want 3", len(loaded.ActiveDeals))
	}
	// У каждой сделки открыт лимитный sell
	if len(loaded.PendingOrders) != 3 {
		t.Errorf("PendingOrders = %d, want 3", len(loaded.PendingOrders))
	}
	if loaded.ApplicationState != models.StateStarting {
		t.Errorf("ApplicationState = %s, want %s", loaded.ApplicationState, models.StateStarting)
	}
	if loaded.SystemMetrics == nil {
		t.Error("SystemMetrics must be populated")
	}
}

func TestCreateSystemSnapshot_RecoveryPriority(t *testing.T) {
	tests := []struct {
		name          string
		withSession   bool
		inErrorState  bool
		wantPriority  int
	}{
		{"active trading", true, false, models.RecoveryPriorityActiveTrading},
		{"error state", false, true, models.RecoveryPriorityErrorState},
		{"normal", false, false, models.RecoveryPriorityNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, stateRepo := newTestManager(t)
			ctx := context.Background()

			if tt.withSession {
				if _, err := m.StartTradingSession("BTC/USDT", nil); err != nil {
					t.Fatalf("StartTradingSession: %v", err)
				}
			}
			if tt.inErrorState {
				m.TransitionTo(ctx, models.StateError, "test", nil)
			}

			id := m.CreateSystemSnapshot(ctx, models.SnapshotTypePeriodic)
			if id == "" {
				t.Fatal("CreateSystemSnapshot returned empty id")
			}

			ri, err := stateRepo.GetRecoveryInfo(id)
			if err != nil {
				t.Fatalf("GetRecoveryInfo: %v", err)
			}
			if ri.RecoveryPriority != tt.wantPriority {
				t.Errorf("RecoveryPriority = %d, want %d", ri.RecoveryPriority, tt.wantPriority)
			}
			if ri.ValidationStatus != models.ValidationPending {
				t.Errorf("ValidationStatus = %s, want %s", ri.ValidationStatus, models.ValidationPending)
			}
		})
	}
}

func TestCreateSystemSnapshot_StorageFailureReturnsEmpty(t *testing.T) {
	repo := &failingStateRepo{StateRepository: repository.NewMemoryStateRepository()}
	m := NewStateManager(testStateConfig(), repo, testLogger())

	if id := m.CreateSystemSnapshot(context.Background(), models.SnapshotTypePeriodic); id != "" {
		t.Errorf("expected empty id on storage failure, got %q", id)
	}
}

func TestConfigChecksum_StableAndSecretFree(t *testing.T) {
	m, _ := newTestManager(t)

	m.SetConfigProvider(fakeConfigProvider{
		"db.host":  "localhost",
		"sl.tier1": "5",
	})

	first := m.configChecksum()
	second := m.configChecksum()
	if first == "" {
		t.Fatal("checksum must not be empty with a provider")
	}
	if first != second {
		t.Error("checksum must be deterministic for identical config")
	}

	m.SetConfigProvider(fakeConfigProvider{
		"db.host":  "localhost",
		"sl.tier1": "10",
	})
	if third := m.configChecksum(); third == first {
		t.Error("checksum must change when config changes")
	}
}

type fakeConfigProvider map[string]string

func (f fakeConfigProvider) GetAllConfigs(includeSecrets bool) (map[string]string, error) {
	return f, nil
}
