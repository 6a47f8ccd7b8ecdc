package bot

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"autotrade/internal/models"
	"autotrade/internal/repository"
	"autotrade/pkg/utils"
)

// ============================================================================
// ИНИЦИАЛИЗАЦИЯ И ВОССТАНОВЛЕНИЕ
// ============================================================================

// Initialize загружает сохранённое состояние, при необходимости проводит
// восстановление после сбоя и переводит приложение в RUNNING.
//
// Восстановление запускается, если предыдущий процесс завершился в ERROR
// или STOPPING (упал посреди остановки), либо если в хранилище остались
// активные торговые сессии. Ошибки восстановления переводят приложение
// в ERROR; торговля в этом случае не запускается.
func (m *StateManager) Initialize(ctx context.Context) error {
	prevState := m.loadPersistedState()

	if ok := m.TransitionTo(ctx, models.StateStarting, "Process start", nil); !ok {
		return fmt.Errorf("transition to %s failed", models.StateStarting)
	}

	needed, why := m.recoveryNeeded(prevState)
	if needed {
		m.log.Warn("Previous session ended abnormally, starting recovery",
			utils.String("previous_state", prevState),
			utils.Reason(why))
		if err := m.runRecovery(ctx, why); err != nil {
			m.TransitionTo(ctx, models.StateError, "Recovery failed: "+err.Error(), nil)
			return fmt.Errorf("recovery: %w", err)
		}
	}

	if ok := m.TransitionTo(ctx, models.StateRunning, "Initialization completed", nil); !ok {
		return fmt.Errorf("transition to %s failed", models.StateRunning)
	}

	m.startBackgroundLoops(ctx)
	m.log.Info("State manager initialized",
		utils.Int("restart_count", m.StateInfo().RestartCount))
	return nil
}

// loadPersistedState подхватывает запись состояния предыдущего процесса.
// Возвращает состояние, в котором завершился предыдущий процесс
// (пустая строка при чистом старте).
func (m *StateManager) loadPersistedState() string {
	prev, err := m.repo.LoadStateInfo()
	if err != nil {
		if !errors.Is(err, repository.ErrStateNotFound) {
			m.log.Warn("Failed to load persisted state, starting clean", utils.Err(err))
		}
		return ""
	}

	prevState := prev.CurrentState

	m.mu.Lock()
	m.stateInfo = prev.Clone()
	m.stateInfo.RestartCount++
	m.stateInfo.UptimeSeconds = 0
	m.stateInfo.SessionStartTime = time.Now()
	m.stateInfo.SafeShutdownRequested = false
	m.stateInfo.EmergencyStopActive = false
	m.stateInfo.TradingActive = false
	m.mu.Unlock()

	m.log.Info("Persisted state loaded",
		utils.String("previous_state", prevState),
		utils.Int("restart_count", prev.RestartCount+1))
	return prevState
}

// recoveryNeeded решает, требуется ли восстановление
func (m *StateManager) recoveryNeeded(prevState string) (bool, string) {
	if prevState == models.StateError {
		return true, "previous process ended in ERROR"
	}
	if prevState == models.StateStopping {
		return true, "previous process crashed during shutdown"
	}

	active, err := m.repo.ListSessions(true)
	if err != nil {
		m.log.Warn("Failed to list active sessions", utils.Err(err))
		return false, ""
	}
	if len(active) > 0 {
		return true, fmt.Sprintf("%d active trading sessions left behind", len(active))
	}
	return false, ""
}

// runRecovery выполняет восстановление из лучшего доступного снапшота.
//
// Кандидаты упорядочены по срочности (приоритет по возрастанию, при
// равенстве новее - раньше); берётся первый. Отсутствие кандидатов -
// не ошибка: выполняется чистый старт. Ошибки отдельных обработчиков
// восстановления логируются и не прерывают процесс.
func (m *StateManager) runRecovery(ctx context.Context, reason string) error {
	if ok := m.TransitionTo(ctx, models.StateRecovery, "Recovery: "+reason, nil); !ok {
		return fmt.Errorf("transition to %s failed", models.StateRecovery)
	}
	atomic.AddInt64(&m.recoveryAttempts, 1)
	recoveryAttemptsTotal.Inc()

	candidates, err := m.repo.GetRecoveryCandidates()
	if err != nil {
		return fmt.Errorf("list recovery candidates: %w", err)
	}
	if len(candidates) == 0 {
		m.log.Info("No recovery candidates found, continuing with clean start")
		return nil
	}

	candidate := candidates[0]
	m.log.Info("Recovery candidate selected",
		utils.SnapshotID(candidate.SnapshotID),
		utils.Int("priority", candidate.RecoveryPriority),
		utils.Any("created_at", candidate.CreatedAt))

	snapshot, err := m.repo.GetSnapshot(candidate.SnapshotID)
	if err != nil {
		return fmt.Errorf("load snapshot %s: %w", candidate.SnapshotID, err)
	}

	restored := m.restoreSessions(snapshot)

	m.mu.Lock()
	handlers := make([]RecoveryHandler, len(m.recoveryHandlers))
	copy(handlers, m.recoveryHandlers)
	m.mu.Unlock()
	for i, h := range handlers {
		if err := h(ctx, snapshot); err != nil {
			m.log.Error("Recovery handler failed",
				utils.Int("handler", i),
				utils.SnapshotID(snapshot.SnapshotID),
				utils.Err(err))
		}
	}

	m.notify(&models.Notification{
		Timestamp: time.Now(),
		Type:      models.NotificationTypeRecovery,
		Severity:  models.SeverityWarn,
		Message: fmt.Sprintf("Recovered from snapshot %s: %d sessions restored",
			snapshot.SnapshotID, restored),
	})

	m.log.Info("Recovery completed",
		utils.SnapshotID(snapshot.SnapshotID),
		utils.Int("sessions_restored", restored))
	return nil
}

// restoreSessions возвращает активные сессии из снапшота в рабочий набор
func (m *StateManager) restoreSessions(snapshot *models.SystemSnapshot) int {
	restored := 0
	for _, s := range snapshot.TradingSessions {
		if s == nil || !s.IsActive {
			continue
		}
		session := s.Clone()
		session.LastActivityTimestamp = time.Now()

		m.mu.Lock()
		m.sessions[session.SessionID] = session
		m.stateInfo.TradingActive = true
		m.mu.Unlock()

		if err := m.repo.SaveSession(session); err != nil {
			m.log.Warn("Failed to persist restored session",
				utils.SessionID(session.SessionID),
				utils.Err(err))
		}
		restored++
	}

	m.mu.Lock()
	active := m.activeSessionCountLocked()
	m.mu.Unlock()
	activeSessionsGauge.Set(float64(active))
	return restored
}
