package bot

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"

	"autotrade/internal/models"
	"autotrade/pkg/utils"
)

// ============================================================================
// СНАПШОТЫ СИСТЕМЫ
// ============================================================================

// CreateSystemSnapshot собирает и сохраняет снимок текущего состояния.
//
// Возвращает идентификатор снапшота, либо пустую строку при ошибке
// сохранения. Никогда не паникует и не возвращает ошибку: снапшоты
// вызываются из путей остановки, где отказ хранилища не должен
// прерывать процесс.
func (m *StateManager) CreateSystemSnapshot(ctx context.Context, snapshotType string) string {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Panic during snapshot creation", utils.Any("panic", r))
		}
	}()

	started := time.Now()
	snapshotID := fmt.Sprintf("%s_%d_%s", snapshotType, started.UnixMilli(), uuid.NewString()[:8])

	m.mu.Lock()
	appState := m.stateInfo.CurrentState
	var errInfo *models.ErrorInfo
	if m.stateInfo.LastError != nil {
		cp := *m.stateInfo.LastError
		errInfo = &cp
	}
	sessions := make([]*models.TradingSessionState, 0, len(m.sessions))
	activeSessions := 0
	for _, s := range m.sessions {
		sessions = append(sessions, s.Clone())
		if s.IsActive {
			activeSessions++
		}
	}
	m.mu.Unlock()

	// Стабильный порядок сессий в снапшоте
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].SessionID < sessions[j].SessionID
	})

	var deals []*models.Deal
	if m.dealsRepo != nil {
		var err error
		deals, err = m.dealsRepo.GetActiveDeals()
		if err != nil {
			m.log.Warn("Failed to collect active deals for snapshot", utils.Err(err))
			deals = nil
		}
	}

	var orders []*models.Order
	if m.ordersRepo != nil {
		var err error
		orders, err = m.ordersRepo.GetOpenOrders()
		if err != nil {
			m.log.Warn("Failed to collect open orders for snapshot", utils.Err(err))
			orders = nil
		}
	}

	snapshot := &models.SystemSnapshot{
		SnapshotID:       snapshotID,
		Timestamp:        started,
		ApplicationState: appState,
		TradingSessions:  sessions,
		ActiveDeals:      deals,
		PendingOrders:    orders,
		SystemMetrics:    m.collectSystemMetrics(activeSessions),
		ConfigChecksum:   m.configChecksum(),
		ErrorInfo:        errInfo,
	}

	if err := m.repo.SaveSnapshot(snapshot); err != nil {
		m.log.Error("Failed to persist system snapshot",
			utils.SnapshotID(snapshotID),
			utils.String("type", snapshotType),
			utils.Err(err))
		return ""
	}

	// Метаданные восстановления: активная торговля срочнее всего,
	// снапшот в ERROR - наименее предпочтительный кандидат
	priority := models.RecoveryPriorityNormal
	notes := "normal operation snapshot"
	switch {
	case activeSessions > 0:
		priority = models.RecoveryPriorityActiveTrading
		notes = fmt.Sprintf("snapshot with %d active trading sessions", activeSessions)
	case appState == models.StateError:
		priority = models.RecoveryPriorityErrorState
		notes = "snapshot taken in ERROR state"
	}

	recoveryInfo := &models.RecoveryInfo{
		SnapshotID:         snapshotID,
		CreatedAt:          started,
		ApplicationVersion: m.cfg.AppVersion,
		RecoveryPriority:   priority,
		RecoveryNotes:      notes,
		ValidationStatus:   models.ValidationPending,
		Metadata: map[string]interface{}{
			"snapshot_type":   snapshotType,
			"active_sessions": activeSessions,
		},
	}
	if err := m.repo.SaveRecoveryInfo(recoveryInfo); err != nil {
		// Снапшот уже сохранён, поэтому идентификатор возвращаем
		m.log.Warn("Failed to persist recovery info",
			utils.SnapshotID(snapshotID),
			utils.Err(err))
	}

	atomic.AddInt64(&m.snapshotCount, 1)
	snapshotsCreatedTotal.WithLabelValues(snapshotType).Inc()
	snapshotDuration.Observe(time.Since(started).Seconds())

	m.log.Info("System snapshot created",
		utils.SnapshotID(snapshotID),
		utils.String("type", snapshotType),
		utils.Int("sessions", len(sessions)),
		utils.Int("deals", len(deals)))
	return snapshotID
}

// collectSystemMetrics собирает метрики процесса для снапшота
func (m *StateManager) collectSystemMetrics(activeSessions int) map[string]interface{} {
	metrics := map[string]interface{}{
		"uptime_seconds":    int64(time.Since(m.startTime).Seconds()),
		"transitions_total": atomic.LoadInt64(&m.transitionCount),
		"snapshots_total":   atomic.LoadInt64(&m.snapshotCount),
		"recovery_attempts": atomic.LoadInt64(&m.recoveryAttempts),
		"active_sessions":   activeSessions,
		"goroutines":        runtime.NumGoroutine(),
	}

	// RSS процесса; недоступность /proc не срывает снапшот
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			metrics["memory_rss_bytes"] = mem.RSS
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			metrics["cpu_percent"] = cpu
		}
	}
	return metrics
}

// configChecksum считает SHA-256 от отсортированного плоского представления
// конфигурации (без секретов). Используется при восстановлении для
// обнаружения изменившейся конфигурации.
func (m *StateManager) configChecksum() string {
	if m.configs == nil {
		return ""
	}
	flat, err := m.configs.GetAllConfigs(false)
	if err != nil {
		m.log.Warn("Failed to collect config for checksum", utils.Err(err))
		return ""
	}

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(flat[k])
		sb.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return fmt.Sprintf("%x", sum)
}
