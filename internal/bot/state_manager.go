package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"autotrade/internal/config"
	"autotrade/internal/models"
	"autotrade/internal/repository"
	"autotrade/pkg/utils"
)

// ============================================================================
// МЕНЕДЖЕР СОСТОЯНИЯ ПРИЛОЖЕНИЯ
// ============================================================================

// ConfigProvider отдаёт плоское представление конфигурации
// для расчёта контрольной суммы снапшота
type ConfigProvider interface {
	GetAllConfigs(includeSecrets bool) (map[string]string, error)
}

// StateManager - единственный владелец ApplicationStateInfo.
//
// Все переходы между состояниями, снапшоты, торговые сессии и процедуры
// остановки проходят через него. Переходы сериализуются мьютексом:
// одновременно выполняется не более одного перехода.
type StateManager struct {
	cfg  config.StateConfig
	log  *utils.Logger
	repo repository.StateRepository

	// Опциональные зависимости (nil = функциональность пропускается)
	dealsRepo  repository.DealRepository
	ordersRepo repository.OrderQueryRepository
	counters   repository.CounterRepository
	configs    ConfigProvider
	broadcast  EventBroadcaster

	mu        sync.Mutex
	stateInfo *models.ApplicationStateInfo
	sessions  map[string]*models.TradingSessionState

	preHandlers      map[string][]StateChangeHandler
	postHandlers     []PostTransitionHandler
	shutdownHandlers []ShutdownHandler
	recoveryHandlers []RecoveryHandler

	transitionCount  int64
	snapshotCount    int64
	recoveryAttempts int64

	notifications chan<- *models.Notification

	startTime    time.Time
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewStateManager создаёт менеджер состояния.
// Опциональные зависимости подключаются сеттерами до вызова Initialize.
func NewStateManager(cfg config.StateConfig, repo repository.StateRepository, log *utils.Logger) *StateManager {
	return &StateManager{
		cfg:         cfg,
		log:         log.WithComponent("state_manager"),
		repo:        repo,
		stateInfo:   models.NewApplicationStateInfo(),
		sessions:    make(map[string]*models.TradingSessionState),
		preHandlers: make(map[string][]StateChangeHandler),
		startTime:   time.Now(),
		shutdownCh:  make(chan struct{}),
	}
}

// SetDealRepository подключает источник активных сделок для снапшотов
func (m *StateManager) SetDealRepository(r repository.DealRepository) { m.dealsRepo = r }

// SetOrderRepository подключает источник открытых ордеров для снапшотов
func (m *StateManager) SetOrderRepository(r repository.OrderQueryRepository) { m.ordersRepo = r }

// SetCounterRepository подключает счётчики операций
func (m *StateManager) SetCounterRepository(r repository.CounterRepository) { m.counters = r }

// SetConfigProvider подключает источник конфигурации для контрольной суммы
func (m *StateManager) SetConfigProvider(p ConfigProvider) { m.configs = p }

// SetBroadcaster подключает рассылку событий (WebSocket hub)
func (m *StateManager) SetBroadcaster(b EventBroadcaster) { m.broadcast = b }

// SetNotificationChannel подключает канал уведомлений.
// Отправка неблокирующая: при переполнении уведомление отбрасывается.
func (m *StateManager) SetNotificationChannel(ch chan<- *models.Notification) { m.notifications = ch }

// ============================================================================
// РЕГИСТРАЦИЯ ОБРАБОТЧИКОВ
// ============================================================================

// OnStateChange регистрирует pre-обработчик для целевого состояния.
// Ошибка обработчика отменяет переход.
func (m *StateManager) OnStateChange(targetState string, h StateChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preHandlers[targetState] = append(m.preHandlers[targetState], h)
}

// OnTransition регистрирует post-обработчик, вызываемый после каждой
// успешной смены состояния
func (m *StateManager) OnTransition(h PostTransitionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postHandlers = append(m.postHandlers, h)
}

// OnShutdown регистрирует обработчик плавной остановки
func (m *StateManager) OnShutdown(h ShutdownHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownHandlers = append(m.shutdownHandlers, h)
}

// OnRecovery регистрирует обработчик восстановления из снапшота
func (m *StateManager) OnRecovery(h RecoveryHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoveryHandlers = append(m.recoveryHandlers, h)
}

// ============================================================================
// ДОСТУП К СОСТОЯНИЮ
// ============================================================================

// CurrentState возвращает текущее состояние жизненного цикла
func (m *StateManager) CurrentState() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateInfo.CurrentState
}

// StateInfo возвращает копию записи состояния
func (m *StateManager) StateInfo() *models.ApplicationStateInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := m.stateInfo.Clone()
	info.UptimeSeconds = int64(time.Since(m.startTime).Seconds())
	return info
}

// IsShutdownRequested сообщает, запрошена ли остановка.
// Рабочие циклы обязаны проверять флаг и завершаться добровольно.
func (m *StateManager) IsShutdownRequested() bool {
	select {
	case <-m.shutdownCh:
		return true
	default:
		return false
	}
}

// ShutdownChannel возвращает канал, закрываемый при запросе остановки
func (m *StateManager) ShutdownChannel() <-chan struct{} {
	return m.shutdownCh
}

// Stats возвращает счётчики работы менеджера
func (m *StateManager) Stats() map[string]interface{} {
	m.mu.Lock()
	activeSessions := m.activeSessionCountLocked()
	m.mu.Unlock()
	return map[string]interface{}{
		"transitions_total": atomic.LoadInt64(&m.transitionCount),
		"snapshots_total":   atomic.LoadInt64(&m.snapshotCount),
		"recovery_attempts": atomic.LoadInt64(&m.recoveryAttempts),
		"active_sessions":   activeSessions,
		"uptime_seconds":    int64(time.Since(m.startTime).Seconds()),
	}
}

// ============================================================================
// ПЕРЕХОДЫ
// ============================================================================

// TransitionTo выполняет переход в новое состояние.
//
// Переход в текущее состояние - no-op: возвращает true, запись перехода
// не создаётся. Ошибка любого pre-обработчика отменяет переход: состояние
// не меняется, в журнал пишется неуспешная запись. Возвращает true при
// успешном переходе.
func (m *StateManager) TransitionTo(ctx context.Context, newState, reason string, metadata map[string]interface{}) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(ctx, newState, reason, metadata)
}

func (m *StateManager) transitionLocked(ctx context.Context, newState, reason string, metadata map[string]interface{}) bool {
	oldState := m.stateInfo.CurrentState
	if newState == oldState {
		m.log.Debug("State transition skipped: already in target state",
			utils.State(newState))
		return true
	}

	started := time.Now()

	// Pre-обработчики: любой отказ отменяет переход
	for _, h := range m.preHandlers[newState] {
		if err := h(ctx, oldState, newState); err != nil {
			m.log.Error("State transition rejected by handler",
				utils.String("from", oldState),
				utils.String("to", newState),
				utils.Reason(reason),
				utils.Err(err))
			m.recordTransition(oldState, newState, reason, false, started, err.Error(), metadata)
			m.stateInfo.ErrorsCount++
			m.stateInfo.LastError = &models.ErrorInfo{
				Message:   fmt.Sprintf("transition to %s rejected: %v", newState, err),
				Component: "state_manager",
				Timestamp: time.Now(),
			}
			stateTransitionsTotal.WithLabelValues(newState, "false").Inc()
			return false
		}
	}

	// Журнал переходов пишется до смены состояния: если запись не удалась,
	// состояние остаётся прежним
	if ok := m.recordTransition(oldState, newState, reason, true, started, "", metadata); !ok {
		stateTransitionsTotal.WithLabelValues(newState, "false").Inc()
		return false
	}

	m.stateInfo.PreviousState = oldState
	m.stateInfo.CurrentState = newState
	m.stateInfo.StateChangedAt = time.Now().UnixMilli()
	atomic.AddInt64(&m.transitionCount, 1)

	m.log.Info("Application state changed",
		utils.String("from", oldState),
		utils.String("to", newState),
		utils.Reason(reason))

	// Post-обработчики: только побочные эффекты, переход уже совершён
	for _, h := range m.postHandlers {
		h(ctx, oldState, newState)
	}

	if err := m.repo.SaveStateInfo(m.stateInfo); err != nil {
		m.log.Error("Failed to persist state info", utils.Err(err))
	}

	if m.counters != nil {
		name := "state_transitions_" + strings.ToLower(newState)
		if err := m.counters.IncrementCounter(name, "lifecycle"); err != nil {
			m.log.Debug("Failed to increment transition counter", utils.Err(err))
		}
	}

	stateTransitionsTotal.WithLabelValues(newState, "true").Inc()

	if m.broadcast != nil {
		m.broadcast.BroadcastStateChange(oldState, newState, reason)
	}
	m.notify(&models.Notification{
		Timestamp: time.Now(),
		Type:      models.NotificationTypeState,
		Severity:  models.SeverityInfo,
		Message:   fmt.Sprintf("State changed: %s -> %s (%s)", oldState, newState, reason),
	})

	return true
}

// recordTransition добавляет запись в журнал переходов.
// Возвращает false, если запись не удалось сохранить.
func (m *StateManager) recordTransition(from, to, reason string, success bool, started time.Time, errMsg string, metadata map[string]interface{}) bool {
	tr := &models.StateTransition{
		FromState:    from,
		ToState:      to,
		Timestamp:    started,
		Reason:       reason,
		Success:      success,
		DurationMs:   float64(time.Since(started).Microseconds()) / 1000.0,
		ErrorMessage: errMsg,
		Metadata:     metadata,
	}
	if err := m.repo.SaveTransition(tr); err != nil {
		m.log.Error("Failed to record state transition",
			utils.String("from", from),
			utils.String("to", to),
			utils.Err(err))
		return false
	}
	return true
}

// ============================================================================
// ОСТАНОВКА
// ============================================================================

// RequestGracefulShutdown запускает плавную остановку:
// STOPPING -> финальный снапшот -> обработчики остановки ->
// остановка сессий -> STOPPED.
//
// Возвращает true при полностью успешной последовательности. Любая ошибка
// переводит процесс в аварийную остановку, возвращается false.
func (m *StateManager) RequestGracefulShutdown(ctx context.Context, reason string) bool {
	m.log.Info("Graceful shutdown requested", utils.Reason(reason))
	m.requestStop()

	m.mu.Lock()
	m.stateInfo.SafeShutdownRequested = true
	m.stateInfo.LastShutdownReason = reason
	m.mu.Unlock()

	if err := m.gracefulSequence(ctx, reason); err != nil {
		m.log.Error("Graceful shutdown failed, switching to emergency stop", utils.Err(err))
		m.EmergencyShutdown(ctx)
		return false
	}

	m.log.Info("Graceful shutdown completed")
	return true
}

func (m *StateManager) gracefulSequence(ctx context.Context, reason string) error {
	if ok := m.TransitionTo(ctx, models.StateStopping, "Graceful shutdown: "+reason, nil); !ok {
		return fmt.Errorf("transition to %s failed", models.StateStopping)
	}

	// Финальный снапшот: недоступность хранилища не прерывает остановку
	if id := m.CreateSystemSnapshot(ctx, models.SnapshotTypePreShutdown); id == "" {
		m.log.Warn("Pre-shutdown snapshot was not persisted")
	}

	// Обработчики остановки выполняются все, ошибки только логируются
	m.mu.Lock()
	handlers := make([]ShutdownHandler, len(m.shutdownHandlers))
	copy(handlers, m.shutdownHandlers)
	m.mu.Unlock()
	for i, h := range handlers {
		if err := h(ctx); err != nil {
			m.log.Error("Shutdown handler failed",
				utils.Int("handler", i),
				utils.Err(err))
		}
	}

	// Остановка всех активных торговых сессий
	m.mu.Lock()
	var active []string
	for id, s := range m.sessions {
		if s.IsActive {
			active = append(active, id)
		}
	}
	m.mu.Unlock()
	for _, id := range active {
		if err := m.StopTradingSession(id, reason); err != nil {
			return fmt.Errorf("stop trading session %s: %w", id, err)
		}
	}

	if ok := m.TransitionTo(ctx, models.StateStopped, "Graceful shutdown completed", nil); !ok {
		return fmt.Errorf("transition to %s failed", models.StateStopped)
	}

	m.wg.Wait()
	return nil
}

// EmergencyShutdown - аварийная остановка. Никогда не завершается ошибкой
// и не паникует: состояние ERROR выставляется напрямую, минуя pipeline
// переходов, снапшот и сохранение выполняются по возможности.
func (m *StateManager) EmergencyShutdown(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Panic during emergency shutdown", utils.Any("panic", r))
		}
	}()

	m.log.Error("EMERGENCY SHUTDOWN initiated")
	m.requestStop()

	m.mu.Lock()
	m.stateInfo.PreviousState = m.stateInfo.CurrentState
	m.stateInfo.CurrentState = models.StateError
	m.stateInfo.StateChangedAt = time.Now().UnixMilli()
	m.stateInfo.EmergencyStopActive = true
	m.stateInfo.TradingActive = false
	m.stateInfo.LastShutdownReason = models.ShutdownEmergency
	m.mu.Unlock()

	if id := m.CreateSystemSnapshot(ctx, models.SnapshotTypeEmergency); id == "" {
		m.log.Warn("Emergency snapshot was not persisted")
	}

	m.mu.Lock()
	info := m.stateInfo
	m.mu.Unlock()
	if err := m.repo.SaveStateInfo(info); err != nil {
		m.log.Error("Failed to persist state during emergency shutdown", utils.Err(err))
	}

	m.notify(&models.Notification{
		Timestamp: time.Now(),
		Type:      models.NotificationTypeError,
		Severity:  models.SeverityError,
		Message:   "Application entered ERROR state via emergency stop",
	})
}

func (m *StateManager) requestStop() {
	m.shutdownOnce.Do(func() { close(m.shutdownCh) })
}

// ============================================================================
// ТОРГОВЫЕ СЕССИИ
// ============================================================================

// StartTradingSession создаёт активную торговую сессию по паре.
// Возвращает идентификатор сессии.
func (m *StateManager) StartTradingSession(currencyPair string, metadata map[string]interface{}) (string, error) {
	if currencyPair == "" {
		return "", fmt.Errorf("currency pair is required")
	}

	now := time.Now()
	session := &models.TradingSessionState{
		SessionID:             uuid.NewString(),
		CurrencyPair:          currencyPair,
		IsActive:              true,
		StartTimestamp:        now,
		LastActivityTimestamp: now,
		Metadata:              metadata,
	}

	m.mu.Lock()
	m.sessions[session.SessionID] = session
	m.stateInfo.TradingActive = true
	active := m.activeSessionCountLocked()
	m.mu.Unlock()

	if err := m.repo.SaveSession(session); err != nil {
		m.log.Error("Failed to persist trading session",
			utils.SessionID(session.SessionID),
			utils.Err(err))
	}

	activeSessionsGauge.Set(float64(active))
	m.log.Info("Trading session started",
		utils.SessionID(session.SessionID),
		utils.Symbol(currencyPair))

	return session.SessionID, nil
}

// StopTradingSession помечает сессию неактивной и сохраняет её.
// Запись сессии не удаляется.
func (m *StateManager) StopTradingSession(sessionID, reason string) error {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("trading session %s: %w", sessionID, repository.ErrSessionNotFound)
	}
	session.IsActive = false
	session.LastActivityTimestamp = time.Now()
	if session.Metadata == nil {
		session.Metadata = make(map[string]interface{})
	}
	session.Metadata["stop_reason"] = reason
	snapshot := session.Clone()
	m.stateInfo.TradingActive = m.activeSessionCountLocked() > 0
	active := m.activeSessionCountLocked()
	m.mu.Unlock()

	if err := m.repo.SaveSession(snapshot); err != nil {
		return fmt.Errorf("persist trading session %s: %w", sessionID, err)
	}

	activeSessionsGauge.Set(float64(active))
	m.log.Info("Trading session stopped",
		utils.SessionID(sessionID),
		utils.Reason(reason))
	return nil
}

// TouchSession обновляет отметку активности сессии
func (m *StateManager) TouchSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.LastActivityTimestamp = time.Now()
	}
}

// ActiveSessions возвращает копии активных сессий
func (m *StateManager) ActiveSessions() []*models.TradingSessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.TradingSessionState, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.IsActive {
			out = append(out, s.Clone())
		}
	}
	return out
}

func (m *StateManager) activeSessionCountLocked() int {
	n := 0
	for _, s := range m.sessions {
		if s.IsActive {
			n++
		}
	}
	return n
}

// ============================================================================
// ФОНОВЫЕ ЦИКЛЫ
// ============================================================================

// startBackgroundLoops запускает периодические задачи менеджера.
// Вызывается из Initialize после завершения восстановления.
func (m *StateManager) startBackgroundLoops(ctx context.Context) {
	m.wg.Add(2)
	go m.snapshotLoop(ctx)
	go m.monitorLoop(ctx)
}

// snapshotLoop периодически создаёт снапшоты, но только в RUNNING
func (m *StateManager) snapshotLoop(ctx context.Context) {
	defer m.wg.Done()

	interval := m.cfg.SnapshotInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.Info("Snapshot loop started", utils.Any("interval", interval.String()))

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdownCh:
			return
		case <-ticker.C:
			if m.CurrentState() != models.StateRunning {
				continue
			}
			if id := m.CreateSystemSnapshot(ctx, models.SnapshotTypePeriodic); id != "" {
				m.log.Debug("Periodic snapshot created", utils.SnapshotID(id))
			}
		}
	}
}

// monitorLoop обновляет uptime, сохраняет состояние и раз в сутки
// выполняет retention-очистку журналов
func (m *StateManager) monitorLoop(ctx context.Context) {
	defer m.wg.Done()

	interval := m.cfg.MonitorInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastCleanup := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdownCh:
			return
		case <-ticker.C:
			m.mu.Lock()
			m.stateInfo.UptimeSeconds = int64(time.Since(m.startTime).Seconds())
			info := m.stateInfo.Clone()
			m.mu.Unlock()

			if err := m.repo.SaveStateInfo(info); err != nil {
				m.log.Warn("Failed to persist state info from monitor", utils.Err(err))
			}

			if time.Since(lastCleanup) >= 24*time.Hour {
				m.runRetentionCleanup()
				lastCleanup = time.Now()
			}
		}
	}
}

func (m *StateManager) runRetentionCleanup() {
	if m.cfg.SnapshotRetentionDays > 0 {
		if n, err := m.repo.CleanupOldSnapshots(m.cfg.SnapshotRetentionDays); err != nil {
			m.log.Warn("Snapshot cleanup failed", utils.Err(err))
		} else if n > 0 {
			m.log.Info("Old snapshots removed", utils.Int64("count", n))
		}
	}
	if m.cfg.TransitionRetentionDays > 0 {
		if n, err := m.repo.CleanupOldTransitions(m.cfg.TransitionRetentionDays); err != nil {
			m.log.Warn("Transition cleanup failed", utils.Err(err))
		} else if n > 0 {
			m.log.Info("Old transitions removed", utils.Int64("count", n))
		}
	}
}

// notify отправляет уведомление в канал без блокировки
func (m *StateManager) notify(n *models.Notification) {
	if m.notifications == nil {
		return
	}
	select {
	case m.notifications <- n:
	default:
		m.log.Warn("Notification channel full, dropping notification",
			utils.String("type", n.Type))
	}
	if m.broadcast != nil {
		m.broadcast.BroadcastNotification(n)
	}
}
