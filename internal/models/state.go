package models

import "time"

// Состояния жизненного цикла приложения (state machine)
const (
	StateStarting = "STARTING" // процесс запускается, инициализация компонентов
	StateRunning  = "RUNNING"  // нормальная работа, торговля активна
	StatePausing  = "PAUSING"  // процесс приостановки торговли
	StatePaused   = "PAUSED"   // торговля приостановлена, процесс жив
	StateStopping = "STOPPING" // graceful shutdown в процессе
	StateStopped  = "STOPPED"  // терминальное состояние
	StateError    = "ERROR"    // критическая ошибка, требуется вмешательство
	StateRecovery = "RECOVERY" // восстановление после аварийного рестарта
)

// Причины остановки (для аудита переходов в STOPPING/STOPPED)
const (
	ShutdownUserRequest  = "USER_REQUEST"
	ShutdownGraceful     = "GRACEFUL_SHUTDOWN"
	ShutdownError        = "ERROR_SHUTDOWN"
	ShutdownEmergency    = "EMERGENCY_STOP"
	ShutdownSystemSignal = "SYSTEM_SIGNAL"
	ShutdownMaintenance  = "MAINTENANCE"
)

// KnownStates - все валидные состояния жизненного цикла
var KnownStates = []string{
	StateStarting, StateRunning, StatePausing, StatePaused,
	StateStopping, StateStopped, StateError, StateRecovery,
}

// IsKnownState проверяет, что строка является валидным состоянием
func IsKnownState(s string) bool {
	for _, known := range KnownStates {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminalState возвращает true для терминального состояния.
// ERROR квази-терминально: выход только через recovery flow.
func IsTerminalState(s string) bool {
	return s == StateStopped
}

// StateDescription возвращает человекочитаемое описание состояния для UI
func StateDescription(s string) string {
	switch s {
	case StateStarting:
		return "Запуск и инициализация компонентов"
	case StateRunning:
		return "Бот работает, торговля активна"
	case StatePausing:
		return "Приостановка торговли..."
	case StatePaused:
		return "Торговля приостановлена"
	case StateStopping:
		return "Остановка (graceful shutdown)..."
	case StateStopped:
		return "Бот остановлен"
	case StateError:
		return "Критическая ошибка! Требуется вмешательство"
	case StateRecovery:
		return "Восстановление после перезапуска..."
	default:
		return "Неизвестное состояние"
	}
}

// ErrorInfo - структурированная информация о последней ошибке
type ErrorInfo struct {
	Message   string    `json:"message"`
	Component string    `json:"component,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ApplicationStateInfo - живая запись жизненного цикла приложения.
//
// Создаётся один раз при старте процесса (загружается из репозитория,
// либо свежая со состоянием STARTING). Мутирует её только StateManager;
// репозитории хранят и отдают копии.
type ApplicationStateInfo struct {
	CurrentState          string     `json:"current_state" db:"current_state"`
	PreviousState         string     `json:"previous_state" db:"previous_state"`
	StateChangedAt        int64      `json:"state_changed_at" db:"state_changed_at"` // epoch ms
	UptimeSeconds         int64      `json:"uptime_seconds" db:"uptime_seconds"`
	RestartCount          int        `json:"restart_count" db:"restart_count"`
	LastShutdownReason    string     `json:"last_shutdown_reason" db:"last_shutdown_reason"`
	LastError             *ErrorInfo `json:"last_error,omitempty" db:"last_error"`
	TradingActive         bool       `json:"trading_active" db:"trading_active"`
	MaintenanceMode       bool       `json:"maintenance_mode" db:"maintenance_mode"`
	SafeShutdownRequested bool       `json:"safe_shutdown_requested" db:"safe_shutdown_requested"`
	EmergencyStopActive   bool       `json:"emergency_stop_active" db:"emergency_stop_active"`
	SessionStartTime      time.Time  `json:"session_start_time" db:"session_start_time"`
	DealsProcessed        int64      `json:"deals_processed" db:"deals_processed"`
	OrdersProcessed       int64      `json:"orders_processed" db:"orders_processed"`
	ErrorsCount           int64      `json:"errors_count" db:"errors_count"`
}

// NewApplicationStateInfo создаёт свежую запись для чистого старта
func NewApplicationStateInfo() *ApplicationStateInfo {
	now := time.Now()
	return &ApplicationStateInfo{
		CurrentState:     StateStarting,
		PreviousState:    "",
		StateChangedAt:   now.UnixMilli(),
		SessionStartTime: now,
	}
}

// Clone возвращает глубокую копию записи.
// Репозитории обязаны сохранять/отдавать копии, а не живой объект.
func (s *ApplicationStateInfo) Clone() *ApplicationStateInfo {
	cp := *s
	if s.LastError != nil {
		errCp := *s.LastError
		cp.LastError = &errCp
	}
	return &cp
}

// StateTransition - неизменяемая запись одной попытки перехода.
// Создаётся на каждую попытку (включая неудачные) и добавляется
// в append-only журнал; удаляется только retention-очисткой.
type StateTransition struct {
	ID           int64                  `json:"id" db:"id"`
	FromState    string                 `json:"from_state" db:"from_state"`
	ToState      string                 `json:"to_state" db:"to_state"`
	Timestamp    time.Time              `json:"timestamp" db:"timestamp"`
	Reason       string                 `json:"reason" db:"reason"`
	Success      bool                   `json:"success" db:"success"`
	DurationMs   float64                `json:"duration_ms" db:"duration_ms"`
	ErrorMessage string                 `json:"error_message,omitempty" db:"error_message"`
	Metadata     map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
}
