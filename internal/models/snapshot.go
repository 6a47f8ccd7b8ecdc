package models

import "time"

// Типы снапшотов (контекст создания)
const (
	SnapshotTypePeriodic    = "periodic"
	SnapshotTypePreShutdown = "pre_shutdown"
	SnapshotTypeEmergency   = "emergency_shutdown"
	SnapshotTypeManual      = "manual"
)

// Приоритеты восстановления (1 = самый срочный, 5 = наименее срочный)
const (
	RecoveryPriorityActiveTrading = 1 // на момент снапшота шла торговля
	RecoveryPriorityNormal        = 3
	RecoveryPriorityErrorState    = 5 // снапшот снят в состоянии ERROR
)

// Статусы валидации RecoveryInfo
const (
	ValidationPending = "pending"
	ValidationValid   = "valid"
	ValidationInvalid = "invalid"
)

// SystemSnapshot - снимок состояния системы в момент времени.
//
// Создаётся StateManager'ом по таймеру, перед остановкой и при
// emergency stop. После создания неизменяем; подлежит удалению
// только retention-очисткой.
type SystemSnapshot struct {
	SnapshotID       string                 `json:"snapshot_id" db:"snapshot_id"`
	Timestamp        time.Time              `json:"timestamp" db:"timestamp"`
	ApplicationState string                 `json:"application_state" db:"application_state"`
	TradingSessions  []*TradingSessionState `json:"trading_sessions" db:"trading_sessions"`
	ActiveDeals      []*Deal                `json:"active_deals" db:"active_deals"`
	PendingOrders    []*Order               `json:"pending_orders" db:"pending_orders"`
	SystemMetrics    map[string]interface{} `json:"system_metrics,omitempty" db:"system_metrics"`
	ConfigChecksum   string                 `json:"config_checksum,omitempty" db:"config_checksum"`
	ErrorInfo        *ErrorInfo             `json:"error_info,omitempty" db:"error_info"`
}

// RecoveryInfo - метаданные снапшота, пригодного для восстановления.
//
// Инвариант: RecoveryPriority тем меньше (срочнее), чем важнее снапшот:
// 1 при активных торговых сессиях, 5 для снапшота в ERROR, иначе 3.
// Этот порядок определяет выбор снапшота при восстановлении.
type RecoveryInfo struct {
	SnapshotID         string                 `json:"snapshot_id" db:"snapshot_id"`
	CreatedAt          time.Time              `json:"created_at" db:"created_at"`
	ApplicationVersion string                 `json:"application_version" db:"application_version"`
	RecoveryPriority   int                    `json:"recovery_priority" db:"recovery_priority"`
	RecoveryNotes      string                 `json:"recovery_notes,omitempty" db:"recovery_notes"`
	ValidationStatus   string                 `json:"validation_status" db:"validation_status"`
	Metadata           map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
}

// TradingSessionState - один активный торговый контекст.
//
// Создаётся при старте сессии, мутирует при активности,
// при остановке помечается неактивной (не удаляется).
type TradingSessionState struct {
	SessionID             string                 `json:"session_id" db:"session_id"`
	CurrencyPair          string                 `json:"currency_pair" db:"currency_pair"`
	IsActive              bool                   `json:"is_active" db:"is_active"`
	StartTimestamp        time.Time              `json:"start_timestamp" db:"start_timestamp"`
	LastActivityTimestamp time.Time              `json:"last_activity_timestamp" db:"last_activity_timestamp"`
	ActiveDealsCount      int                    `json:"active_deals_count" db:"active_deals_count"`
	OpenOrdersCount       int                    `json:"open_orders_count" db:"open_orders_count"`
	TotalProfit           float64                `json:"total_profit" db:"total_profit"`
	TotalFees             float64                `json:"total_fees" db:"total_fees"`
	ProcessedTickers      int64                  `json:"processed_tickers" db:"processed_tickers"`
	GeneratedSignals      int64                  `json:"generated_signals" db:"generated_signals"`
	Metadata              map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
}

// Clone возвращает копию сессии (метаданные копируются поверхностно)
func (t *TradingSessionState) Clone() *TradingSessionState {
	cp := *t
	if t.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
