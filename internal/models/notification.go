package models

import "time"

// Notification представляет уведомление о событии
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`         // STATE, RECOVERY, SL_WARNING, SL_CRITICAL, SL_EMERGENCY, ERROR
	Severity  string                 `json:"severity" db:"severity"` // info, warn, error
	DealID    *string                `json:"deal_id,omitempty" db:"deal_id"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // дополнительные данные (JSON в БД)
}

// Типы уведомлений
const (
	NotificationTypeState       = "STATE"        // переход жизненного цикла
	NotificationTypeRecovery    = "RECOVERY"     // события восстановления
	NotificationTypeSLWarning   = "SL_WARNING"   // предупреждение о просадке
	NotificationTypeSLCritical  = "SL_CRITICAL"  // критическая просадка, защитная продажа
	NotificationTypeSLEmergency = "SL_EMERGENCY" // экстренная ликвидация позиции
	NotificationTypeError       = "ERROR"        // ошибка компонента
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
