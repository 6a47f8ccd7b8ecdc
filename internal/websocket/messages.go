package websocket

import (
	"time"

	"autotrade/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeStateChange - переход жизненного цикла приложения
	MessageTypeStateChange MessageType = "stateChange"

	// MessageTypeNotification - новое уведомление
	// Отправляется при событиях: переходы, восстановление, stop-loss, ошибки
	MessageTypeNotification MessageType = "notification"

	// MessageTypeSnapshot - создан снапшот системы
	MessageTypeSnapshot MessageType = "snapshotCreated"

	// MessageTypeStopLossStats - обновление статистики stop-loss монитора
	MessageTypeStopLossStats MessageType = "stopLossStats"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// StateChangeMessage - сообщение о смене состояния приложения
type StateChangeMessage struct {
	BaseMessage
	Data *StateChangeData `json:"data"`
}

// StateChangeData - данные перехода
type StateChangeData struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Reason      string `json:"reason"`
	Description string `json:"description"` // человекочитаемое описание нового состояния
}

// NotificationMessage - сообщение о новом уведомлении
type NotificationMessage struct {
	BaseMessage
	Data *NotificationData `json:"data"`
}

// NotificationData - данные уведомления
type NotificationData struct {
	ID        int                    `json:"id"`
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	DealID    *string                `json:"deal_id,omitempty"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// SnapshotMessage - сообщение о созданном снапшоте
type SnapshotMessage struct {
	BaseMessage
	SnapshotID   string `json:"snapshot_id"`
	SnapshotType string `json:"snapshot_type"`
}

// StopLossStatsMessage - сообщение со статистикой stop-loss монитора
type StopLossStatsMessage struct {
	BaseMessage
	Data interface{} `json:"data"`
}

// ============ Фабричные функции для создания сообщений ============

// NewStateChangeMessage создает сообщение о переходе
func NewStateChangeMessage(from, to, reason string) *StateChangeMessage {
	return &StateChangeMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeStateChange,
			Timestamp: time.Now(),
		},
		Data: &StateChangeData{
			From:        from,
			To:          to,
			Reason:      reason,
			Description: models.StateDescription(to),
		},
	}
}

// NewNotificationMessage создает сообщение уведомления
func NewNotificationMessage(notif *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeNotification,
			Timestamp: time.Now(),
		},
		Data: &NotificationData{
			ID:        notif.ID,
			Type:      notif.Type,
			Severity:  notif.Severity,
			DealID:    notif.DealID,
			Message:   notif.Message,
			Meta:      notif.Meta,
			Timestamp: notif.Timestamp,
		},
	}
}

// NewSnapshotMessage создает сообщение о снапшоте
func NewSnapshotMessage(snapshotID, snapshotType string) *SnapshotMessage {
	return &SnapshotMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeSnapshot,
			Timestamp: time.Now(),
		},
		SnapshotID:   snapshotID,
		SnapshotType: snapshotType,
	}
}

// NewStopLossStatsMessage создает сообщение со статистикой монитора
func NewStopLossStatsMessage(stats interface{}) *StopLossStatsMessage {
	return &StopLossStatsMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeStopLossStats,
			Timestamp: time.Now(),
		},
		Data: stats,
	}
}
