package repository

import (
	"errors"
	"time"

	"autotrade/internal/models"
)

// Ошибки репозитория состояния
var (
	ErrStateNotFound    = errors.New("application state not found")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrRecoveryNotFound = errors.New("recovery info not found")
	ErrSessionNotFound  = errors.New("trading session not found")
	ErrDealNotFound     = errors.New("deal not found")
)

// StateRepository - контракт хранилища состояния приложения.
//
// Две реализации: in-memory (volatile, dev/test) и Postgres (durable).
// Репозиторий хранит и отдаёт копии: живой ApplicationStateInfo
// принадлежит исключительно менеджеру состояния.
type StateRepository interface {
	// Состояние приложения (единственная запись, idempotent save)
	SaveStateInfo(info *models.ApplicationStateInfo) error
	LoadStateInfo() (*models.ApplicationStateInfo, error)

	// Снапшоты (append-only, retention-очистка)
	SaveSnapshot(snapshot *models.SystemSnapshot) error
	GetSnapshot(snapshotID string) (*models.SystemSnapshot, error)
	GetLatestSnapshot() (*models.SystemSnapshot, error)
	ListSnapshots(from, to time.Time, limit int) ([]*models.SystemSnapshot, error)

	// Метаданные восстановления
	SaveRecoveryInfo(info *models.RecoveryInfo) error
	GetRecoveryInfo(snapshotID string) (*models.RecoveryInfo, error)

	// GetRecoveryCandidates возвращает кандидатов на восстановление:
	// сортировка по recovery_priority по возрастанию, при равенстве -
	// по created_at по убыванию (свежие раньше)
	GetRecoveryCandidates() ([]*models.RecoveryInfo, error)

	// Журнал переходов (append-only, новые первыми)
	SaveTransition(tr *models.StateTransition) error
	ListTransitions(from, to time.Time, limit int) ([]*models.StateTransition, error)

	// Торговые сессии
	SaveSession(session *models.TradingSessionState) error
	GetSession(sessionID string) (*models.TradingSessionState, error)
	ListSessions(activeOnly bool) ([]*models.TradingSessionState, error)

	// Retention-очистка; возвращают количество удалённых записей
	CleanupOldSnapshots(olderThanDays int) (int64, error)
	CleanupOldTransitions(olderThanDays int) (int64, error)
}

// DealRepository - контракт доступа к сделкам.
// Снаружи этого ядра сделки создаёт торговый движок; здесь они читаются
// для снапшотов и stop-loss мониторинга.
type DealRepository interface {
	GetActiveDeals() ([]*models.Deal, error)
	GetOpenDeals() ([]*models.Deal, error)
	GetByID(dealID string) (*models.Deal, error)
	Save(deal *models.Deal) error
}

// OrderQueryRepository - контракт доступа к открытым ордерам
type OrderQueryRepository interface {
	GetOpenOrders() ([]*models.Order, error)
}

// CounterRepository - опциональный счётчик статистики
type CounterRepository interface {
	IncrementCounter(name, category string) error
}
