package bot

import (
	"context"

	"autotrade/internal/models"
)

// ============================================================================
// КОНТРАКТЫ ВНЕШНИХ ЗАВИСИМОСТЕЙ
// ============================================================================

// DealService управляет жизненным циклом сделок.
// Менеджер состояний и мониторинг рисков работают только через этот контракт.
type DealService interface {
	// GetOpenDeals возвращает сделки, у которых ещё нет закрывающей продажи
	GetOpenDeals() ([]*models.Deal, error)

	// CloseDeal помечает сделку закрытой с указанием причины
	CloseDeal(dealID, reason string) error

	// ForceCloseDeal закрывает сделку принудительно, даже если продажа не прошла
	ForceCloseDeal(dealID, reason string) error

	// AttachSellOrder привязывает ордер продажи к сделке
	AttachSellOrder(dealID string, order *models.Order) error
}

// OrderExecutionService выставляет и отменяет ордера на бирже
type OrderExecutionService interface {
	// CancelOrder отменяет ордер на бирже
	CancelOrder(ctx context.Context, order *models.Order) error

	// CreateMarketSellOrder создаёт рыночный ордер продажи на указанный объём
	CreateMarketSellOrder(ctx context.Context, symbol string, amount float64, dealID string) (*models.Order, error)
}

// MarketDataConnector поставляет рыночные данные с биржи
type MarketDataConnector interface {
	// FetchTicker возвращает текущий тикер по паре
	FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error)

	// FetchOrderBook возвращает стакан по паре
	FetchOrderBook(ctx context.Context, symbol string) (*models.OrderBook, error)
}

// EventBroadcaster рассылает события подписчикам (WebSocket hub)
type EventBroadcaster interface {
	// BroadcastStateChange рассылает смену состояния приложения
	BroadcastStateChange(from, to, reason string)

	// BroadcastNotification рассылает уведомление
	BroadcastNotification(n *models.Notification)
}

// ============================================================================
// ОБРАБОТЧИКИ ПЕРЕХОДОВ
// ============================================================================

// StateChangeHandler вызывается ДО перехода в целевое состояние.
// Возврат ошибки отменяет переход: состояние не меняется.
type StateChangeHandler func(ctx context.Context, from, to string) error

// PostTransitionHandler вызывается ПОСЛЕ успешной смены состояния.
// Ошибки обработчика не откатывают переход.
type PostTransitionHandler func(ctx context.Context, from, to string)

// ShutdownHandler вызывается при плавной остановке.
// Ошибка логируется, но остановку не прерывает.
type ShutdownHandler func(ctx context.Context) error

// RecoveryHandler вызывается при восстановлении из снимка.
// Ошибка логируется, восстановление продолжается.
type RecoveryHandler func(ctx context.Context, snapshot *models.SystemSnapshot) error
