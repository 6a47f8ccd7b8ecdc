package models

import "time"

// Статусы сделки
const (
	DealStatusOpen        = "open"
	DealStatusClosed      = "closed"
	DealStatusForceClosed = "force_closed" // принудительная ликвидация (stop loss)
)

// Статусы ордера
const (
	OrderStatusOpen      = "open"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)

// Стороны ордера
const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"
)

// Типы ордеров
const (
	OrderTypeLimit  = "limit"
	OrderTypeMarket = "market"
)

// Order представляет запись об ордере на бирже
type Order struct {
	OrderID      string     `json:"order_id" db:"order_id"`
	DealID       string     `json:"deal_id" db:"deal_id"`
	Symbol       string     `json:"symbol" db:"symbol"`
	Side         string     `json:"side" db:"side"` // buy, sell
	Type         string     `json:"type" db:"type"` // limit, market
	Price        float64    `json:"price" db:"price"`
	Amount       float64    `json:"amount" db:"amount"`
	FilledAmount float64    `json:"filled_amount" db:"filled_amount"`
	Status       string     `json:"status" db:"status"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	FilledAt     *time.Time `json:"filled_at,omitempty" db:"filled_at"`
}

// IsFilled возвращает true если ордер полностью исполнен
func (o *Order) IsFilled() bool {
	return o != nil && o.Status == OrderStatusFilled
}

// IsOpen возвращает true если ордер ещё не исполнен и не отменён
func (o *Order) IsOpen() bool {
	return o != nil && o.Status == OrderStatusOpen
}

// Deal представляет торговую сделку: купленная позиция
// с опциональным лимитным ордером на продажу
type Deal struct {
	DealID       string     `json:"deal_id" db:"deal_id"`
	CurrencyPair string     `json:"currency_pair" db:"currency_pair"`
	Status       string     `json:"status" db:"status"`
	BuyOrder     *Order     `json:"buy_order,omitempty"`
	SellOrder    *Order     `json:"sell_order,omitempty"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty" db:"closed_at"`
	CloseReason  string     `json:"close_reason,omitempty" db:"close_reason"`
}

// IsOpen возвращает true если сделка открыта
func (d *Deal) IsOpen() bool {
	return d.Status == DealStatusOpen
}

// HasFilledBuy возвращает true если у сделки есть исполненный buy ордер.
// Только такие сделки подлежат stop-loss мониторингу.
func (d *Deal) HasFilledBuy() bool {
	return d.BuyOrder.IsFilled()
}
