package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"autotrade/internal/models"
	"autotrade/pkg/utils"
)

// ============================================================================
// БУМАЖНАЯ БИРЖА
// ============================================================================

// PaperExchange - in-process реализация биржевых контрактов для dev-режима
// и тестов: цены и стаканы задаются извне, рыночные ордера исполняются
// мгновенно по текущей цене.
type PaperExchange struct {
	log *utils.Logger

	mu     sync.RWMutex
	prices map[string]float64
	books  map[string]*models.OrderBook

	cancelled []string
	orders    []*models.Order
}

// NewPaperExchange создаёт бумажную биржу
func NewPaperExchange(log *utils.Logger) *PaperExchange {
	return &PaperExchange{
		log:    log.WithComponent("paper_exchange"),
		prices: make(map[string]float64),
		books:  make(map[string]*models.OrderBook),
	}
}

// SetPrice задаёт текущую цену по паре
func (e *PaperExchange) SetPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
}

// SetOrderBook задаёт стакан по паре
func (e *PaperExchange) SetOrderBook(symbol string, book *models.OrderBook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.books[symbol] = book
}

// FetchTicker возвращает последнюю заданную цену
func (e *PaperExchange) FetchTicker(_ context.Context, symbol string) (*models.Ticker, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	price, ok := e.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("paper exchange: no price for %s", symbol)
	}
	return &models.Ticker{Symbol: symbol, Last: price}, nil
}

// FetchOrderBook возвращает заданный стакан
func (e *PaperExchange) FetchOrderBook(_ context.Context, symbol string) (*models.OrderBook, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	book, ok := e.books[symbol]
	if !ok {
		return nil, fmt.Errorf("paper exchange: no order book for %s", symbol)
	}
	return book, nil
}

// CancelOrder помечает ордер отменённым
func (e *PaperExchange) CancelOrder(_ context.Context, order *models.Order) error {
	if order == nil {
		return fmt.Errorf("paper exchange: order is nil")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	order.Status = models.OrderStatusCancelled
	e.cancelled = append(e.cancelled, order.OrderID)
	e.log.Debug("Order cancelled", utils.OrderID(order.OrderID))
	return nil
}

// CreateMarketSellOrder мгновенно исполняет рыночную продажу
// по текущей цене пары
func (e *PaperExchange) CreateMarketSellOrder(_ context.Context, symbol string, amount float64, dealID string) (*models.Order, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("paper exchange: invalid amount %f", amount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	price, ok := e.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("paper exchange: no price for %s", symbol)
	}

	now := time.Now()
	order := &models.Order{
		OrderID:      uuid.NewString(),
		DealID:       dealID,
		Symbol:       symbol,
		Side:         models.OrderSideSell,
		Type:         models.OrderTypeMarket,
		Price:        price,
		Amount:       amount,
		FilledAmount: amount,
		Status:       models.OrderStatusFilled,
		CreatedAt:    now,
		FilledAt:     &now,
	}
	e.orders = append(e.orders, order)

	e.log.Info("Market sell executed",
		utils.OrderID(order.OrderID),
		utils.Symbol(symbol),
		utils.Amount(amount),
		utils.Price(price))
	return order, nil
}

// CancelledOrders возвращает идентификаторы отменённых ордеров
func (e *PaperExchange) CancelledOrders() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.cancelled))
	copy(out, e.cancelled)
	return out
}

// PlacedOrders возвращает исполненные рыночные ордера
func (e *PaperExchange) PlacedOrders() []*models.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*models.Order, len(e.orders))
	copy(out, e.orders)
	return out
}
