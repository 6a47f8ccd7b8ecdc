package repository

import (
	"sort"
	"sync"

	"autotrade/internal/models"
)

// MemoryDealRepository - in-memory хранилище сделок и их ордеров.
//
// Торговый движок (вне этого ядра) создаёт сделки; здесь они читаются
// для снапшотов и stop-loss мониторинга. Активные и открытые сделки
// в этой модели совпадают: сделка активна пока не закрыта.
type MemoryDealRepository struct {
	mu    sync.RWMutex
	deals map[string]*models.Deal
}

// NewMemoryDealRepository создает новый экземпляр репозитория
func NewMemoryDealRepository() *MemoryDealRepository {
	return &MemoryDealRepository{
		deals: make(map[string]*models.Deal),
	}
}

// Save сохраняет сделку
func (r *MemoryDealRepository) Save(deal *models.Deal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deals[deal.DealID] = deal
	return nil
}

// GetByID возвращает сделку по ID
func (r *MemoryDealRepository) GetByID(dealID string) (*models.Deal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	deal, ok := r.deals[dealID]
	if !ok {
		return nil, ErrDealNotFound
	}
	return deal, nil
}

// GetActiveDeals возвращает незакрытые сделки
func (r *MemoryDealRepository) GetActiveDeals() ([]*models.Deal, error) {
	return r.collect(func(d *models.Deal) bool { return d.IsOpen() })
}

// GetOpenDeals возвращает открытые сделки
func (r *MemoryDealRepository) GetOpenDeals() ([]*models.Deal, error) {
	return r.collect(func(d *models.Deal) bool { return d.IsOpen() })
}

// GetOpenOrders возвращает все неисполненные ордера открытых сделок
func (r *MemoryDealRepository) GetOpenOrders() ([]*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var orders []*models.Order
	for _, deal := range r.deals {
		if deal.BuyOrder.IsOpen() {
			orders = append(orders, deal.BuyOrder)
		}
		if deal.SellOrder.IsOpen() {
			orders = append(orders, deal.SellOrder)
		}
	}

	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})

	return orders, nil
}

func (r *MemoryDealRepository) collect(keep func(*models.Deal) bool) ([]*models.Deal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.Deal
	for _, deal := range r.deals {
		if keep(deal) {
			result = append(result, deal)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// Проверка реализации интерфейсов
var (
	_ DealRepository       = (*MemoryDealRepository)(nil)
	_ OrderQueryRepository = (*MemoryDealRepository)(nil)
)
