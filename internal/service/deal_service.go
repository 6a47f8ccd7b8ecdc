package service

import (
	"fmt"
	"time"

	"autotrade/internal/models"
	"autotrade/internal/repository"
	"autotrade/pkg/utils"
)

// ============================================================================
// СЕРВИС СДЕЛОК
// ============================================================================

// DealManager реализует операции над сделками поверх репозитория.
// Сериализацию внутреннего состояния обеспечивает репозиторий.
type DealManager struct {
	repo repository.DealRepository
	log  *utils.Logger
}

// NewDealManager создаёт сервис сделок
func NewDealManager(repo repository.DealRepository, log *utils.Logger) *DealManager {
	return &DealManager{
		repo: repo,
		log:  log.WithComponent("deal_service"),
	}
}

// GetOpenDeals возвращает открытые сделки
func (s *DealManager) GetOpenDeals() ([]*models.Deal, error) {
	return s.repo.GetOpenDeals()
}

// GetActiveDeals возвращает сделки, попадающие в снапшот
func (s *DealManager) GetActiveDeals() ([]*models.Deal, error) {
	return s.repo.GetActiveDeals()
}

// OpenDeal регистрирует новую сделку с исполненной покупкой
func (s *DealManager) OpenDeal(deal *models.Deal) error {
	if deal.DealID == "" {
		return fmt.Errorf("deal id is required")
	}
	if deal.Status == "" {
		deal.Status = models.DealStatusOpen
	}
	if deal.CreatedAt.IsZero() {
		deal.CreatedAt = time.Now()
	}
	if err := s.repo.Save(deal); err != nil {
		return fmt.Errorf("save deal %s: %w", deal.DealID, err)
	}
	s.log.Info("Deal opened",
		utils.DealID(deal.DealID),
		utils.Symbol(deal.CurrencyPair))
	return nil
}

// CloseDeal помечает сделку закрытой
func (s *DealManager) CloseDeal(dealID, reason string) error {
	return s.close(dealID, reason, models.DealStatusClosed)
}

// ForceCloseDeal закрывает сделку принудительно.
// Используется защитной продажей, когда рыночный ордер не прошёл.
func (s *DealManager) ForceCloseDeal(dealID, reason string) error {
	return s.close(dealID, reason, models.DealStatusForceClosed)
}

func (s *DealManager) close(dealID, reason, status string) error {
	deal, err := s.repo.GetByID(dealID)
	if err != nil {
		return fmt.Errorf("load deal %s: %w", dealID, err)
	}

	now := time.Now()
	deal.Status = status
	deal.ClosedAt = &now
	deal.CloseReason = reason

	if err := s.repo.Save(deal); err != nil {
		return fmt.Errorf("save deal %s: %w", dealID, err)
	}
	s.log.Info("Deal closed",
		utils.DealID(dealID),
		utils.String("status", status),
		utils.Reason(reason))
	return nil
}

// AttachSellOrder привязывает ордер продажи к сделке
func (s *DealManager) AttachSellOrder(dealID string, order *models.Order) error {
	if order == nil {
		return fmt.Errorf("order is required")
	}
	deal, err := s.repo.GetByID(dealID)
	if err != nil {
		return fmt.Errorf("load deal %s: %w", dealID, err)
	}

	order.DealID = dealID
	deal.SellOrder = order

	if err := s.repo.Save(deal); err != nil {
		return fmt.Errorf("save deal %s: %w", dealID, err)
	}
	return nil
}
