package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"autotrade/internal/config"
	"autotrade/internal/models"
	"autotrade/pkg/retry"
	"autotrade/pkg/utils"
)

// ============================================================================
// STOP-LOSS МОНИТОР
// ============================================================================

// StopLossStats - счётчики работы монитора
type StopLossStats struct {
	ChecksPerformed       int64 `json:"checks_performed"`
	WarningsSent          int64 `json:"warnings_sent"`
	SupportBreaks         int64 `json:"support_breaks"`
	EmergencyLiquidations int64 `json:"emergency_liquidations"`
	StopLossTriggered     int64 `json:"stop_loss_triggered"`
}

// StopLossMonitor защищает открытые позиции трёхступенчатой эскалацией:
// предупреждение, условная защитная продажа с подтверждением по стакану,
// безусловная экстренная ликвидация.
//
// Монитор не владеет персистентными сущностями: читает сделки через
// DealService, действует через OrderExecutionService.
type StopLossMonitor struct {
	cfg      config.StopLossConfig
	log      *utils.Logger
	deals    DealService
	execSvc  OrderExecutionService
	market   MarketDataConnector
	analyzer *OrderBookAnalyzer

	notifications chan<- *models.Notification

	mu     sync.Mutex
	warned map[string]struct{} // deal_id -> предупреждение уже отправлено
	stats  StopLossStats

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewStopLossMonitor создаёт монитор стоп-лоссов
func NewStopLossMonitor(
	cfg config.StopLossConfig,
	deals DealService,
	execSvc OrderExecutionService,
	market MarketDataConnector,
	analyzer *OrderBookAnalyzer,
	log *utils.Logger,
) *StopLossMonitor {
	return &StopLossMonitor{
		cfg:      cfg,
		log:      log.WithComponent("stoploss_monitor"),
		deals:    deals,
		execSvc:  execSvc,
		market:   market,
		analyzer: analyzer,
		warned:   make(map[string]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// SetNotificationChannel подключает канал уведомлений
func (m *StopLossMonitor) SetNotificationChannel(ch chan<- *models.Notification) {
	m.notifications = ch
}

// Start запускает периодический цикл проверки
func (m *StopLossMonitor) Start(ctx context.Context) {
	interval := m.cfg.CheckInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.log.Info("Stop-loss monitor started", utils.Any("interval", interval.String()))
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.CheckOpenDeals(ctx)
			}
		}
	}()
}

// Stop останавливает цикл проверки и дожидается его завершения
func (m *StopLossMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	m.log.Info("Stop-loss monitor stopped")
}

// Stats возвращает копию счётчиков
func (m *StopLossMonitor) Stats() StopLossStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// ResetWarnings сбрасывает отметки отправленных предупреждений:
// каждая сделка снова получит не более одного предупреждения
func (m *StopLossMonitor) ResetWarnings() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warned = make(map[string]struct{})
}

// ============================================================================
// ЦИКЛ ПРОВЕРКИ
// ============================================================================

// CheckOpenDeals прогоняет один цикл проверки по всем открытым сделкам
// с исполненной покупкой. Ошибка оценки одной сделки логируется и не
// прерывает проверку остальных.
func (m *StopLossMonitor) CheckOpenDeals(ctx context.Context) {
	m.mu.Lock()
	m.stats.ChecksPerformed++
	m.mu.Unlock()
	stopLossChecksTotal.Inc()

	openDeals, err := m.deals.GetOpenDeals()
	if err != nil {
		m.log.Error("Failed to list open deals", utils.Err(err))
		return
	}

	for _, deal := range openDeals {
		if !deal.HasFilledBuy() {
			continue
		}
		if err := m.evaluateDeal(ctx, deal, 0, nil); err != nil {
			m.log.Error("Deal evaluation failed",
				utils.DealID(deal.DealID),
				utils.Symbol(deal.CurrencyPair),
				utils.Err(err))
		}
	}
}

// EvaluateDeal оценивает одну сделку с данными, предоставленными вызывающим.
// currentPrice <= 0 означает "получить цену с биржи"; metrics == nil -
// "получить и проанализировать стакан".
func (m *StopLossMonitor) EvaluateDeal(ctx context.Context, deal *models.Deal, currentPrice float64, metrics *models.OrderBookMetrics) error {
	return m.evaluateDeal(ctx, deal, currentPrice, metrics)
}

func (m *StopLossMonitor) evaluateDeal(ctx context.Context, deal *models.Deal, currentPrice float64, metrics *models.OrderBookMetrics) error {
	entryPrice := deal.BuyOrder.Price
	if entryPrice <= 0 {
		return fmt.Errorf("deal %s: entry price is not positive", deal.DealID)
	}

	if currentPrice <= 0 {
		ticker, err := m.market.FetchTicker(ctx, deal.CurrencyPair)
		if err != nil {
			return fmt.Errorf("fetch ticker %s: %w", deal.CurrencyPair, err)
		}
		currentPrice = ticker.Last
	}
	if currentPrice <= 0 {
		return fmt.Errorf("deal %s: invalid current price", deal.DealID)
	}

	dropPercent := (entryPrice - currentPrice) / entryPrice * 100

	if dropPercent < m.cfg.WarningPercent {
		return nil
	}

	if metrics == nil {
		book, err := m.market.FetchOrderBook(ctx, deal.CurrencyPair)
		if err != nil {
			return fmt.Errorf("fetch order book %s: %w", deal.CurrencyPair, err)
		}
		metrics = m.analyzer.AnalyzeOrderBook(book)
	}

	// Ступень 3: безусловная ликвидация
	if dropPercent >= m.cfg.EmergencyPercent {
		m.log.Error("EMERGENCY stop-loss tier reached",
			utils.DealID(deal.DealID),
			utils.Symbol(deal.CurrencyPair),
			utils.DropPercent(dropPercent))
		return m.createMarketSellOrder(ctx, deal, currentPrice, dropPercent, tierEmergency)
	}

	// Ступень 2: продажа только при подтверждении со стороны стакана
	if dropPercent >= m.cfg.CriticalPercent {
		if reason, ok := m.criticalCorroboration(currentPrice, metrics); ok {
			m.log.Warn("Critical stop-loss tier confirmed by order book",
				utils.DealID(deal.DealID),
				utils.Symbol(deal.CurrencyPair),
				utils.DropPercent(dropPercent),
				utils.Reason(reason))
			if reason == reasonSupportBroken {
				m.mu.Lock()
				m.stats.SupportBreaks++
				m.mu.Unlock()
				supportBreaksTotal.WithLabelValues(deal.CurrencyPair).Inc()
			}
			return m.createMarketSellOrder(ctx, deal, currentPrice, dropPercent, tierCritical)
		}
		m.log.Info("Critical drop without order-book corroboration, holding position",
			utils.DealID(deal.DealID),
			utils.DropPercent(dropPercent))
	}

	// Ступень 1: одно предупреждение на сделку
	m.warnOnce(deal, currentPrice, dropPercent, metrics)
	return nil
}

const (
	tierCritical  = "critical"
	tierEmergency = "emergency"

	reasonSupportBroken = "support level broken"
	reasonSellPressure  = "heavy sell pressure"
	reasonStrongSell    = "STRONG_SELL signal"
	reasonSellSlippage  = "high sell slippage"
)

// criticalCorroboration проверяет условия эскалации второй ступени.
// Достаточно любого одного условия (OR-семантика).
func (m *StopLossMonitor) criticalCorroboration(currentPrice float64, metrics *models.OrderBookMetrics) (string, bool) {
	if metrics == nil {
		return "", false
	}
	if metrics.SupportLevel > 0 && currentPrice <= metrics.SupportLevel {
		return reasonSupportBroken, true
	}
	if metrics.VolumeImbalance < -20 {
		return reasonSellPressure, true
	}
	if metrics.Signal == models.SignalStrongSell {
		return reasonStrongSell, true
	}
	if metrics.SlippageSell > 2 {
		return reasonSellSlippage, true
	}
	return "", false
}

// warnOnce отправляет предупреждение о просадке не более одного раза
// на сделку (до сброса через ResetWarnings)
func (m *StopLossMonitor) warnOnce(deal *models.Deal, currentPrice, dropPercent float64, metrics *models.OrderBookMetrics) {
	m.mu.Lock()
	if _, already := m.warned[deal.DealID]; already {
		m.mu.Unlock()
		return
	}
	m.warned[deal.DealID] = struct{}{}
	m.stats.WarningsSent++
	m.mu.Unlock()

	supportLevel := 0.0
	imbalance := 0.0
	if metrics != nil {
		supportLevel = metrics.SupportLevel
		imbalance = metrics.VolumeImbalance
	}

	m.log.Warn("Stop-loss warning",
		utils.DealID(deal.DealID),
		utils.Symbol(deal.CurrencyPair),
		utils.Price(currentPrice),
		utils.DropPercent(dropPercent),
		utils.Float64("support_level", supportLevel),
		utils.Float64("volume_imbalance", imbalance))

	stopLossWarningsTotal.WithLabelValues(deal.CurrencyPair).Inc()
	m.notify(&models.Notification{
		Timestamp: time.Now(),
		Type:      models.NotificationTypeSLWarning,
		Severity:  models.SeverityWarn,
		DealID:    &deal.DealID,
		Message: fmt.Sprintf("Price drop %.2f%% on %s (support %.8f, imbalance %.1f%%)",
			dropPercent, deal.CurrencyPair, supportLevel, imbalance),
		Meta: map[string]interface{}{
			"current_price":    currentPrice,
			"drop_percent":     dropPercent,
			"support_level":    supportLevel,
			"volume_imbalance": imbalance,
		},
	})
}

// ============================================================================
// ЗАЩИТНАЯ ПРОДАЖА
// ============================================================================

// createMarketSellOrder выполняет защитную продажу позиции.
//
// Неисполненный лимитный ордер продажи сначала отменяется. При отказе
// биржи разместить рыночный ордер сделка всё равно принудительно
// закрывается: незащищённая позиция без наблюдения хуже, чем
// расхождение в учёте.
func (m *StopLossMonitor) createMarketSellOrder(ctx context.Context, deal *models.Deal, currentPrice, dropPercent float64, tier string) error {
	m.mu.Lock()
	m.stats.StopLossTriggered++
	if tier == tierEmergency {
		m.stats.EmergencyLiquidations++
	}
	m.mu.Unlock()
	stopLossTriggeredTotal.WithLabelValues(deal.CurrencyPair, tier).Inc()

	if deal.SellOrder != nil && !deal.SellOrder.IsFilled() {
		if err := m.execSvc.CancelOrder(ctx, deal.SellOrder); err != nil {
			m.log.Warn("Failed to cancel existing limit sell order",
				utils.DealID(deal.DealID),
				utils.OrderID(deal.SellOrder.OrderID),
				utils.Err(err))
		}
	}

	amount := deal.BuyOrder.FilledAmount
	reason := fmt.Sprintf("stop_loss_%s: drop %.2f%% at %.8f", tier, dropPercent, currentPrice)

	// Защитная продажа критична, отказы биржи повторяются агрессивно
	order, err := retry.DoWithResult(ctx, func() (*models.Order, error) {
		return m.execSvc.CreateMarketSellOrder(ctx, deal.CurrencyPair, amount, deal.DealID)
	}, retry.AggressiveConfig())
	if err != nil || order == nil {
		m.log.Error("Failed to place protective market sell, force-closing deal",
			utils.DealID(deal.DealID),
			utils.Symbol(deal.CurrencyPair),
			utils.Amount(amount),
			utils.Err(err))
		if closeErr := m.deals.ForceCloseDeal(deal.DealID, reason); closeErr != nil {
			return fmt.Errorf("force close deal %s: %w", deal.DealID, closeErr)
		}
		m.notifyTier(deal, tier, currentPrice, dropPercent, false)
		return nil
	}

	if err := m.deals.AttachSellOrder(deal.DealID, order); err != nil {
		m.log.Error("Failed to attach protective sell order",
			utils.DealID(deal.DealID),
			utils.OrderID(order.OrderID),
			utils.Err(err))
	}
	if err := m.deals.CloseDeal(deal.DealID, reason); err != nil {
		return fmt.Errorf("close deal %s: %w", deal.DealID, err)
	}

	m.log.Info("Protective market sell placed",
		utils.DealID(deal.DealID),
		utils.OrderID(order.OrderID),
		utils.Symbol(deal.CurrencyPair),
		utils.Amount(amount),
		utils.String("tier", tier))
	m.notifyTier(deal, tier, currentPrice, dropPercent, true)
	return nil
}

func (m *StopLossMonitor) notifyTier(deal *models.Deal, tier string, currentPrice, dropPercent float64, sold bool) {
	ntype := models.NotificationTypeSLCritical
	severity := models.SeverityWarn
	if tier == tierEmergency {
		ntype = models.NotificationTypeSLEmergency
		severity = models.SeverityError
	}
	outcome := "position liquidated"
	if !sold {
		outcome = "market sell failed, deal force-closed"
	}
	m.notify(&models.Notification{
		Timestamp: time.Now(),
		Type:      ntype,
		Severity:  severity,
		DealID:    &deal.DealID,
		Message: fmt.Sprintf("Stop-loss %s on %s: drop %.2f%%, %s",
			tier, deal.CurrencyPair, dropPercent, outcome),
		Meta: map[string]interface{}{
			"current_price": currentPrice,
			"drop_percent":  dropPercent,
			"tier":          tier,
		},
	})
}

// notify отправляет уведомление без блокировки
func (m *StopLossMonitor) notify(n *models.Notification) {
	if m.notifications == nil {
		return
	}
	select {
	case m.notifications <- n:
	default:
		m.log.Warn("Notification channel full, dropping notification",
			utils.String("type", n.Type))
	}
}
