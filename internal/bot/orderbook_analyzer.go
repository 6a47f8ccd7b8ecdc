package bot

import (
	"math"

	"autotrade/internal/config"
	"autotrade/internal/models"
)

// ============================================================================
// АНАЛИЗАТОР СТАКАНА
// ============================================================================

const (
	// slippageUnfillable - сентинел: стакан не может исполнить типовой ордер
	slippageUnfillable = 999.0

	// liquidityBandPercent - ширина ценовой полосы для расчёта глубины
	liquidityBandPercent = 5.0

	// supportLookupLevels - число уровней, среди которых ищется support/resistance
	supportLookupLevels = 20

	// supportMaxDistancePercent - максимальное удаление уровня от лучшей цены
	supportMaxDistancePercent = 2.0

	priceEpsilon = 1e-8
)

// OrderBookAnalyzer превращает сырой стакан в производные метрики.
//
// Полностью детерминирован и не имеет состояния: одинаковый стакан
// всегда даёт одинаковые метрики.
type OrderBookAnalyzer struct {
	cfg config.OrderBookConfig
}

// NewOrderBookAnalyzer создаёт анализатор с заданными порогами
func NewOrderBookAnalyzer(cfg config.OrderBookConfig) *OrderBookAnalyzer {
	return &OrderBookAnalyzer{cfg: cfg}
}

// AnalyzeOrderBook вычисляет метрики по снимку стакана.
// Bids и asks должны идти от лучшей цены.
func (a *OrderBookAnalyzer) AnalyzeOrderBook(book *models.OrderBook) *models.OrderBookMetrics {
	metrics := &models.OrderBookMetrics{
		Signal:     models.SignalNeutral,
		Confidence: 0.5,
	}

	// Пустая сторона - торговать нечем
	if book == nil || len(book.Bids) == 0 || len(book.Asks) == 0 {
		metrics.Signal = models.SignalReject
		metrics.Confidence = 0.9
		return metrics
	}

	bestBid := book.Bids[0].Price
	bestAsk := book.Asks[0].Price

	metrics.BidAskSpread = (bestAsk - bestBid) / bestBid * 100

	// Объёмы по верхним уровням и дисбаланс
	depthLevels := int(a.cfg.MinLiquidityDepth)
	if depthLevels < 1 {
		depthLevels = 1
	}
	metrics.BidVolume = sumTopVolumes(book.Bids, depthLevels)
	metrics.AskVolume = sumTopVolumes(book.Asks, depthLevels)
	if total := metrics.BidVolume + metrics.AskVolume; total > 0 {
		metrics.VolumeImbalance = (metrics.BidVolume - metrics.AskVolume) / total * 100
	}

	metrics.LiquidityDepth = a.liquidityDepth(book, bestBid, bestAsk)
	metrics.SupportLevel = strongestLevel(book.Bids, bestBid)
	metrics.ResistanceLevel = strongestLevel(book.Asks, bestAsk)
	metrics.SlippageBuy = a.slippage(book.Asks)
	metrics.SlippageSell = a.slippage(book.Bids)
	metrics.BigWalls = a.findBigWalls(book)

	// Непригодный стакан отсекается до скоринга
	if metrics.BidAskSpread > a.cfg.MaxSpreadPercent ||
		metrics.SlippageBuy > 2 || metrics.SlippageSell > 2 ||
		metrics.LiquidityDepth < a.cfg.MinLiquidityDepth {
		metrics.Signal = models.SignalReject
		metrics.Confidence = 0.9
		return metrics
	}

	a.scoreSignal(metrics)
	return metrics
}

// sumTopVolumes суммирует объём верхних n уровней
func sumTopVolumes(levels []models.PriceLevel, n int) float64 {
	if n > len(levels) {
		n = len(levels)
	}
	total := 0.0
	for i := 0; i < n; i++ {
		total += levels[i].Volume
	}
	return total
}

// liquidityDepth - объём в пределах 5% от лучшей цены, нормированный
// на максимальное наблюдаемое удаление цены внутри полосы
func (a *OrderBookAnalyzer) liquidityDepth(book *models.OrderBook, bestBid, bestAsk float64) float64 {
	totalVolume := 0.0
	maxDistance := 0.0

	lowBound := bestBid * (1 - liquidityBandPercent/100)
	for _, lvl := range book.Bids {
		if lvl.Price < lowBound {
			break
		}
		totalVolume += lvl.Volume
		if d := bestBid - lvl.Price; d > maxDistance {
			maxDistance = d
		}
	}

	highBound := bestAsk * (1 + liquidityBandPercent/100)
	for _, lvl := range book.Asks {
		if lvl.Price > highBound {
			break
		}
		totalVolume += lvl.Volume
		if d := lvl.Price - bestAsk; d > maxDistance {
			maxDistance = d
		}
	}

	return totalVolume / math.Max(maxDistance, priceEpsilon)
}

// strongestLevel находит цену уровня с максимальным объёмом среди верхних 20,
// принимая её только в пределах 2% от лучшей цены. 0 = уровень не обнаружен.
func strongestLevel(levels []models.PriceLevel, bestPrice float64) float64 {
	n := supportLookupLevels
	if n > len(levels) {
		n = len(levels)
	}

	bestVolume := 0.0
	price := 0.0
	for i := 0; i < n; i++ {
		if levels[i].Volume > bestVolume {
			bestVolume = levels[i].Volume
			price = levels[i].Price
		}
	}
	if price == 0 {
		return 0
	}
	if math.Abs(price-bestPrice)/bestPrice*100 > supportMaxDistancePercent {
		return 0
	}
	return price
}

// slippage - отклонение средневзвешенной цены исполнения типового ордера
// от лучшей цены стороны, в процентах. Возвращает сентинел, если стакан
// не вмещает весь ордер.
func (a *OrderBookAnalyzer) slippage(levels []models.PriceLevel) float64 {
	orderSize := a.cfg.TypicalOrderSize
	if orderSize <= 0 || len(levels) == 0 {
		return 0
	}

	bestPrice := levels[0].Price
	remaining := orderSize
	cost := 0.0
	for _, lvl := range levels {
		fill := math.Min(remaining, lvl.Volume)
		cost += fill * lvl.Price
		remaining -= fill
		if remaining <= 0 {
			break
		}
	}
	if remaining > 0 {
		return slippageUnfillable
	}

	vwap := cost / orderSize
	return math.Abs(vwap-bestPrice) / bestPrice * 100
}

// findBigWalls собирает уровни с объёмом выше порога стенки
func (a *OrderBookAnalyzer) findBigWalls(book *models.OrderBook) []models.Wall {
	var walls []models.Wall
	if a.cfg.BigWallThreshold <= 0 {
		return walls
	}
	for _, lvl := range book.Bids {
		if lvl.Volume > a.cfg.BigWallThreshold {
			walls = append(walls, models.Wall{
				Side:   models.BookSideBid,
				Price:  lvl.Price,
				Volume: lvl.Volume,
				Type:   models.WallTypeSupport,
			})
		}
	}
	for _, lvl := range book.Asks {
		if lvl.Volume > a.cfg.BigWallThreshold {
			walls = append(walls, models.Wall{
				Side:   models.BookSideAsk,
				Price:  lvl.Price,
				Volume: lvl.Volume,
				Type:   models.WallTypeResistance,
			})
		}
	}
	return walls
}

// scoreSignal переводит метрики в торговый сигнал с уверенностью
func (a *OrderBookAnalyzer) scoreSignal(m *models.OrderBookMetrics) {
	score := 0

	switch {
	case m.VolumeImbalance > 20:
		score += 2
	case m.VolumeImbalance > 10:
		score++
	case m.VolumeImbalance < -20:
		score -= 2
	case m.VolumeImbalance < -10:
		score--
	}

	supportWalls, resistanceWalls := 0, 0
	for _, w := range m.BigWalls {
		if w.Type == models.WallTypeSupport {
			supportWalls++
		} else {
			resistanceWalls++
		}
	}
	if supportWalls > resistanceWalls {
		score++
	} else if resistanceWalls > supportWalls {
		score--
	}

	if m.LiquidityDepth > 2*a.cfg.MinLiquidityDepth {
		score++
	}
	if m.SlippageBuy < 0.1 && m.SlippageSell < 0.1 {
		score++
	}

	confidence := 0.5 + 0.1*math.Abs(float64(score))
	switch {
	case score >= 3:
		m.Signal = models.SignalStrongBuy
		m.Confidence = math.Min(confidence, 0.95)
	case score >= 1:
		m.Signal = models.SignalWeakBuy
		m.Confidence = math.Min(confidence, 0.8)
	case score <= -3:
		m.Signal = models.SignalStrongSell
		m.Confidence = math.Min(confidence, 0.95)
	case score <= -1:
		m.Signal = models.SignalWeakSell
		m.Confidence = math.Min(confidence, 0.8)
	default:
		m.Signal = models.SignalNeutral
		m.Confidence = 0.5
	}
}
