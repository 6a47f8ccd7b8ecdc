package models

// Торговые сигналы по результатам анализа стакана
const (
	SignalStrongBuy  = "STRONG_BUY"
	SignalWeakBuy    = "WEAK_BUY"
	SignalNeutral    = "NEUTRAL"
	SignalWeakSell   = "WEAK_SELL"
	SignalStrongSell = "STRONG_SELL"
	SignalReject     = "REJECT" // стакан непригоден для торговли
)

// Стороны стакана
const (
	BookSideBid = "bid"
	BookSideAsk = "ask"
)

// Типы больших стенок
const (
	WallTypeSupport    = "support"
	WallTypeResistance = "resistance"
)

// PriceLevel - один уровень стакана [цена, объём]
type PriceLevel struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// OrderBook - сырой снимок стакана: лучший bid/ask первыми
type OrderBook struct {
	Symbol string       `json:"symbol"`
	Bids   []PriceLevel `json:"bids"`
	Asks   []PriceLevel `json:"asks"`
}

// Ticker - последняя цена по символу
type Ticker struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
}

// Wall - большая стенка в стакане (уровень с аномальным объёмом)
type Wall struct {
	Side   string  `json:"side"` // bid, ask
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	Type   string  `json:"type"` // support, resistance
}

// OrderBookMetrics - производные метрики стакана.
//
// Эфемерные: пересчитываются заново на каждое наблюдение стакана,
// никогда не персистятся.
type OrderBookMetrics struct {
	BidAskSpread    float64 `json:"bid_ask_spread"`    // %
	BidVolume       float64 `json:"bid_volume"`
	AskVolume       float64 `json:"ask_volume"`
	VolumeImbalance float64 `json:"volume_imbalance"`  // %, >0 = перевес покупателей
	LiquidityDepth  float64 `json:"liquidity_depth"`
	SupportLevel    float64 `json:"support_level"`     // 0 = не обнаружен
	ResistanceLevel float64 `json:"resistance_level"`  // 0 = не обнаружен
	SlippageBuy     float64 `json:"slippage_buy"`      // %
	SlippageSell    float64 `json:"slippage_sell"`     // %
	BigWalls        []Wall  `json:"big_walls"`
	Signal          string  `json:"signal"`
	Confidence      float64 `json:"confidence"` // 0..1
}
