package market

import "github.com/shopspring/decimal"

// 可靠度默认扣分项。
var (
	DefaultTickerPenalty           = decimal.RequireFromString("0.3")
	DefaultOrderBookPenalty        = decimal.RequireFromString("0.3")
	DefaultTradesPenalty           = decimal.RequireFromString("0.2")
	DefaultCandlesPenalty          = decimal.RequireFromString("0.2")
	DefaultUnknownTimestampPenalty = decimal.RequireFromString("0.1")
)

// Weights 为单个交易对可靠度的扣分项，可由配置覆盖。
type Weights struct {
	Ticker           decimal.Decimal
	OrderBook        decimal.Decimal
	Trades           decimal.Decimal
	Candles          decimal.Decimal
	UnknownTimestamp decimal.Decimal
}

// DefaultWeights 返回默认扣分项。
func DefaultWeights() Weights {
	return Weights{
		Ticker:           DefaultTickerPenalty,
		OrderBook:        DefaultOrderBookPenalty,
		Trades:           DefaultTradesPenalty,
		Candles:          DefaultCandlesPenalty,
		UnknownTimestamp: DefaultUnknownTimestampPenalty,
	}
}

// Presence 描述某交易对各类数据是否存在。
type Presence struct {
	Ticker            bool
	OrderBook         bool
	Trades            bool
	Candles           bool
	UnknownTimestamps int
}

// Score 从 1 开始按缺失项扣分，结果不低于 0。
func (w Weights) Score(p Presence) decimal.Decimal {
	score := decimal.NewFromInt(1)
	if !p.Ticker {
		score = score.Sub(w.Ticker)
	}
	if !p.OrderBook {
		score = score.Sub(w.OrderBook)
	}
	if !p.Trades {
		score = score.Sub(w.Trades)
	}
	if !p.Candles {
		score = score.Sub(w.Candles)
	}
	if p.UnknownTimestamps > 0 {
		score = score.Sub(w.UnknownTimestamp)
	}
	if score.IsNegative() {
		return decimal.Zero
	}
	return score
}
