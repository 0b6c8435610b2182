package aggregator

import "github.com/shopspring/decimal"

// Weights 为各子系统完整度的得分项，可由配置覆盖。
type Weights struct {
	Tickers        decimal.Decimal
	OrderBooks     decimal.Decimal
	Trades         decimal.Decimal
	Candles        decimal.Decimal
	AccountPresent decimal.Decimal
	AccountMissing decimal.Decimal
	Orders         decimal.Decimal
	SignalsPresent decimal.Decimal
	SignalsMissing decimal.Decimal
}

// DefaultWeights 返回默认得分项。
func DefaultWeights() Weights {
	return Weights{
		Tickers:        decimal.RequireFromString("0.3"),
		OrderBooks:     decimal.RequireFromString("0.3"),
		Trades:         decimal.RequireFromString("0.2"),
		Candles:        decimal.RequireFromString("0.2"),
		AccountPresent: decimal.RequireFromString("1.0"),
		AccountMissing: decimal.RequireFromString("0.5"),
		Orders:         decimal.RequireFromString("1.0"),
		SignalsPresent: decimal.RequireFromString("0.5"),
		SignalsMissing: decimal.RequireFromString("0.3"),
	}
}

// Completeness 计算各子系统的完整度。各项为独立启发式评分，互不归一化。
// 行情的某一类数据只要任一交易对存在至少一条记录即计分。
func (w Weights) Completeness(in StrategyInput) map[string]decimal.Decimal {
	m := in.Market

	marketScore := decimal.Zero
	if len(m.Tickers) > 0 {
		marketScore = marketScore.Add(w.Tickers)
	}
	if len(m.OrderBooks) > 0 {
		marketScore = marketScore.Add(w.OrderBooks)
	}
	if anyTrades(m.Trades) {
		marketScore = marketScore.Add(w.Trades)
	}
	if anyCandles(m.Candles) {
		marketScore = marketScore.Add(w.Candles)
	}

	accountScore := w.AccountMissing
	if len(in.Account.SpotBalances) > 0 {
		accountScore = w.AccountPresent
	}

	signalScore := w.SignalsMissing
	if len(in.Signals.Technical) > 0 {
		signalScore = w.SignalsPresent
	}

	return map[string]decimal.Decimal{
		SubsystemMarket:  marketScore,
		SubsystemAccount: accountScore,
		SubsystemOrder:   w.Orders,
		SubsystemSignals: signalScore,
	}
}

func anyTrades[T any](trades map[string][]T) bool {
	for _, list := range trades {
		if len(list) > 0 {
			return true
		}
	}
	return false
}

func anyCandles[T any](candles map[string]map[string][]T) bool {
	for _, byInterval := range candles {
		for _, list := range byInterval {
			if len(list) > 0 {
				return true
			}
		}
	}
	return false
}
