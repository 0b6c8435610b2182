package aggregator

import (
	"time"

	"github.com/shopspring/decimal"

	"strategy-input/internal/account"
	"strategy-input/internal/fetch"
)

// Report 为一次采集的数据质量报告。
type Report struct {
	InputID            string                     `json:"input_id"`
	CollectionTime     time.Time                  `json:"collection_time"`
	CollectionDuration float64                    `json:"collection_duration"`
	Completeness       map[string]decimal.Decimal `json:"data_completeness"`
	Market             MarketQuality              `json:"market_data_quality"`
	Account            AccountQuality             `json:"account_data_quality"`
	Orders             OrderQuality               `json:"order_data_quality"`
	Failures           map[fetch.Op]int           `json:"failures"`
	FailureCount       int                        `json:"failure_count"`
}

// MarketQuality 为行情数据质量。
type MarketQuality struct {
	PairCoverage       decimal.Decimal `json:"trading_pairs_coverage"`
	AverageReliability decimal.Decimal `json:"average_reliability"`
	// DataFreshness 为最新数据距报告时刻的秒数，无数据时为 0。
	DataFreshness     float64 `json:"data_freshness"`
	UnknownTimestamps int     `json:"unknown_timestamps"`
	CrossedOrderBooks int     `json:"crossed_order_books"`
}

// AccountQuality 为账户数据质量。
type AccountQuality struct {
	BalanceCurrencies int               `json:"balance_currencies"`
	TotalEquity       decimal.Decimal   `json:"total_equity"`
	RiskLevel         account.RiskLevel `json:"risk_level"`
}

// OrderQuality 为订单数据质量。
type OrderQuality struct {
	ActiveOrders       int `json:"active_orders"`
	RecentOrders       int `json:"recent_orders"`
	Fills              int `json:"trade_history"`
	InconsistentOrders int `json:"inconsistent_orders"`
	// UnknownTimestamps 为时间无法解析、以采集时刻代替的订单与成交数。
	UnknownTimestamps int `json:"unknown_timestamps"`
}

// BuildReport 基于策略输入生成 at 时刻的质量报告。
func BuildReport(in StrategyInput, at time.Time) Report {
	failures := in.Failures()
	return Report{
		InputID:            in.ID,
		CollectionTime:     in.FinishedAt,
		CollectionDuration: in.Duration().Seconds(),
		Completeness:       in.Completeness,
		Market:             marketQuality(in, at),
		Account: AccountQuality{
			BalanceCurrencies: len(in.Account.SpotBalances),
			TotalEquity:       in.Account.TotalEquity,
			RiskLevel:         in.Account.RiskLevel,
		},
		Orders:       orderQuality(in),
		Failures:     failures.CountByOp(),
		FailureCount: len(failures),
	}
}

func marketQuality(in StrategyInput, at time.Time) MarketQuality {
	m := in.Market
	q := MarketQuality{PairCoverage: decimal.Zero, AverageReliability: decimal.Zero}

	if len(in.Pairs) > 0 {
		q.PairCoverage = decimal.NewFromInt(int64(len(m.Tickers))).
			Div(decimal.NewFromInt(int64(len(in.Pairs))))
	}

	if len(m.Reliability) > 0 {
		sum := decimal.Zero
		for _, r := range m.Reliability {
			sum = sum.Add(r)
		}
		q.AverageReliability = sum.Div(decimal.NewFromInt(int64(len(m.Reliability))))
	}

	first := true
	for _, ts := range m.Timestamps {
		age := at.Sub(ts).Seconds()
		if first || age < q.DataFreshness {
			q.DataFreshness = age
			first = false
		}
	}

	for _, n := range m.UnknownTimestamps {
		q.UnknownTimestamps += n
	}
	for _, book := range m.OrderBooks {
		if book.Crossed() {
			q.CrossedOrderBooks++
		}
	}
	return q
}

func orderQuality(in StrategyInput) OrderQuality {
	q := OrderQuality{
		ActiveOrders: len(in.Orders.ActiveOrders),
		RecentOrders: len(in.Orders.RecentOrders),
		Fills:        len(in.Orders.Fills),
	}
	for _, o := range in.Orders.ActiveOrders {
		if !o.Consistent() {
			q.InconsistentOrders++
		}
		if !o.TimestampKnown {
			q.UnknownTimestamps++
		}
	}
	for _, o := range in.Orders.RecentOrders {
		if !o.Consistent() {
			q.InconsistentOrders++
		}
		if !o.TimestampKnown {
			q.UnknownTimestamps++
		}
	}
	for _, f := range in.Orders.Fills {
		if !f.TimestampKnown {
			q.UnknownTimestamps++
		}
	}
	return q
}
