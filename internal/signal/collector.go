// Package signal 基于已采集的行情推导技术信号，不发起任何网络请求。
package signal

import (
	"fmt"
	"time"

	talib "github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"strategy-input/internal/market"
)

const (
	rsiPeriod = 14
	emaPeriod = 20
	precision = 8
)

// 趋势信号的阈值与强度。该分档只是占位分类，并非真实指标。
var (
	TrendUpThreshold   = decimal.RequireFromString("0.05")
	TrendDownThreshold = decimal.RequireFromString("-0.05")
	TrendUpStrength    = decimal.RequireFromString("0.8")
	TrendDownStrength  = decimal.RequireFromString("0.2")
	TrendFlatStrength  = decimal.RequireFromString("0.5")
)

// Set 为一次采集推导出的信号集合。
// Technical 为行情涨跌幅分档信号，Indicators 为基于K线的指标值。
type Set struct {
	Technical  map[string]decimal.Decimal `json:"technical_signals"`
	Indicators map[string]decimal.Decimal `json:"indicators"`
	CapturedAt time.Time                  `json:"captured_at"`
}

// Collector 负责推导信号。
type Collector struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewCollector 创建信号采集器。
func NewCollector(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Collect 从行情快照推导全部信号。
func (c *Collector) Collect(snapshot market.Snapshot) Set {
	set := Set{
		Technical:  DeriveTechnicalSignals(snapshot),
		Indicators: DeriveIndicators(snapshot),
		CapturedAt: c.now(),
	}
	c.logger.Debug("信号推导完成",
		zap.Int("technical", len(set.Technical)),
		zap.Int("indicators", len(set.Indicators)),
	)
	return set
}

// DeriveTechnicalSignals 为每个有行情的交易对生成 <pair>_trend 信号：
// 24 小时涨幅 > 0.05 为 0.8，< -0.05 为 0.2，其余为 0.5。
func DeriveTechnicalSignals(snapshot market.Snapshot) map[string]decimal.Decimal {
	signals := make(map[string]decimal.Decimal, len(snapshot.Tickers))
	for pair, ticker := range snapshot.Tickers {
		strength := TrendFlatStrength
		switch {
		case ticker.Change24h.GreaterThan(TrendUpThreshold):
			strength = TrendUpStrength
		case ticker.Change24h.LessThan(TrendDownThreshold):
			strength = TrendDownStrength
		}
		signals[pair+"_trend"] = strength
	}
	return signals
}

// DeriveIndicators 在K线足够时计算 <pair>_<interval>_rsi14（0~1）与 <pair>_<interval>_ema_gap（收盘价/EMA20-1）。
func DeriveIndicators(snapshot market.Snapshot) map[string]decimal.Decimal {
	indicators := make(map[string]decimal.Decimal)

	for pair, byInterval := range snapshot.Candles {
		for interval, candles := range byInterval {
			series := NewSeries(candles)
			prefix := fmt.Sprintf("%s_%s", pair, interval)

			if series.Len() > rsiPeriod {
				rsi := Last(talib.Rsi(series.Close, rsiPeriod))
				if finite(rsi) {
					indicators[prefix+"_rsi14"] = decimal.NewFromFloat(rsi / 100).Round(precision)
				}
			}

			if series.Len() >= emaPeriod {
				ema := Last(talib.Ema(series.Close, emaPeriod))
				if finite(ema) && ema != 0 {
					gap := SafeDivide(Last(series.Close), ema) - 1
					if finite(gap) {
						indicators[prefix+"_ema_gap"] = decimal.NewFromFloat(gap).Round(precision)
					}
				}
			}
		}
	}

	return indicators
}
