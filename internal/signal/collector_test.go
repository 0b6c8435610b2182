package signal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"strategy-input/internal/market"
)

func snapshotWithChanges(changes map[string]string) market.Snapshot {
	s := market.NewSnapshot("test", time.Unix(0, 0).UTC())
	for pair, change := range changes {
		s.Tickers[pair] = market.Ticker{Pair: pair, Change24h: decimal.RequireFromString(change)}
	}
	return s
}

func TestDeriveTechnicalSignals(t *testing.T) {
	s := snapshotWithChanges(map[string]string{
		"UP_USDT":   "0.051",
		"EDGE_USDT": "0.05",
		"DOWN_USDT": "-0.06",
		"FLAT_USDT": "-0.05",
	})

	signals := DeriveTechnicalSignals(s)
	want := map[string]string{
		"UP_USDT_trend":   "0.8",
		"EDGE_USDT_trend": "0.5",
		"DOWN_USDT_trend": "0.2",
		"FLAT_USDT_trend": "0.5",
	}
	if len(signals) != len(want) {
		t.Fatalf("expected %d signals, got %v", len(want), signals)
	}
	for key, v := range want {
		if got, ok := signals[key]; !ok || !got.Equal(decimal.RequireFromString(v)) {
			t.Errorf("%s = %s, want %s", key, got, v)
		}
	}
}

func TestDeriveTechnicalSignalsEmpty(t *testing.T) {
	if got := DeriveTechnicalSignals(market.NewSnapshot("test", time.Time{})); len(got) != 0 {
		t.Fatalf("no tickers should yield no signals, got %v", got)
	}
}

func candles(closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		// 倒序放置，验证计算前会按时间排序。
		idx := len(closes) - 1 - i
		out[idx] = market.Candle{
			OpenTime: time.Unix(int64(i*60), 0).UTC(),
			Close:    decimal.NewFromFloat(c),
		}
	}
	return out
}

func TestDeriveIndicators(t *testing.T) {
	rising := make([]float64, 25)
	flat := make([]float64, 25)
	for i := range rising {
		rising[i] = float64(100 + i)
		flat[i] = 50
	}

	s := market.NewSnapshot("test", time.Time{})
	s.Candles["BTC_USDT"] = map[string][]market.Candle{
		"1m": candles(rising...),
		"1h": candles(flat...),
		"1d": candles(1, 2, 3),
	}

	indicators := DeriveIndicators(s)

	if got := indicators["BTC_USDT_1m_rsi14"]; !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("rising series rsi = %s, want 1", got)
	}
	if got := indicators["BTC_USDT_1m_ema_gap"]; !got.IsPositive() {
		t.Fatalf("rising series should close above its EMA, gap = %s", got)
	}
	if got, ok := indicators["BTC_USDT_1h_ema_gap"]; !ok || !got.IsZero() {
		t.Fatalf("flat series gap = %s (present=%v), want 0", got, ok)
	}
	if _, ok := indicators["BTC_USDT_1d_rsi14"]; ok {
		t.Fatalf("short series must not produce indicators")
	}
}

func TestCollectKeepsTechnicalAndIndicatorsSeparate(t *testing.T) {
	c := NewCollector(nil)
	fixed := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	set := c.Collect(snapshotWithChanges(map[string]string{"BTC_USDT": "0"}))
	if len(set.Technical) != 1 || len(set.Indicators) != 0 {
		t.Fatalf("unexpected set: %+v", set)
	}
	if !set.CapturedAt.Equal(fixed) {
		t.Fatalf("captured at = %s", set.CapturedAt)
	}
}
