package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"strategy-input/internal/aggregator"
	"strategy-input/internal/fetch"
	"strategy-input/internal/market"
)

// sample 在注册表中按名称与标签查找样本值。
func sample(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := 0
			for _, pair := range metric.GetLabel() {
				if v, ok := labels[pair.GetName()]; ok && v == pair.GetValue() {
					matched++
				}
			}
			if matched != len(labels) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func TestObserveFetchResults(t *testing.T) {
	m := New()
	m.ObserveFetch(fetch.OpTickers, 10*time.Millisecond, nil)
	m.ObserveFetch(fetch.OpTickers, time.Second, fmt.Errorf("wrapped: %w", context.DeadlineExceeded))
	m.ObserveFetch(fetch.OpTickers, time.Millisecond, errors.New("boom"))

	for result, want := range map[string]float64{ResultOK: 1, ResultTimeout: 1, ResultError: 1} {
		got := sample(t, m, "strategy_input_fetch_requests_total", map[string]string{"operation": "list_tickers", "result": result})
		if got != want {
			t.Errorf("%s = %v, want %v", result, got, want)
		}
	}
	if got := sample(t, m, "strategy_input_fetch_duration_seconds", map[string]string{"operation": "list_tickers"}); got != 3 {
		t.Errorf("duration samples = %v, want 3", got)
	}
}

func TestObserveInput(t *testing.T) {
	m := New()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	in := aggregator.StrategyInput{
		Market:       market.NewSnapshot("test", start),
		StartedAt:    start,
		FinishedAt:   start.Add(2 * time.Second),
		Completeness: map[string]decimal.Decimal{aggregator.SubsystemMarket: decimal.RequireFromString("0.6")},
	}
	in.Market.Reliability["OLD_USDT"] = decimal.RequireFromString("0.3")
	m.ObserveInput(in, aggregator.CleanStats{})

	delete(in.Market.Reliability, "OLD_USDT")
	in.Market.Reliability["BTC_USDT"] = decimal.RequireFromString("0.9")
	m.ObserveInput(in, aggregator.CleanStats{DroppedLevels: 3})

	if got := sample(t, m, "strategy_input_completeness_score", map[string]string{"subsystem": "market_data"}); got != 0.6 {
		t.Errorf("completeness = %v", got)
	}
	if got := sample(t, m, "strategy_input_pair_reliability", map[string]string{"pair": "BTC_USDT"}); got != 0.9 {
		t.Errorf("reliability = %v", got)
	}
	if got := sample(t, m, "strategy_input_cleaning_dropped_total", map[string]string{"kind": "order_book_level"}); got != 3 {
		t.Errorf("dropped levels = %v", got)
	}
	if got := sample(t, m, "strategy_input_cycles_total", map[string]string{"result": ResultOK}); got != 2 {
		t.Errorf("cycles = %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if strings.Contains(body, "OLD_USDT") {
		t.Errorf("stale pair should be removed from the reliability gauge")
	}
	if !strings.Contains(body, "strategy_input_collection_duration_seconds_count 2") {
		t.Errorf("collection duration not exported:\n%s", body)
	}
}
