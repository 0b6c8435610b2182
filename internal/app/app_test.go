package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"strategy-input/internal/aggregator"
	"strategy-input/internal/config"
	"strategy-input/internal/exchange"
	"strategy-input/internal/fetch"
	"strategy-input/internal/metrics"
	"strategy-input/internal/monitor"
	"strategy-input/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.Database.InMemory = true
	cfg.Trading.Pairs = []string{"BTC_USDT"}
	cfg.Trading.Intervals = []string{"1h"}
	cfg.Collection.Workers = 2
	cfg.Collection.CallTimeout = time.Second
	cfg.Monitor.Enabled = false
	return cfg
}

func testSource() *exchange.StaticSource {
	return &exchange.StaticSource{
		Tickers: []exchange.RawTicker{
			{Pair: "BTC_USDT", Last: "100", HighestBid: "101", LowestAsk: "99"},
			{Pair: "ETH_USDT", Last: "10", HighestBid: "9.9", LowestAsk: "10.1"},
		},
		OrderBooks: map[string]exchange.RawOrderBook{
			"BTC_USDT": {Asks: [][]interface{}{{"100", "0"}, {"101", "2"}}, Bids: [][]interface{}{{"99", "1"}}},
		},
		Balances: []exchange.RawBalance{
			{Currency: "USDT", Available: "1000", Locked: "0"},
			{Currency: "ETH", Available: "2", Locked: "0"},
		},
	}
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, src exchange.Source) *orchestrator {
	t.Helper()
	st, err := store.NewSQLite(cfg.Database)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	orch, err := newOrchestrator(context.Background(), cfg, src, st, metrics.New(), zap.NewNop())
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orch
}

func TestTickCollectsCleansAndJournals(t *testing.T) {
	cfg := testConfig(t)
	orch := newTestOrchestrator(t, cfg, testSource())

	cycle, err := orch.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}

	// 买一高于最新价的行情被清洗掉，零数量档位被剔除。
	if _, ok := cycle.Input.Market.Tickers["BTC_USDT"]; ok {
		t.Fatalf("crossed ticker should be dropped")
	}
	if cycle.Cleaning.DroppedTickers != 1 || cycle.Cleaning.DroppedLevels != 1 {
		t.Fatalf("unexpected cleaning stats %+v", cycle.Cleaning)
	}
	if book := cycle.Input.Market.OrderBooks["BTC_USDT"]; len(book.Asks) != 1 {
		t.Fatalf("asks after cleaning = %+v", book.Asks)
	}

	// 费率读取失败时使用兜底费率，不影响采集。
	if fee, ok := cycle.Input.Account.Fees["BTC_USDT"]; !ok || fee.Taker.String() != "0.002" {
		t.Fatalf("fallback fee = %+v", fee)
	}

	if cycle.Report.InputID == "" || cycle.Report.InputID != cycle.Input.ID {
		t.Fatalf("report id mismatch: %q vs %q", cycle.Report.InputID, cycle.Input.ID)
	}
	if orch.Latest() != cycle {
		t.Fatalf("latest cycle not stored")
	}

	events, err := orch.monitor.ListEvents(context.Background(), monitor.EventQualityReport, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].InputID != cycle.Input.ID {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestTickIncludesHoldingPairs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Trading.IncludeHoldings = true
	orch := newTestOrchestrator(t, cfg, testSource())

	cycle, err := orch.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := strings.Join(cycle.Input.Pairs, ","); got != "BTC_USDT,ETH_USDT" {
		t.Fatalf("pairs = %s", got)
	}
	if _, ok := cycle.Input.Market.Tickers["ETH_USDT"]; !ok {
		t.Fatalf("holding pair ticker missing")
	}
}

func TestTickRecordsAggregationError(t *testing.T) {
	cfg := testConfig(t)
	orch := newTestOrchestrator(t, cfg, testSource())
	orch.pairs = []string{"BTCUSDT"}

	if _, err := orch.Tick(context.Background()); !errors.Is(err, aggregator.ErrInvalidPair) {
		t.Fatalf("expected ErrInvalidPair, got %v", err)
	}
	if orch.Latest() != nil {
		t.Fatalf("failed cycle must not replace latest")
	}

	events, err := orch.monitor.ListEvents(context.Background(), monitor.EventCollectionError, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one error event, got %d", len(events))
	}
}

func TestTickSurvivesSourceFailures(t *testing.T) {
	cfg := testConfig(t)
	src := testSource()
	src.Fail(fetch.OpTickers, "", errors.New("gateway timeout"))
	src.Fail(fetch.OpBalances, "", errors.New("gateway timeout"))
	orch := newTestOrchestrator(t, cfg, src)

	cycle, err := orch.Tick(context.Background())
	if err != nil {
		t.Fatalf("per-item failures must not fail the cycle: %v", err)
	}
	if cycle.Report.FailureCount == 0 {
		t.Fatalf("failures should be reported")
	}
	if got := cycle.Report.Completeness[aggregator.SubsystemAccount].String(); got != "0.5" {
		t.Fatalf("account completeness = %s", got)
	}
}

func TestMonitorHandler(t *testing.T) {
	cfg := testConfig(t)
	orch := newTestOrchestrator(t, cfg, testSource())
	m := metrics.New()
	handler := newMonitorHandler(orch, m, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status before first cycle = %d", rec.Code)
	}

	if _, err := orch.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var report aggregator.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.InputID != orch.Latest().Input.ID {
		t.Fatalf("report id = %q", report.InputID)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?type=QUALITY_REPORT&limit=5", nil))
	var events []monitor.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d", len(events))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
}

func TestRunOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.RunOnce = true
	st, err := store.NewSQLite(cfg.Database)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	if err := New(cfg, nil, st, testSource()).Run(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
}
