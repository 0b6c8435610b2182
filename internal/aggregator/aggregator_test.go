package aggregator

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"strategy-input/internal/account"
	"strategy-input/internal/exchange"
	"strategy-input/internal/fetch"
	"strategy-input/internal/market"
	"strategy-input/internal/order"
	"strategy-input/internal/signal"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func level(price, volume string) market.OrderBookLevel {
	return market.OrderBookLevel{Price: dec(price), Volume: dec(volume)}
}

func newTestAggregator(src exchange.Source) *Aggregator {
	runner := fetch.NewRunner(fetch.Options{Workers: 2, Timeout: time.Second}, nil, nil)
	a := New(
		market.NewCollector(src, runner, market.Options{Source: "test"}, nil),
		account.NewCollector(src, runner, account.Options{}, nil),
		order.NewCollector(src, runner, order.Options{}, nil),
		signal.NewCollector(nil),
		Options{Config: ConfigInput{Environment: "test"}},
		nil,
	)
	a.now = func() time.Time { return fixedNow }
	a.newID = func() string { return "input-1" }
	return a
}

func fullSource() *exchange.StaticSource {
	return &exchange.StaticSource{
		Tickers: []exchange.RawTicker{
			{Pair: "BTC_USDT", Last: "100", HighestBid: "99", LowestAsk: "101"},
			{Pair: "ETH_USDT", Last: "10", HighestBid: "9.9", LowestAsk: "10.1"},
			{Pair: "SOL_USDT", Last: "20", HighestBid: "19.9", LowestAsk: "20.1"},
		},
		OrderBooks: map[string]exchange.RawOrderBook{
			"BTC_USDT": {Asks: [][]interface{}{{"100", "0"}, {"101", "2"}}, Bids: [][]interface{}{{"99", "1"}, {"98", "0"}}},
		},
		Trades: map[string][]exchange.RawTrade{
			"BTC_USDT": {{ID: 1, Price: "100", Amount: "0.5", Side: "buy", CreateTime: 1709294400}},
		},
		Candles: map[string]map[string][]exchange.RawCandle{
			"BTC_USDT": {"1h": {{1709294400, "10", "100", "101", "99", "100"}}},
		},
		Balances: []exchange.RawBalance{
			{Currency: "USDT", Available: "1000", Locked: "0"},
			{Currency: "BTC", Available: "0.1", Locked: "0"},
			{Currency: "DOGE", Available: "50", Locked: "0"},
		},
		FeeRate: &exchange.RawFeeRate{Maker: "0.001", Taker: "0.002"},
	}
}

func TestCollectRejectsBadPairs(t *testing.T) {
	a := newTestAggregator(fullSource())

	if _, err := a.Collect(context.Background(), nil, nil); !errors.Is(err, ErrNoPairs) {
		t.Fatalf("expected ErrNoPairs, got %v", err)
	}
	if _, err := a.Collect(context.Background(), []string{"BTCUSDT"}, nil); !errors.Is(err, ErrInvalidPair) {
		t.Fatalf("expected ErrInvalidPair, got %v", err)
	}
}

func TestCollectCancelledContext(t *testing.T) {
	src := fullSource()
	a := newTestAggregator(src)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.Collect(ctx, []string{"BTC_USDT"}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := src.Calls(fetch.OpTickers); n != 0 {
		t.Fatalf("no request should be issued after cancellation, got %d", n)
	}
}

func TestCollectFullInput(t *testing.T) {
	a := newTestAggregator(fullSource())

	in, err := a.Collect(context.Background(), []string{"BTC_USDT", "ETH_USDT"}, []string{"1h"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if in.ID != "input-1" || in.Config.Environment != "test" {
		t.Fatalf("unexpected header: id=%s env=%s", in.ID, in.Config.Environment)
	}

	want := map[string]string{
		SubsystemMarket:  "1.0",
		SubsystemAccount: "1.0",
		SubsystemOrder:   "1.0",
		SubsystemSignals: "0.5",
	}
	for key, v := range want {
		if got := in.Completeness[key]; !got.Equal(dec(v)) {
			t.Errorf("completeness[%s] = %s, want %s", key, got, v)
		}
	}

	failures := in.Failures()
	if !failures.Has(fetch.OpOrderBook, "ETH_USDT") {
		t.Fatalf("missing ETH order book should be a recorded failure, got %v", failures)
	}
	if failures.Has(fetch.OpTrades, "ETH_USDT") {
		t.Fatalf("missing trades are an empty success, got %v", failures)
	}
}

func TestCompletenessWithEmptySubsystems(t *testing.T) {
	in := StrategyInput{
		Market:  market.NewSnapshot("test", fixedNow),
		Account: account.Snapshot{},
		Signals: signal.Set{},
	}
	in.Market.Trades["BTC_USDT"] = nil

	got := DefaultWeights().Completeness(in)
	want := map[string]string{
		SubsystemMarket:  "0",
		SubsystemAccount: "0.5",
		SubsystemOrder:   "1.0",
		SubsystemSignals: "0.3",
	}
	for key, v := range want {
		if !got[key].Equal(dec(v)) {
			t.Errorf("completeness[%s] = %s, want %s", key, got[key], v)
		}
	}
}

func TestCleanOrderBooksAndTickers(t *testing.T) {
	a := newTestAggregator(fullSource())

	in := StrategyInput{Market: market.NewSnapshot("test", fixedNow)}
	in.Market.Tickers["BTC_USDT"] = market.Ticker{Pair: "BTC_USDT", LastPrice: dec("100"), BidPrice: dec("99"), AskPrice: dec("101")}
	in.Market.Tickers["ETH_USDT"] = market.Ticker{Pair: "ETH_USDT", LastPrice: dec("100"), BidPrice: dec("102"), AskPrice: dec("101")}
	in.Market.Tickers["SOL_USDT"] = market.Ticker{Pair: "SOL_USDT", LastPrice: dec("0"), BidPrice: dec("1"), AskPrice: dec("2")}
	in.Market.OrderBooks["BTC_USDT"] = market.OrderBook{
		Pair: "BTC_USDT",
		Asks: []market.OrderBookLevel{level("100", "0"), level("101", "2")},
		Bids: []market.OrderBookLevel{level("99", "1"), level("98", "0")},
	}
	in.Market.OrderBooks["ETH_USDT"] = market.OrderBook{
		Pair: "ETH_USDT",
		Asks: []market.OrderBookLevel{level("10", "0")},
		Bids: []market.OrderBookLevel{level("9", "1")},
	}

	out, stats := a.Clean(in)

	if _, ok := out.Market.Tickers["BTC_USDT"]; !ok {
		t.Fatalf("valid ticker 100/99/101 must be kept")
	}
	if len(out.Market.Tickers) != 1 {
		t.Fatalf("crossed and zero-price tickers must be dropped, got %v", out.Market.Tickers)
	}

	book, ok := out.Market.OrderBooks["BTC_USDT"]
	if !ok {
		t.Fatalf("BTC book should survive cleaning")
	}
	if !reflect.DeepEqual(book.Asks, []market.OrderBookLevel{level("101", "2")}) {
		t.Fatalf("asks = %v", book.Asks)
	}
	if !reflect.DeepEqual(book.Bids, []market.OrderBookLevel{level("99", "1")}) {
		t.Fatalf("bids = %v", book.Bids)
	}
	if _, ok := out.Market.OrderBooks["ETH_USDT"]; ok {
		t.Fatalf("book with an empty side must be dropped")
	}

	want := CleanStats{DroppedTickers: 2, DroppedLevels: 3, DroppedOrderBooks: 1}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
	if len(in.Market.OrderBooks["BTC_USDT"].Asks) != 2 || len(in.Market.Tickers) != 3 {
		t.Fatalf("input must not be modified")
	}
}

func TestBuildReport(t *testing.T) {
	in := StrategyInput{
		ID:         "input-2",
		Pairs:      []string{"BTC_USDT", "ETH_USDT"},
		Market:     market.NewSnapshot("test", fixedNow),
		StartedAt:  fixedNow.Add(-3 * time.Second),
		FinishedAt: fixedNow.Add(-time.Second),
		Account: account.Snapshot{
			SpotBalances: map[string]account.Balance{"USDT": {Currency: "USDT"}},
			TotalEquity:  dec("1000"),
			RiskLevel:    account.RiskLow,
		},
		Orders: order.Snapshot{
			ActiveOrders: map[string]order.Order{
				"1": {ID: "1", Amount: dec("1"), Filled: dec("0.8"), Remaining: dec("0.5"), TimestampKnown: true},
			},
			RecentOrders: []order.Order{{ID: "2", Amount: dec("1"), Filled: dec("1"), TimestampKnown: true}},
			Fills:        []order.Fill{{ID: "f1", TimestampKnown: true}, {ID: "f2"}},
			Failures:     fetch.Failures{fetch.NewError(fetch.OpFills, "ETH_USDT", "", errors.New("boom"))},
		},
	}
	in.Market.Tickers["BTC_USDT"] = market.Ticker{Pair: "BTC_USDT"}
	in.Market.Reliability["BTC_USDT"] = dec("1")
	in.Market.Reliability["ETH_USDT"] = dec("0.6")
	in.Market.Timestamps["BTC_USDT"] = fixedNow.Add(-10 * time.Second)
	in.Market.Timestamps["ETH_USDT"] = fixedNow.Add(-4 * time.Second)
	in.Market.UnknownTimestamps["BTC_USDT"] = 2
	in.Market.OrderBooks["BTC_USDT"] = market.OrderBook{
		Asks: []market.OrderBookLevel{level("98", "1")},
		Bids: []market.OrderBookLevel{level("99", "1")},
	}

	r := BuildReport(in, fixedNow)

	if r.InputID != "input-2" || r.CollectionDuration != 2 {
		t.Fatalf("header = %s / %v", r.InputID, r.CollectionDuration)
	}
	if !r.CollectionTime.Equal(in.FinishedAt) {
		t.Errorf("collection time = %v, want finish time %v", r.CollectionTime, in.FinishedAt)
	}
	if !r.Market.PairCoverage.Equal(dec("0.5")) {
		t.Errorf("coverage = %s, want 0.5", r.Market.PairCoverage)
	}
	if !r.Market.AverageReliability.Equal(dec("0.8")) {
		t.Errorf("average reliability = %s, want 0.8", r.Market.AverageReliability)
	}
	if r.Market.DataFreshness != 4 {
		t.Errorf("freshness = %v, want 4", r.Market.DataFreshness)
	}
	if r.Market.UnknownTimestamps != 2 || r.Market.CrossedOrderBooks != 1 {
		t.Errorf("market quality = %+v", r.Market)
	}
	if r.Account.BalanceCurrencies != 1 || r.Account.RiskLevel != account.RiskLow {
		t.Errorf("account quality = %+v", r.Account)
	}
	wantOrders := OrderQuality{ActiveOrders: 1, RecentOrders: 1, Fills: 2, InconsistentOrders: 1, UnknownTimestamps: 1}
	if r.Orders != wantOrders {
		t.Errorf("order quality = %+v, want %+v", r.Orders, wantOrders)
	}
	if r.FailureCount != 1 || r.Failures[fetch.OpFills] != 1 {
		t.Errorf("failures = %v", r.Failures)
	}
}

func TestBuildReportEmptyInput(t *testing.T) {
	r := BuildReport(StrategyInput{Market: market.NewSnapshot("test", fixedNow)}, fixedNow)
	if !r.Market.PairCoverage.IsZero() || !r.Market.AverageReliability.IsZero() || r.Market.DataFreshness != 0 {
		t.Fatalf("empty input should report zeros, got %+v", r.Market)
	}
}

func TestDiscoverPairs(t *testing.T) {
	a := newTestAggregator(fullSource())

	pairs, err := a.DiscoverPairs(context.Background(), []string{"ETH_USDT"})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	// DOGE_USDT 不在行情中，被过滤。
	if !reflect.DeepEqual(pairs, []string{"ETH_USDT", "BTC_USDT"}) {
		t.Fatalf("pairs = %v", pairs)
	}
}

func TestDiscoverPairsFallsBackOnBalanceFailure(t *testing.T) {
	src := fullSource()
	src.Fail(fetch.OpBalances, "", errors.New("unauthorized"))
	a := newTestAggregator(src)

	pairs, err := a.DiscoverPairs(context.Background(), []string{"ETH_USDT"})
	if err == nil {
		t.Fatalf("expected balance failure to be reported")
	}
	if !reflect.DeepEqual(pairs, []string{"ETH_USDT"}) {
		t.Fatalf("configured pairs should be kept, got %v", pairs)
	}
}
