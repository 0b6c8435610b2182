package exchange

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/sony/gobreaker"

	"strategy-input/internal/fetch"
)

func TestSymbolMapping(t *testing.T) {
	if got := pairToSymbol("BTC_USDT"); got != "BTC/USDT" {
		t.Fatalf("pairToSymbol = %q", got)
	}
	if got := pairToSymbol("BTCUSDT"); got != "BTCUSDT" {
		t.Fatalf("malformed pair should pass through, got %q", got)
	}
	if got := symbolToPair("ETH/USDT:USDT"); got != "ETH_USDT" {
		t.Fatalf("symbolToPair = %q", got)
	}
}

func TestConvertOrderBookSkipsShortLevels(t *testing.T) {
	nonce := int64(42)
	book := convertOrderBook(ccxt.OrderBook{
		Asks:  [][]float64{{101, 2}, {102}},
		Bids:  [][]float64{{99, 1}},
		Nonce: &nonce,
	})

	if len(book.Asks) != 1 || len(book.Bids) != 1 {
		t.Fatalf("unexpected levels: asks=%v bids=%v", book.Asks, book.Bids)
	}
	if book.ID != int64(42) {
		t.Fatalf("nonce not carried, got %v", book.ID)
	}
}

func TestConvertOrderReadsFeeFromInfo(t *testing.T) {
	id := "o-1"
	status := "closed"
	ts := int64(1709296200500)
	order := convertOrder("BTC_USDT", ccxt.Order{
		Id:        &id,
		Status:    &status,
		Timestamp: &ts,
		Info: map[string]interface{}{
			"fee":          "0.01",
			"fee_currency": "BTC",
		},
	})

	if order.ID != "o-1" || order.Status != "closed" || order.Pair != "BTC_USDT" {
		t.Fatalf("unexpected order: %+v", order)
	}
	if order.Fee != "0.01" || order.FeeCurrency == nil || *order.FeeCurrency != "BTC" {
		t.Fatalf("fee fields not mapped: %+v", order)
	}
	if order.CreateTime != 1709296200.5 {
		t.Fatalf("timestamp should be seconds, got %v", order.CreateTime)
	}
	if order.UpdateTime != nil {
		t.Fatalf("missing timestamp should stay nil, got %v", order.UpdateTime)
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		retry bool
		is    error
	}{
		{"network", &ccxt.Error{Type: ccxt.NetworkErrorErrType, Message: "reset"}, true, nil},
		{"rate limit", &ccxt.Error{Type: ccxt.RateLimitExceededErrType}, true, nil},
		{"maintenance", &ccxt.Error{Type: ccxt.OnMaintenanceErrType}, false, ErrMaintenance},
		{"breaker open", gobreaker.ErrOpenState, false, ErrCircuitOpen},
		{"deadline", context.DeadlineExceeded, false, context.DeadlineExceeded},
		{"plain", errors.New("bad symbol"), false, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			normalized, retry := classifyError(tc.err)
			if retry != tc.retry {
				t.Fatalf("retry = %v, want %v", retry, tc.retry)
			}
			if tc.is != nil && !errors.Is(normalized, tc.is) {
				t.Fatalf("expected %v to wrap %v", normalized, tc.is)
			}
		})
	}
}

func TestRunWithContextAbandonsSlowCall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)

	err := runWithContext(ctx, func() error {
		<-release
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestStaticSourceFailureInjection(t *testing.T) {
	src := &StaticSource{
		OrderBooks: map[string]RawOrderBook{
			"BTC_USDT": {Asks: [][]interface{}{{"101", "1"}, {"102", "1"}}},
		},
		Candles: map[string]map[string][]RawCandle{
			"BTC_USDT": {"1h": {{0, 1, 1, 1, 1, 1}, {3600, 1, 1, 1, 1, 1}}},
		},
	}
	boom := errors.New("boom")
	src.Fail(fetch.OpCandles, "BTC_USDT/5m", boom)

	ctx := context.Background()
	book, err := src.GetOrderBook(ctx, "BTC_USDT", 1)
	if err != nil || len(book.Asks) != 1 {
		t.Fatalf("depth not applied: %v %v", book.Asks, err)
	}
	if _, err := src.GetOrderBook(ctx, "ETH_USDT", 1); !errors.Is(err, ErrUnknownPair) {
		t.Fatalf("expected unknown pair, got %v", err)
	}

	candles, err := src.ListCandles(ctx, "BTC_USDT", "1h", 1)
	if err != nil || len(candles) != 1 || candles[0][0] != 3600 {
		t.Fatalf("expected most recent candle, got %v %v", candles, err)
	}
	if _, err := src.ListCandles(ctx, "BTC_USDT", "5m", 10); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if src.Calls(fetch.OpCandles) != 2 {
		t.Fatalf("calls = %d", src.Calls(fetch.OpCandles))
	}

	trades, err := src.ListTrades(ctx, "BTC_USDT", 10)
	if err != nil || len(trades) != 0 {
		t.Fatalf("missing trades should be empty success: %v %v", trades, err)
	}

	if _, err := src.ListOrders(ctx, "BTC_USDT", ListStatus("weird"), 1); !errors.Is(err, ErrUnsupportedStatus) {
		t.Fatalf("expected unsupported status, got %v", err)
	}
}

func TestLoadStaticSourceKeepsNumbersExact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.json")
	fixture := `{
  "tickers": [{"currency_pair": "BTC_USDT", "last": 100.10, "highest_bid": "99.9", "lowest_ask": "100.2"}],
  "fee_rate": {"maker_fee": "0.001", "taker_fee": "0.002"}
}`
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	src, err := LoadStaticSource(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tickers, err := src.ListTickers(context.Background())
	if err != nil || len(tickers) != 1 {
		t.Fatalf("tickers: %v %v", tickers, err)
	}
	if n, ok := tickers[0].Last.(interface{ String() string }); !ok || n.String() != "100.10" {
		t.Fatalf("expected json.Number 100.10, got %#v", tickers[0].Last)
	}
	if _, err := src.GetFeeRate(context.Background(), "BTC_USDT"); err != nil {
		t.Fatalf("fee rate: %v", err)
	}
}

func TestQueryOptionsOmitNonPositiveLimit(t *testing.T) {
	for _, limit := range []int{0, -1} {
		var trades ccxt.FetchTradesOptionsStruct
		for _, opt := range tradesOptions(limit) {
			opt(&trades)
		}
		var candles ccxt.FetchOHLCVOptionsStruct
		for _, opt := range candlesOptions("1h", limit) {
			opt(&candles)
		}
		var open ccxt.FetchOpenOrdersOptionsStruct
		for _, opt := range openOrdersOptions("BTC/USDT", limit) {
			opt(&open)
		}
		var closed ccxt.FetchClosedOrdersOptionsStruct
		for _, opt := range closedOrdersOptions("BTC/USDT", limit) {
			opt(&closed)
		}
		var mine ccxt.FetchMyTradesOptionsStruct
		for _, opt := range myTradesOptions("BTC/USDT", limit) {
			opt(&mine)
		}

		if trades.Limit != nil || candles.Limit != nil || open.Limit != nil || closed.Limit != nil || mine.Limit != nil {
			t.Fatalf("limit %d must not be sent to the exchange", limit)
		}
		if candles.Timeframe == nil || *candles.Timeframe != "1h" {
			t.Fatalf("timeframe dropped: %v", candles.Timeframe)
		}
		if open.Symbol == nil || closed.Symbol == nil || mine.Symbol == nil {
			t.Fatalf("symbol must always be set")
		}
	}
}

func TestQueryOptionsCarryPositiveLimit(t *testing.T) {
	var closed ccxt.FetchClosedOrdersOptionsStruct
	for _, opt := range closedOrdersOptions("ETH/USDT", 50) {
		opt(&closed)
	}
	if closed.Limit == nil || *closed.Limit != 50 || *closed.Symbol != "ETH/USDT" {
		t.Fatalf("closed orders options = %+v", closed)
	}

	var mine ccxt.FetchMyTradesOptionsStruct
	for _, opt := range myTradesOptions("ETH/USDT", 7) {
		opt(&mine)
	}
	if mine.Limit == nil || *mine.Limit != 7 {
		t.Fatalf("my trades limit = %v", mine.Limit)
	}
}
