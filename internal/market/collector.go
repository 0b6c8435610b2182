package market

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"strategy-input/internal/coerce"
	"strategy-input/internal/exchange"
	"strategy-input/internal/fetch"
)

const (
	DefaultOrderBookDepth = 20
	DefaultTradesLimit    = 100
	DefaultCandlesLimit   = 200
	defaultSourceLabel    = "gate"
)

// Options 控制行情采集的数量与评分。
type Options struct {
	Source         string
	OrderBookDepth int
	TradesLimit    int
	CandlesLimit   int
	Weights        Weights
}

// Collector 负责采集行情数据。
type Collector struct {
	source exchange.Source
	runner *fetch.Runner
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewCollector 创建行情采集器。
func NewCollector(source exchange.Source, runner *fetch.Runner, opts Options, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		runner = fetch.NewRunner(fetch.Options{}, nil, logger)
	}
	if opts.Source == "" {
		opts.Source = defaultSourceLabel
	}
	if opts.OrderBookDepth <= 0 {
		opts.OrderBookDepth = DefaultOrderBookDepth
	}
	if opts.TradesLimit <= 0 {
		opts.TradesLimit = DefaultTradesLimit
	}
	if opts.CandlesLimit <= 0 {
		opts.CandlesLimit = DefaultCandlesLimit
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}

	return &Collector{
		source: source,
		runner: runner,
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Collect 执行一次完整的行情采集，并计算每个交易对的可靠度。
func (c *Collector) Collect(ctx context.Context, pairs, intervals []string) Snapshot {
	snapshot := NewSnapshot(c.opts.Source, c.now())

	tickers, failures := c.FetchTickers(ctx, pairs)
	snapshot.Tickers = tickers
	snapshot.Failures = append(snapshot.Failures, failures...)

	books, failures := c.FetchOrderBooks(ctx, pairs, c.opts.OrderBookDepth)
	snapshot.OrderBooks = books
	snapshot.Failures = append(snapshot.Failures, failures...)

	trades, failures := c.FetchTrades(ctx, pairs, c.opts.TradesLimit)
	snapshot.Trades = trades
	snapshot.Failures = append(snapshot.Failures, failures...)

	candles, failures := c.FetchCandles(ctx, pairs, intervals, c.opts.CandlesLimit)
	snapshot.Candles = candles
	snapshot.Failures = append(snapshot.Failures, failures...)

	for _, pair := range pairs {
		unknown := countUnknownTimestamps(snapshot.Trades[pair], snapshot.Candles[pair])
		if unknown > 0 {
			snapshot.UnknownTimestamps[pair] = unknown
		}
		snapshot.Timestamps[pair] = c.now()
		snapshot.Reliability[pair] = c.opts.Weights.Score(Presence{
			Ticker:            hasKey(snapshot.Tickers, pair),
			OrderBook:         hasKey(snapshot.OrderBooks, pair),
			Trades:            len(snapshot.Trades[pair]) > 0,
			Candles:           snapshot.HasCandles(pair),
			UnknownTimestamps: unknown,
		})
	}
	snapshot.Failures.Sort()

	c.logger.Info("行情采集完成",
		zap.Int("pairs", len(pairs)),
		zap.Int("tickers", len(snapshot.Tickers)),
		zap.Int("order_books", len(snapshot.OrderBooks)),
		zap.Int("failures", len(snapshot.Failures)),
	)

	return snapshot
}

// FetchTickers 发起一次批量行情请求，仅保留请求的交易对；批量结果中不存在的交易对被省略并记录告警。
func (c *Collector) FetchTickers(ctx context.Context, pairs []string) (map[string]Ticker, fetch.Failures) {
	result := make(map[string]Ticker, len(pairs))

	var raw []exchange.RawTicker
	if ferr := c.runner.Call(ctx, fetch.OpTickers, "", "", func(ctx context.Context) error {
		var err error
		raw, err = c.source.ListTickers(ctx)
		return err
	}); ferr != nil {
		return result, fetch.Failures{ferr}
	}

	wanted := make(map[string]struct{}, len(pairs))
	for _, pair := range pairs {
		wanted[pair] = struct{}{}
	}

	capturedAt := c.now()
	for _, t := range raw {
		if _, ok := wanted[t.Pair]; !ok {
			continue
		}
		result[t.Pair] = convertTicker(t, capturedAt)
	}
	for _, pair := range pairs {
		if _, ok := result[pair]; !ok {
			c.logger.Warn("批量行情中缺少交易对", zap.String("pair", pair))
		}
	}

	return result, nil
}

// FetchOrderBooks 逐个交易对读取限定深度的订单簿。
func (c *Collector) FetchOrderBooks(ctx context.Context, pairs []string, depth int) (map[string]OrderBook, fetch.Failures) {
	type slot struct {
		book OrderBook
		err  *fetch.Error
	}
	slots := make([]slot, len(pairs))

	c.runner.Each(ctx, len(pairs), func(ctx context.Context, i int) {
		pair := pairs[i]
		var raw exchange.RawOrderBook
		slots[i].err = c.runner.Call(ctx, fetch.OpOrderBook, pair, "", func(ctx context.Context) error {
			var err error
			raw, err = c.source.GetOrderBook(ctx, pair, depth)
			return err
		})
		if slots[i].err == nil {
			slots[i].book = convertOrderBook(pair, raw, c.now())
		}
	})

	result := make(map[string]OrderBook, len(pairs))
	var failures fetch.Failures
	for i, s := range slots {
		if s.err != nil {
			failures = append(failures, s.err)
			continue
		}
		result[pairs[i]] = s.book
	}
	return result, failures
}

// FetchTrades 逐个交易对读取最近 limit 笔成交。读取成功但无成交时保留空列表。
func (c *Collector) FetchTrades(ctx context.Context, pairs []string, limit int) (map[string][]Trade, fetch.Failures) {
	type slot struct {
		trades []Trade
		err    *fetch.Error
	}
	slots := make([]slot, len(pairs))

	c.runner.Each(ctx, len(pairs), func(ctx context.Context, i int) {
		pair := pairs[i]
		var raw []exchange.RawTrade
		slots[i].err = c.runner.Call(ctx, fetch.OpTrades, pair, "", func(ctx context.Context) error {
			var err error
			raw, err = c.source.ListTrades(ctx, pair, limit)
			return err
		})
		if slots[i].err != nil {
			return
		}
		capturedAt := c.now()
		trades := make([]Trade, 0, len(raw))
		for _, t := range raw {
			trades = append(trades, convertTrade(pair, t, capturedAt))
		}
		slots[i].trades = trades
	})

	result := make(map[string][]Trade, len(pairs))
	var failures fetch.Failures
	for i, s := range slots {
		if s.err != nil {
			failures = append(failures, s.err)
			continue
		}
		result[pairs[i]] = s.trades
	}
	return result, failures
}

// FetchCandles 对每个 (交易对, 周期) 读取最近 limit 根K线。
// 交易对只要有一个周期读取成功就会出现在结果中。
func (c *Collector) FetchCandles(ctx context.Context, pairs, intervals []string, limit int) (map[string]map[string][]Candle, fetch.Failures) {
	type slot struct {
		candles []Candle
		err     *fetch.Error
	}
	n := len(pairs) * len(intervals)
	slots := make([]slot, n)

	c.runner.Each(ctx, n, func(ctx context.Context, i int) {
		pair := pairs[i/len(intervals)]
		interval := intervals[i%len(intervals)]
		var raw []exchange.RawCandle
		slots[i].err = c.runner.Call(ctx, fetch.OpCandles, pair, interval, func(ctx context.Context) error {
			var err error
			raw, err = c.source.ListCandles(ctx, pair, interval, limit)
			return err
		})
		if slots[i].err != nil {
			return
		}
		capturedAt := c.now()
		candles := make([]Candle, 0, len(raw))
		for _, r := range raw {
			if candle, ok := convertCandle(pair, interval, r, capturedAt); ok {
				candles = append(candles, candle)
			}
		}
		slots[i].candles = candles
	})

	result := make(map[string]map[string][]Candle, len(pairs))
	var failures fetch.Failures
	for i, s := range slots {
		if s.err != nil {
			failures = append(failures, s.err)
			continue
		}
		pair := pairs[i/len(intervals)]
		if result[pair] == nil {
			result[pair] = make(map[string][]Candle, len(intervals))
		}
		result[pair][intervals[i%len(intervals)]] = s.candles
	}
	return result, failures
}

func convertTicker(t exchange.RawTicker, capturedAt time.Time) Ticker {
	return Ticker{
		Pair:           t.Pair,
		LastPrice:      coerce.ToDecimal(t.Last),
		BidPrice:       coerce.ToDecimal(t.HighestBid),
		AskPrice:       coerce.ToDecimal(t.LowestAsk),
		BidVolume:      coerce.ToDecimal(t.BidVolume),
		AskVolume:      coerce.ToDecimal(t.AskVolume),
		High24h:        coerce.ToDecimal(t.High24h),
		Low24h:         coerce.ToDecimal(t.Low24h),
		Volume24h:      coerce.ToDecimal(t.BaseVolume),
		QuoteVolume24h: coerce.ToDecimal(t.QuoteVolume),
		Change24h:      coerce.ToDecimal(t.ChangePercentage).Div(decimal.NewFromInt(100)),
		Timestamp:      capturedAt,
	}
}

func convertOrderBook(pair string, raw exchange.RawOrderBook, capturedAt time.Time) OrderBook {
	return OrderBook{
		Pair:      pair,
		Asks:      convertLevels(raw.Asks),
		Bids:      convertLevels(raw.Bids),
		Timestamp: capturedAt,
		Sequence:  coerce.ToInt64(raw.ID, 0),
	}
}

func convertLevels(raw [][]interface{}) []OrderBookLevel {
	levels := make([]OrderBookLevel, 0, len(raw))
	for _, level := range raw {
		if len(level) < 2 {
			continue
		}
		levels = append(levels, OrderBookLevel{
			Price:  coerce.ToDecimal(level[0]),
			Volume: coerce.ToDecimal(level[1]),
		})
	}
	return levels
}

func convertTrade(pair string, t exchange.RawTrade, capturedAt time.Time) Trade {
	ts, known := coerce.ParseTimestamp(t.CreateTime)
	if !known {
		ts = capturedAt
	}
	return Trade{
		ID:             coerce.ToString(t.ID),
		Pair:           pair,
		Price:          coerce.ToDecimal(t.Price),
		Volume:         coerce.ToDecimal(t.Amount),
		Side:           Side(strings.ToLower(strings.TrimSpace(t.Side))),
		Timestamp:      ts,
		TimestampKnown: known,
	}
}

// convertCandle 解析K线元组，不足 6 项的元组视为畸形并跳过。
func convertCandle(pair, interval string, raw exchange.RawCandle, capturedAt time.Time) (Candle, bool) {
	if len(raw) < 6 {
		return Candle{}, false
	}

	open, known := coerce.ParseTimestamp(raw[0])
	if !known {
		open = capturedAt
	}

	candle := Candle{
		Pair:           pair,
		Interval:       interval,
		OpenTime:       open,
		CloseTime:      open.Add(IntervalDuration(interval)),
		Volume:         coerce.ToDecimal(raw[1]),
		Close:          coerce.ToDecimal(raw[2]),
		High:           coerce.ToDecimal(raw[3]),
		Low:            coerce.ToDecimal(raw[4]),
		Open:           coerce.ToDecimal(raw[5]),
		TimestampKnown: known,
	}
	if len(raw) > 7 {
		candle.QuoteVolume = coerce.ToDecimal(raw[7])
	}
	if len(raw) > 8 {
		if count := coerce.ToInt64(raw[8], 0); count > 0 {
			candle.TradeCount = count
		}
	}
	return candle, true
}

func countUnknownTimestamps(trades []Trade, candles map[string][]Candle) int {
	count := 0
	for _, t := range trades {
		if !t.TimestampKnown {
			count++
		}
	}
	for _, list := range candles {
		for _, candle := range list {
			if !candle.TimestampKnown {
				count++
			}
		}
	}
	return count
}

func hasKey[V any](m map[string]V, key string) bool {
	_, ok := m[key]
	return ok
}
