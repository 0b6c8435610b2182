package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"strategy-input/internal/coerce"
	"strategy-input/internal/config"
)

// Client 基于 ccxt 的 Gate 现货接口实现 Source，负责限速、熔断与重试。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Gate
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker

	marketsMu     sync.Mutex
	marketsLoaded bool
}

var _ Source = (*Client)(nil)

// NewClient 构造 Gate 现货客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if name := strings.ToLower(cfg.Name); name != "" && name != "gate" && name != "gateio" {
		return nil, fmt.Errorf("exchange: 不支持的交易所 %q", cfg.Name)
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "spot",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewGate(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	limit := rate.Inf
	burst := cfg.RateLimit.Burst
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RateLimit.RequestsPerSecond)
	}
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
		limiter:  rate.NewLimiter(limit, burst),
	}
	c.breaker = newBreaker(cfg.Breaker, logger)

	return c, nil
}

func newBreaker(cfg config.BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gate",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("交易所熔断器状态变更",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// ListTickers 一次性拉取全部交易对行情。
func (c *Client) ListTickers(ctx context.Context) ([]RawTicker, error) {
	var raw ccxt.Tickers
	err := c.call(ctx, "fetch_tickers", func() error {
		result, err := c.exchange.FetchTickers()
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]RawTicker, 0, len(raw.Tickers))
	for symbol, t := range raw.Tickers {
		if t.Symbol != nil {
			symbol = *t.Symbol
		}
		out = append(out, convertTicker(symbolToPair(symbol), t))
	}
	return out, nil
}

// GetOrderBook 获取订单簿快照。
func (c *Client) GetOrderBook(ctx context.Context, pair string, depth int) (RawOrderBook, error) {
	if depth <= 0 {
		depth = 20
	}

	var raw ccxt.OrderBook
	err := c.call(ctx, "fetch_order_book", func() error {
		result, err := c.exchange.FetchOrderBook(
			pairToSymbol(pair),
			ccxt.WithFetchOrderBookLimit(int64(depth)),
		)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return RawOrderBook{}, err
	}

	return convertOrderBook(raw), nil
}

// ListTrades 获取最近的公开成交。
func (c *Client) ListTrades(ctx context.Context, pair string, limit int) ([]RawTrade, error) {
	var raw []ccxt.Trade
	err := c.call(ctx, "fetch_trades", func() error {
		result, err := c.exchange.FetchTrades(pairToSymbol(pair), tradesOptions(limit)...)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]RawTrade, 0, len(raw))
	for _, t := range raw {
		out = append(out, RawTrade{
			ID:         derefString(t.Id),
			Price:      t.Price,
			Amount:     t.Amount,
			Side:       derefString(t.Side),
			CreateTime: millisToSeconds(t.Timestamp),
		})
	}
	return out, nil
}

// ListCandles 获取指定周期的K线，并转换为开盘时间在前的元组布局。
func (c *Client) ListCandles(ctx context.Context, pair, interval string, limit int) ([]RawCandle, error) {
	var raw []ccxt.OHLCV
	err := c.call(ctx, fmt.Sprintf("fetch_ohlcv_%s", interval), func() error {
		result, err := c.exchange.FetchOHLCV(pairToSymbol(pair), candlesOptions(interval, limit)...)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]RawCandle, 0, len(raw))
	for _, item := range raw {
		out = append(out, RawCandle{
			item.Timestamp / 1000,
			item.Volume,
			item.Close,
			item.High,
			item.Low,
			item.Open,
		})
	}
	return out, nil
}

// ListBalances 获取现货余额。
func (c *Client) ListBalances(ctx context.Context) ([]RawBalance, error) {
	var raw ccxt.Balances
	err := c.call(ctx, "fetch_balance", func() error {
		result, err := c.exchange.FetchBalance()
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	currencies := make(map[string]struct{}, len(raw.Free)+len(raw.Used))
	for code := range raw.Free {
		currencies[code] = struct{}{}
	}
	for code := range raw.Used {
		currencies[code] = struct{}{}
	}

	out := make([]RawBalance, 0, len(currencies))
	for code := range currencies {
		out = append(out, RawBalance{
			Currency:  code,
			Available: raw.Free[code],
			Locked:    raw.Used[code],
		})
	}
	return out, nil
}

// GetFeeRate 查询交易对的费率。
func (c *Client) GetFeeRate(ctx context.Context, pair string) (RawFeeRate, error) {
	var raw ccxt.TradingFeeInterface
	err := c.call(ctx, "fetch_trading_fee", func() error {
		if err := c.ensureMarketsLoaded(); err != nil {
			return err
		}
		result, err := c.exchange.FetchTradingFee(pairToSymbol(pair))
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return RawFeeRate{}, err
	}

	return RawFeeRate{Maker: raw.Maker, Taker: raw.Taker}, nil
}

// ListOrders 查询挂单或已结束订单。
func (c *Client) ListOrders(ctx context.Context, pair string, status ListStatus, limit int) ([]RawOrder, error) {
	symbol := pairToSymbol(pair)

	var raw []ccxt.Order
	var list func() ([]ccxt.Order, error)
	switch status {
	case ListStatusOpen:
		list = func() ([]ccxt.Order, error) {
			return c.exchange.FetchOpenOrders(openOrdersOptions(symbol, limit)...)
		}
	case ListStatusFinished:
		list = func() ([]ccxt.Order, error) {
			return c.exchange.FetchClosedOrders(closedOrdersOptions(symbol, limit)...)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStatus, status)
	}

	err := c.call(ctx, "fetch_orders_"+string(status), func() error {
		if err := c.ensureMarketsLoaded(); err != nil {
			return err
		}
		result, err := list()
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]RawOrder, 0, len(raw))
	for _, o := range raw {
		out = append(out, convertOrder(pair, o))
	}
	return out, nil
}

// ListFills 查询账户自身的成交记录。
func (c *Client) ListFills(ctx context.Context, pair string, limit int) ([]RawFill, error) {
	var raw []ccxt.Trade
	err := c.call(ctx, "fetch_my_trades", func() error {
		if err := c.ensureMarketsLoaded(); err != nil {
			return err
		}
		result, err := c.exchange.FetchMyTrades(myTradesOptions(pairToSymbol(pair), limit)...)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]RawFill, 0, len(raw))
	for _, t := range raw {
		out = append(out, RawFill{
			ID:          derefString(t.Id),
			OrderID:     infoString(t.Info, "order_id"),
			Pair:        pair,
			Side:        derefString(t.Side),
			Amount:      t.Amount,
			Price:       t.Price,
			Fee:         t.Info["fee"],
			FeeCurrency: optionalInfoString(t.Info, "fee_currency"),
			CreateTime:  millisToSeconds(t.Timestamp),
		})
	}
	return out, nil
}

// 以下函数构造 ccxt 查询参数。limit <= 0 表示不限条数，此时不下发 limit，
// 由交易所使用默认分页。
func tradesOptions(limit int) []ccxt.FetchTradesOptions {
	var opts []ccxt.FetchTradesOptions
	if limit > 0 {
		opts = append(opts, ccxt.WithFetchTradesLimit(int64(limit)))
	}
	return opts
}

func candlesOptions(interval string, limit int) []ccxt.FetchOHLCVOptions {
	opts := []ccxt.FetchOHLCVOptions{ccxt.WithFetchOHLCVTimeframe(interval)}
	if limit > 0 {
		opts = append(opts, ccxt.WithFetchOHLCVLimit(int64(limit)))
	}
	return opts
}

func openOrdersOptions(symbol string, limit int) []ccxt.FetchOpenOrdersOptions {
	opts := []ccxt.FetchOpenOrdersOptions{ccxt.WithFetchOpenOrdersSymbol(symbol)}
	if limit > 0 {
		opts = append(opts, ccxt.WithFetchOpenOrdersLimit(int64(limit)))
	}
	return opts
}

func closedOrdersOptions(symbol string, limit int) []ccxt.FetchClosedOrdersOptions {
	opts := []ccxt.FetchClosedOrdersOptions{ccxt.WithFetchClosedOrdersSymbol(symbol)}
	if limit > 0 {
		opts = append(opts, ccxt.WithFetchClosedOrdersLimit(int64(limit)))
	}
	return opts
}

func myTradesOptions(symbol string, limit int) []ccxt.FetchMyTradesOptions {
	opts := []ccxt.FetchMyTradesOptions{ccxt.WithFetchMyTradesSymbol(symbol)}
	if limit > 0 {
		opts = append(opts, ccxt.WithFetchMyTradesLimit(int64(limit)))
	}
	return opts
}

func (c *Client) ensureMarketsLoaded() error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	if _, err := c.exchange.LoadMarkets(); err != nil {
		return err
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("exchange", "gate"))
	return nil
}

// call 依次经过限速、熔断与 ccxt 调用，可重试错误按指数退避重试。
func (c *Client) call(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	maxRetries := c.cfg.Retry.MaxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(maxRetries)), ctx)

	start := time.Now()
	err := backoff.RetryNotify(func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, runWithContext(ctx, fn)
		})
		if err == nil {
			return nil
		}

		normalized, retry := classifyError(err)
		if !retry {
			return backoff.Permanent(normalized)
		}
		return normalized
	}, policy, func(err error, wait time.Duration) {
		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})

	if err == nil {
		if attempt > 1 {
			c.logger.Info("交易所调用重试后成功",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", time.Since(start)),
			)
		}
		return nil
	}

	if errors.Is(err, ErrMaintenance) {
		c.logger.Warn("交易所维护中",
			zap.String("operation", operation),
			zap.Error(err),
		)
	} else {
		c.logger.Error("交易所调用失败",
			zap.String("operation", operation),
			zap.Int("attempts", attempt),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err),
		)
	}
	return fmt.Errorf("exchange: %s: %w", operation, err)
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.Retry.MinDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = 500 * time.Millisecond
	}
	b.MaxInterval = c.cfg.Retry.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = 5 * time.Second
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// runWithContext 让不接受 context 的 ccxt 调用可以被取消；被放弃的调用在后台结束。
func runWithContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func convertTicker(pair string, t ccxt.Ticker) RawTicker {
	return RawTicker{
		Pair:             pair,
		Last:             t.Last,
		HighestBid:       t.Bid,
		LowestAsk:        t.Ask,
		BidVolume:        t.BidVolume,
		AskVolume:        t.AskVolume,
		High24h:          t.High,
		Low24h:           t.Low,
		BaseVolume:       t.BaseVolume,
		QuoteVolume:      t.QuoteVolume,
		ChangePercentage: t.Percentage,
	}
}

func convertOrderBook(ob ccxt.OrderBook) RawOrderBook {
	convert := func(levels [][]float64) [][]interface{} {
		out := make([][]interface{}, 0, len(levels))
		for _, level := range levels {
			if len(level) < 2 {
				continue
			}
			out = append(out, []interface{}{level[0], level[1]})
		}
		return out
	}

	book := RawOrderBook{
		Asks: convert(ob.Asks),
		Bids: convert(ob.Bids),
	}
	if ob.Nonce != nil {
		book.ID = *ob.Nonce
	}
	return book
}

func convertOrder(pair string, o ccxt.Order) RawOrder {
	order := RawOrder{
		ID:            derefString(o.Id),
		ClientOrderID: o.ClientOrderId,
		Pair:          pair,
		Side:          derefString(o.Side),
		Type:          derefString(o.Type),
		Status:        derefString(o.Status),
		Amount:        o.Amount,
		Price:         o.Price,
		Filled:        o.Filled,
		Remaining:     optionalFloat(o.Remaining),
		AveragePrice:  o.Average,
		Fee:           o.Info["fee"],
		FeeCurrency:   optionalInfoString(o.Info, "fee_currency"),
		CreateTime:    millisToSeconds(o.Timestamp),
		UpdateTime:    millisToSeconds(o.LastUpdateTimestamp),
	}
	if order.Pair == "" && o.Symbol != nil {
		order.Pair = symbolToPair(*o.Symbol)
	}
	return order
}

// pairToSymbol 将 BTC_USDT 转为 ccxt 统一符号 BTC/USDT。
func pairToSymbol(pair string) string {
	base, quote, ok := coerce.SplitPair(pair)
	if !ok {
		return pair
	}
	return base + "/" + quote
}

// symbolToPair 将 BTC/USDT 或 BTC/USDT:USDT 转为 BTC_USDT。
func symbolToPair(symbol string) string {
	if idx := strings.Index(symbol, ":"); idx >= 0 {
		symbol = symbol[:idx]
	}
	return strings.ReplaceAll(symbol, "/", coerce.PairSeparator)
}

func millisToSeconds(ts *int64) interface{} {
	if ts == nil {
		return nil
	}
	return float64(*ts) / 1000
}

// optionalFloat 保证缺失值以 nil 接口传递，便于采集器区分“未提供”。
func optionalFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func infoString(info map[string]interface{}, key string) string {
	if info == nil {
		return ""
	}
	switch v := info[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func optionalInfoString(info map[string]interface{}, key string) *string {
	s := infoString(info, key)
	if s == "" {
		return nil
	}
	return &s
}
