package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"strategy-input/internal/fetch"
)

// StaticSource 是内存中的确定性数据源，用于测试与离线演练。
// 字段在开始采集前填充，之后只读；故障注入与调用计数是并发安全的。
type StaticSource struct {
	Tickers        []RawTicker                       `json:"tickers"`
	OrderBooks     map[string]RawOrderBook           `json:"order_books"`
	Trades         map[string][]RawTrade             `json:"trades"`
	Candles        map[string]map[string][]RawCandle `json:"candles"`
	Balances       []RawBalance                      `json:"balances"`
	FeeRate        *RawFeeRate                       `json:"fee_rate"`
	OpenOrders     map[string][]RawOrder             `json:"open_orders"`
	FinishedOrders map[string][]RawOrder             `json:"finished_orders"`
	Fills          map[string][]RawFill              `json:"fills"`

	mu       sync.Mutex
	failures map[string]error
	calls    map[fetch.Op]int
}

var _ Source = (*StaticSource)(nil)

// LoadStaticSource 从 JSON 文件加载数据源。数值按原文保留为 json.Number，避免精度损失。
func LoadStaticSource(path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("exchange: 读取静态数据失败: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var src StaticSource
	if err := dec.Decode(&src); err != nil {
		return nil, fmt.Errorf("exchange: 解析静态数据失败: %w", err)
	}
	return &src, nil
}

// Fail 为指定操作注入故障。key 为交易对，K线为 "交易对/周期"，账户级操作为空字符串。
func (s *StaticSource) Fail(op fetch.Op, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures == nil {
		s.failures = make(map[string]error)
	}
	s.failures[failureKey(op, key)] = err
}

// Calls 返回某操作被调用的次数。
func (s *StaticSource) Calls(op fetch.Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *StaticSource) enter(ctx context.Context, op fetch.Op, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[fetch.Op]int)
	}
	s.calls[op]++

	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := s.failures[failureKey(op, key)]; ok {
		return err
	}
	return nil
}

func failureKey(op fetch.Op, key string) string {
	return string(op) + "|" + key
}

// ListTickers 实现 Source。
func (s *StaticSource) ListTickers(ctx context.Context) ([]RawTicker, error) {
	if err := s.enter(ctx, fetch.OpTickers, ""); err != nil {
		return nil, err
	}
	return append([]RawTicker(nil), s.Tickers...), nil
}

// GetOrderBook 实现 Source，未配置的交易对视为不存在。
func (s *StaticSource) GetOrderBook(ctx context.Context, pair string, depth int) (RawOrderBook, error) {
	if err := s.enter(ctx, fetch.OpOrderBook, pair); err != nil {
		return RawOrderBook{}, err
	}
	book, ok := s.OrderBooks[pair]
	if !ok {
		return RawOrderBook{}, fmt.Errorf("%w: %s", ErrUnknownPair, pair)
	}
	book.Asks = head(book.Asks, depth)
	book.Bids = head(book.Bids, depth)
	return book, nil
}

// ListTrades 实现 Source。
func (s *StaticSource) ListTrades(ctx context.Context, pair string, limit int) ([]RawTrade, error) {
	if err := s.enter(ctx, fetch.OpTrades, pair); err != nil {
		return nil, err
	}
	return head(s.Trades[pair], limit), nil
}

// ListCandles 实现 Source，返回最近的 limit 根K线。
func (s *StaticSource) ListCandles(ctx context.Context, pair, interval string, limit int) ([]RawCandle, error) {
	if err := s.enter(ctx, fetch.OpCandles, pair+"/"+interval); err != nil {
		return nil, err
	}
	candles := s.Candles[pair][interval]
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return append([]RawCandle(nil), candles...), nil
}

// ListBalances 实现 Source。
func (s *StaticSource) ListBalances(ctx context.Context) ([]RawBalance, error) {
	if err := s.enter(ctx, fetch.OpBalances, ""); err != nil {
		return nil, err
	}
	return append([]RawBalance(nil), s.Balances...), nil
}

// GetFeeRate 实现 Source，未配置费率时返回错误。
func (s *StaticSource) GetFeeRate(ctx context.Context, pair string) (RawFeeRate, error) {
	if err := s.enter(ctx, fetch.OpFeeRate, ""); err != nil {
		return RawFeeRate{}, err
	}
	if s.FeeRate == nil {
		return RawFeeRate{}, fmt.Errorf("exchange: 未配置费率: %s", pair)
	}
	return *s.FeeRate, nil
}

// ListOrders 实现 Source。
func (s *StaticSource) ListOrders(ctx context.Context, pair string, status ListStatus, limit int) ([]RawOrder, error) {
	var op fetch.Op
	var orders []RawOrder
	switch status {
	case ListStatusOpen:
		op, orders = fetch.OpActiveOrders, s.OpenOrders[pair]
	case ListStatusFinished:
		op, orders = fetch.OpRecentOrders, s.FinishedOrders[pair]
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStatus, status)
	}
	if err := s.enter(ctx, op, pair); err != nil {
		return nil, err
	}
	return head(orders, limit), nil
}

// ListFills 实现 Source。
func (s *StaticSource) ListFills(ctx context.Context, pair string, limit int) ([]RawFill, error) {
	if err := s.enter(ctx, fetch.OpFills, pair); err != nil {
		return nil, err
	}
	return head(s.Fills[pair], limit), nil
}

func head[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return append([]T(nil), items...)
}
