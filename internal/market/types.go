// Package market 采集行情、订单簿、成交与K线，并计算每个交易对的数据可靠度。
package market

import (
	"time"

	"github.com/shopspring/decimal"

	"strategy-input/internal/fetch"
)

// Side 为成交方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Ticker 为单个交易对的行情快照。价格与成交量均不小于 0。
type Ticker struct {
	Pair           string          `json:"pair"`
	LastPrice      decimal.Decimal `json:"last_price"`
	BidPrice       decimal.Decimal `json:"bid_price"`
	AskPrice       decimal.Decimal `json:"ask_price"`
	BidVolume      decimal.Decimal `json:"bid_volume"`
	AskVolume      decimal.Decimal `json:"ask_volume"`
	High24h        decimal.Decimal `json:"high_24h"`
	Low24h         decimal.Decimal `json:"low_24h"`
	Volume24h      decimal.Decimal `json:"volume_24h"`
	QuoteVolume24h decimal.Decimal `json:"quote_volume_24h"`
	// Change24h 为 24 小时涨跌幅比例，0.05 表示 5%。
	Change24h decimal.Decimal `json:"change_24h"`
	Timestamp time.Time       `json:"timestamp"`
}

// OrderBookLevel 为订单簿的一档。
type OrderBookLevel struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// OrderBook 为订单簿快照，卖盘按价格升序、买盘按价格降序，顺序沿用数据源。
type OrderBook struct {
	Pair      string           `json:"pair"`
	Asks      []OrderBookLevel `json:"asks"`
	Bids      []OrderBookLevel `json:"bids"`
	Timestamp time.Time        `json:"timestamp"`
	Sequence  int64            `json:"sequence"`
}

// BestAsk 返回最优卖价，无卖盘时返回 false。
func (b OrderBook) BestAsk() (decimal.Decimal, bool) {
	if len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	return b.Asks[0].Price, true
}

// BestBid 返回最优买价，无买盘时返回 false。
func (b OrderBook) BestBid() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 {
		return decimal.Zero, false
	}
	return b.Bids[0].Price, true
}

// Crossed 判断最优卖价是否低于最优买价。
func (b OrderBook) Crossed() bool {
	ask, okAsk := b.BestAsk()
	bid, okBid := b.BestBid()
	return okAsk && okBid && ask.LessThan(bid)
}

// Trade 为公开成交。TimestampKnown 为 false 时 Timestamp 为采集时间。
type Trade struct {
	ID             string          `json:"trade_id"`
	Pair           string          `json:"pair"`
	Price          decimal.Decimal `json:"price"`
	Volume         decimal.Decimal `json:"volume"`
	Side           Side            `json:"side"`
	Timestamp      time.Time       `json:"timestamp"`
	TimestampKnown bool            `json:"timestamp_known"`
}

// Candle 为一根K线，CloseTime = OpenTime + 周期时长。
type Candle struct {
	Pair           string          `json:"pair"`
	Interval       string          `json:"interval"`
	OpenTime       time.Time       `json:"open_time"`
	CloseTime      time.Time       `json:"close_time"`
	Open           decimal.Decimal `json:"open"`
	High           decimal.Decimal `json:"high"`
	Low            decimal.Decimal `json:"low"`
	Close          decimal.Decimal `json:"close"`
	Volume         decimal.Decimal `json:"volume"`
	QuoteVolume    decimal.Decimal `json:"quote_volume"`
	TradeCount     int64           `json:"trade_count"`
	TimestampKnown bool            `json:"timestamp_known"`
}

// Snapshot 为一次行情采集的结果。
// 映射中缺失的键若在 Failures 中有对应记录表示读取失败，否则表示读取成功但无数据。
type Snapshot struct {
	Tickers     map[string]Ticker              `json:"tickers"`
	OrderBooks  map[string]OrderBook           `json:"order_books"`
	Trades      map[string][]Trade             `json:"trades"`
	Candles     map[string]map[string][]Candle `json:"candles"`
	Timestamps  map[string]time.Time           `json:"timestamps"`
	Reliability map[string]decimal.Decimal     `json:"reliability"`
	// UnknownTimestamps 统计每个交易对中时间戳无法解析的记录数。
	UnknownTimestamps map[string]int `json:"unknown_timestamps"`
	CapturedAt        time.Time      `json:"captured_at"`
	Source            string         `json:"source"`
	Failures          fetch.Failures `json:"-"`
}

// NewSnapshot 创建空快照，所有映射均已初始化。
func NewSnapshot(source string, capturedAt time.Time) Snapshot {
	return Snapshot{
		Tickers:           make(map[string]Ticker),
		OrderBooks:        make(map[string]OrderBook),
		Trades:            make(map[string][]Trade),
		Candles:           make(map[string]map[string][]Candle),
		Timestamps:        make(map[string]time.Time),
		Reliability:       make(map[string]decimal.Decimal),
		UnknownTimestamps: make(map[string]int),
		CapturedAt:        capturedAt,
		Source:            source,
	}
}

// HasCandles 判断交易对是否至少有一个周期存在K线。
func (s Snapshot) HasCandles(pair string) bool {
	for _, list := range s.Candles[pair] {
		if len(list) > 0 {
			return true
		}
	}
	return false
}
