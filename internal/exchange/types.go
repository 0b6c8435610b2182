package exchange

import "context"

// ListStatus 为订单列表查询的状态过滤。
type ListStatus string

const (
	ListStatusOpen     ListStatus = "open"
	ListStatusFinished ListStatus = "finished"
)

// Source 抽象交易所只读接口，所有方法可独立失败。
type Source interface {
	ListTickers(ctx context.Context) ([]RawTicker, error)
	GetOrderBook(ctx context.Context, pair string, depth int) (RawOrderBook, error)
	ListTrades(ctx context.Context, pair string, limit int) ([]RawTrade, error)
	ListCandles(ctx context.Context, pair, interval string, limit int) ([]RawCandle, error)
	ListBalances(ctx context.Context) ([]RawBalance, error)
	GetFeeRate(ctx context.Context, pair string) (RawFeeRate, error)
	ListOrders(ctx context.Context, pair string, status ListStatus, limit int) ([]RawOrder, error)
	ListFills(ctx context.Context, pair string, limit int) ([]RawFill, error)
}

// 以下原始记录的数值字段保留源数据的原始形态（数字、字符串或空），由采集器统一转换。

// RawTicker 为单个交易对的行情原始数据。
type RawTicker struct {
	Pair             string      `json:"currency_pair"`
	Last             interface{} `json:"last"`
	HighestBid       interface{} `json:"highest_bid"`
	LowestAsk        interface{} `json:"lowest_ask"`
	BidVolume        interface{} `json:"bid_volume"`
	AskVolume        interface{} `json:"ask_volume"`
	High24h          interface{} `json:"high_24h"`
	Low24h           interface{} `json:"low_24h"`
	BaseVolume       interface{} `json:"base_volume"`
	QuoteVolume      interface{} `json:"quote_volume"`
	ChangePercentage interface{} `json:"change_percentage"`
}

// RawOrderBook 为订单簿原始数据，档位为 [价格, 数量]，ID 为源序列号。
type RawOrderBook struct {
	ID   interface{}     `json:"id"`
	Asks [][]interface{} `json:"asks"`
	Bids [][]interface{} `json:"bids"`
}

// RawTrade 为公开成交原始数据。
type RawTrade struct {
	ID         interface{} `json:"id"`
	Price      interface{} `json:"price"`
	Amount     interface{} `json:"amount"`
	Side       string      `json:"side"`
	CreateTime interface{} `json:"create_time"`
}

// RawCandle 为K线元组：
// [0]开盘时间(秒) [1]基础币成交量 [2]收盘价 [3]最高价 [4]最低价 [5]开盘价 [6]保留 [7]计价币成交量 [8]成交笔数。
// 至少包含前 6 项。
type RawCandle []interface{}

// RawBalance 为现货余额原始数据。
type RawBalance struct {
	Currency  string      `json:"currency"`
	Available interface{} `json:"available"`
	Locked    interface{} `json:"locked"`
}

// RawFeeRate 为费率原始数据。
type RawFeeRate struct {
	Maker interface{} `json:"maker_fee"`
	Taker interface{} `json:"taker_fee"`
	Tier  *string     `json:"tier,omitempty"`
}

// RawOrder 为订单原始数据。
type RawOrder struct {
	ID            string      `json:"id"`
	ClientOrderID *string     `json:"text,omitempty"`
	Pair          string      `json:"currency_pair"`
	Side          string      `json:"side"`
	Type          string      `json:"type"`
	Status        string      `json:"status"`
	Amount        interface{} `json:"amount"`
	Price         interface{} `json:"price"`
	Filled        interface{} `json:"filled_amount"`
	Remaining     interface{} `json:"left"`
	AveragePrice  interface{} `json:"avg_deal_price"`
	Fee           interface{} `json:"fee"`
	FeeCurrency   *string     `json:"fee_currency,omitempty"`
	CreateTime    interface{} `json:"create_time"`
	UpdateTime    interface{} `json:"update_time"`
}

// RawFill 为账户自身成交原始数据。
type RawFill struct {
	ID          string      `json:"id"`
	OrderID     string      `json:"order_id"`
	Pair        string      `json:"currency_pair"`
	Side        string      `json:"side"`
	Amount      interface{} `json:"amount"`
	Price       interface{} `json:"price"`
	Fee         interface{} `json:"fee"`
	FeeCurrency *string     `json:"fee_currency,omitempty"`
	CreateTime  interface{} `json:"create_time"`
}
