package order

import (
	"time"

	"github.com/shopspring/decimal"

	"strategy-input/internal/fetch"
)

// Status 为归一化后的订单状态。
type Status string

const (
	StatusOpen      Status = "open"
	StatusClosed    Status = "closed"
	StatusCancelled Status = "cancelled"
)

// Order 为订单记录。市价单没有 Price；未成交订单没有 AveragePrice。
// TimestampKnown 为 false 时创建时间无法解析，CreatedAt 为采集时间。
type Order struct {
	ID             string           `json:"order_id"`
	ClientOrderID  *string          `json:"client_order_id,omitempty"`
	Pair           string           `json:"pair"`
	Side           string           `json:"side"`
	Type           string           `json:"type"`
	Status         Status           `json:"status"`
	Amount         decimal.Decimal  `json:"amount"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	Filled         decimal.Decimal  `json:"filled_amount"`
	Remaining      decimal.Decimal  `json:"remaining_amount"`
	AveragePrice   *decimal.Decimal `json:"average_price,omitempty"`
	Fee            decimal.Decimal  `json:"fee"`
	FeeCurrency    string           `json:"fee_currency"`
	CreatedAt      time.Time        `json:"create_time"`
	UpdatedAt      time.Time        `json:"update_time"`
	TimestampKnown bool             `json:"timestamp_known"`
}

// Consistent 判断已成交与剩余数量之和是否不超过委托数量。
func (o Order) Consistent() bool {
	return o.Filled.Add(o.Remaining).LessThanOrEqual(o.Amount)
}

// Terminal 判断订单是否已结束。
func (o Order) Terminal() bool {
	return o.Status == StatusClosed || o.Status == StatusCancelled
}

// Fill 为账户自身订单的成交记录。TimestampKnown 为 false 时 Timestamp 为采集时间。
type Fill struct {
	ID             string          `json:"trade_id"`
	OrderID        string          `json:"order_id"`
	Pair           string          `json:"pair"`
	Side           string          `json:"side"`
	Amount         decimal.Decimal `json:"amount"`
	Price          decimal.Decimal `json:"price"`
	Fee            decimal.Decimal `json:"fee"`
	FeeCurrency    string          `json:"fee_currency"`
	Timestamp      time.Time       `json:"timestamp"`
	TimestampKnown bool            `json:"timestamp_known"`
}

// Stats 为订单与成交的统计。
type Stats struct {
	TotalOrders     int             `json:"total_orders"`
	FilledOrders    int             `json:"filled_orders"`
	CancelledOrders int             `json:"cancelled_orders"`
	TotalTrades     int             `json:"total_trades"`
	TotalVolume     decimal.Decimal `json:"total_volume"`
	TotalFees       decimal.Decimal `json:"total_fees"`
	FillRate        decimal.Decimal `json:"fill_rate"`
}

// Snapshot 为一次订单采集的结果。
type Snapshot struct {
	ActiveOrders map[string]Order `json:"active_orders"`
	RecentOrders []Order          `json:"recent_orders"`
	Fills        []Fill           `json:"trade_history"`
	Stats        Stats            `json:"order_stats"`
	CapturedAt   time.Time        `json:"captured_at"`
	Failures     fetch.Failures   `json:"-"`
}
