package account

import (
	"time"

	"github.com/shopspring/decimal"

	"strategy-input/internal/fetch"
)

// RiskLevel 为账户风险等级。
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Balance 为单个币种的余额，Total = Available + Locked。估值字段未定价时为 0。
type Balance struct {
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Total     decimal.Decimal `json:"total"`
	ValueBTC  decimal.Decimal `json:"btc_value"`
	ValueUSD  decimal.Decimal `json:"usd_value"`
}

// TradingFee 为交易对费率。
type TradingFee struct {
	Pair  string          `json:"pair"`
	Maker decimal.Decimal `json:"maker_fee"`
	Taker decimal.Decimal `json:"taker_fee"`
	Tier  string          `json:"volume_tier"`
}

// Snapshot 为一次账户采集的结果。合约与杠杆余额暂不采集，映射保持为空。
type Snapshot struct {
	SpotBalances    map[string]Balance    `json:"spot_balances"`
	FuturesBalances map[string]Balance    `json:"futures_balances"`
	MarginBalances  map[string]Balance    `json:"margin_balances"`
	Fees            map[string]TradingFee `json:"trading_fees"`
	TotalEquity     decimal.Decimal       `json:"total_equity"`
	AvailableMargin decimal.Decimal       `json:"available_margin"`
	MarginRatio     decimal.Decimal       `json:"margin_ratio"`
	RiskLevel       RiskLevel             `json:"risk_level"`
	CapturedAt      time.Time             `json:"captured_at"`
	Failures        fetch.Failures        `json:"-"`
}
