package aggregator

import (
	"time"

	"github.com/shopspring/decimal"

	"strategy-input/internal/account"
	"strategy-input/internal/fetch"
	"strategy-input/internal/market"
	"strategy-input/internal/order"
	"strategy-input/internal/signal"
)

// 完整度评分的子系统名称。
const (
	SubsystemMarket  = "market_data"
	SubsystemAccount = "account_data"
	SubsystemOrder   = "order_data"
	SubsystemSignals = "external_signals"
)

// StrategyConfig 为随输入一起下发给决策层的策略参数，本模块只透传不解释。
type StrategyConfig struct {
	Name             string                 `json:"strategy_name"`
	Version          string                 `json:"strategy_version"`
	BaseCurrency     string                 `json:"base_currency"`
	MaxPositionSize  decimal.Decimal        `json:"max_position_size"`
	MinOrderSize     decimal.Decimal        `json:"min_order_size"`
	MaxDrawdown      decimal.Decimal        `json:"max_drawdown"`
	StopLoss         *decimal.Decimal       `json:"stop_loss,omitempty"`
	TakeProfit       *decimal.Decimal       `json:"take_profit,omitempty"`
	DecisionInterval time.Duration          `json:"decision_interval"`
	DataWindow       int                    `json:"data_window"`
	Params           map[string]interface{} `json:"strategy_params,omitempty"`
}

// ConfigInput 为本次采集时的运行配置。
type ConfigInput struct {
	Strategy    StrategyConfig `json:"strategy_config"`
	Environment string         `json:"environment"`
	Debug       bool           `json:"debug_mode"`
	LogLevel    string         `json:"logging_level"`
	CapturedAt  time.Time      `json:"config_timestamp"`
}

// StrategyInput 为一次采集周期合成的完整输入。
type StrategyInput struct {
	ID           string                     `json:"input_id"`
	Pairs        []string                   `json:"pairs"`
	Intervals    []string                   `json:"intervals"`
	Market       market.Snapshot            `json:"market_data"`
	Account      account.Snapshot           `json:"account_data"`
	Orders       order.Snapshot             `json:"order_data"`
	Signals      signal.Set                 `json:"external_signals"`
	Config       ConfigInput                `json:"config"`
	StartedAt    time.Time                  `json:"collection_start_time"`
	FinishedAt   time.Time                  `json:"collection_end_time"`
	Completeness map[string]decimal.Decimal `json:"data_completeness"`
}

// Failures 汇总所有采集器的读取失败。
func (in StrategyInput) Failures() fetch.Failures {
	all := make(fetch.Failures, 0, len(in.Market.Failures)+len(in.Account.Failures)+len(in.Orders.Failures))
	all = append(all, in.Market.Failures...)
	all = append(all, in.Account.Failures...)
	all = append(all, in.Orders.Failures...)
	all.Sort()
	return all
}

// Duration 返回采集耗时。
func (in StrategyInput) Duration() time.Duration {
	return in.FinishedAt.Sub(in.StartedAt)
}
