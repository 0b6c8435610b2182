package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"strategy-input/internal/coerce"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Collection CollectionConfig `mapstructure:"collection"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name       string          `mapstructure:"name"`
	APIKey     string          `mapstructure:"api_key"`
	APISecret  string          `mapstructure:"api_secret"`
	UseSandbox bool            `mapstructure:"use_sandbox"`
	Retry      RetryConfig     `mapstructure:"retry"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	Breaker    BreakerConfig   `mapstructure:"breaker"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// RateLimitConfig 控制请求令牌桶，RequestsPerSecond<=0 表示不限速。
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// BreakerConfig 控制熔断器。
type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// TradingConfig 描述采集范围。
type TradingConfig struct {
	Pairs           []string `mapstructure:"pairs"`
	Intervals       []string `mapstructure:"intervals"`
	BaseCurrency    string   `mapstructure:"base_currency"`
	IncludeHoldings bool     `mapstructure:"include_holdings"`
}

// CollectionConfig 控制每类读取的数量与并发。
type CollectionConfig struct {
	OrderBookDepth int           `mapstructure:"orderbook_depth"`
	TradesLimit    int           `mapstructure:"trades_limit"`
	CandlesLimit   int           `mapstructure:"candles_limit"`
	OrdersLimit    int           `mapstructure:"orders_limit"`
	FillsLimit     int           `mapstructure:"fills_limit"`
	Workers        int           `mapstructure:"workers"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
}

// ScoringConfig 覆盖评分权重与账户占位参数。
type ScoringConfig struct {
	Reliability     ReliabilityWeights  `mapstructure:"reliability"`
	Completeness    CompletenessWeights `mapstructure:"completeness"`
	MarginRatio     float64             `mapstructure:"margin_ratio"`
	MarginFraction  float64             `mapstructure:"available_margin_fraction"`
	FallbackFeeRate float64             `mapstructure:"fallback_fee_rate"`
}

// ReliabilityWeights 为单个交易对可靠度的扣分项。
type ReliabilityWeights struct {
	Ticker           float64 `mapstructure:"ticker"`
	OrderBook        float64 `mapstructure:"order_book"`
	Trades           float64 `mapstructure:"trades"`
	Candles          float64 `mapstructure:"candles"`
	UnknownTimestamp float64 `mapstructure:"unknown_timestamp"`
}

// CompletenessWeights 为各子系统完整度的得分项。
type CompletenessWeights struct {
	Tickers        float64 `mapstructure:"tickers"`
	OrderBooks     float64 `mapstructure:"order_books"`
	Trades         float64 `mapstructure:"trades"`
	Candles        float64 `mapstructure:"candles"`
	AccountPresent float64 `mapstructure:"account_present"`
	AccountMissing float64 `mapstructure:"account_missing"`
	Orders         float64 `mapstructure:"orders"`
	SignalsPresent float64 `mapstructure:"signals_present"`
	SignalsMissing float64 `mapstructure:"signals_missing"`
}

// StrategyConfig 为随策略输入一起下发的策略参数，采集侧只做范围校验。
// StopLoss、TakeProfit 为 0 表示未设置。
type StrategyConfig struct {
	Name             string                 `mapstructure:"name"`
	Version          string                 `mapstructure:"version"`
	MaxPositionSize  float64                `mapstructure:"max_position_size"`
	MinOrderSize     float64                `mapstructure:"min_order_size"`
	MaxDrawdown      float64                `mapstructure:"max_drawdown"`
	StopLoss         float64                `mapstructure:"stop_loss"`
	TakeProfit       float64                `mapstructure:"take_profit"`
	DecisionInterval time.Duration          `mapstructure:"decision_interval"`
	DataWindow       int                    `mapstructure:"data_window"`
	Params           map[string]interface{} `mapstructure:"params"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string        `mapstructure:"level"`
	Encoding         string        `mapstructure:"encoding"`
	Development      bool          `mapstructure:"development"`
	OutputPaths      []string      `mapstructure:"output_paths"`
	ErrorOutputPaths []string      `mapstructure:"error_output_paths"`
	File             LogFileConfig `mapstructure:"file"`
}

// LogFileConfig 控制滚动日志文件，Path 为空时不写文件。
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SchedulerConfig 控制主循环节奏。
type SchedulerConfig struct {
	LoopInterval time.Duration `mapstructure:"loop_interval"`
	RunOnce      bool          `mapstructure:"run_once"`
}

// MonitorConfig 控制监控 HTTP 服务。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
	// Retention 为事件保留时长，0 表示不清理。
	Retention time.Duration `mapstructure:"retention"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Exchange.RateLimit.RequestsPerSecond > 0 && c.Exchange.RateLimit.Burst <= 0 {
		err = multierr.Append(err, errors.New("exchange.rate_limit.burst 必须大于0"))
	}
	if c.Exchange.Breaker.MaxFailures == 0 {
		err = multierr.Append(err, errors.New("exchange.breaker.max_failures 必须大于0"))
	}
	if c.Exchange.Breaker.OpenTimeout <= 0 {
		err = multierr.Append(err, errors.New("exchange.breaker.open_timeout 必须大于0"))
	}

	if len(c.Trading.Pairs) == 0 && !c.Trading.IncludeHoldings {
		err = multierr.Append(err, errors.New("trading.pairs 不能为空"))
	}
	for _, pair := range c.Trading.Pairs {
		if !coerce.IsValidPair(pair) {
			err = multierr.Append(err, fmt.Errorf("trading.pairs 含非法交易对 %q", pair))
		}
	}
	if len(c.Trading.Intervals) == 0 {
		err = multierr.Append(err, errors.New("trading.intervals 不能为空"))
	}
	for _, interval := range c.Trading.Intervals {
		if strings.TrimSpace(interval) == "" {
			err = multierr.Append(err, errors.New("trading.intervals 不能包含空周期"))
		}
	}
	if c.Trading.BaseCurrency == "" {
		err = multierr.Append(err, errors.New("trading.base_currency 不能为空"))
	}

	limits := []struct {
		key   string
		value int
	}{
		{"collection.orderbook_depth", c.Collection.OrderBookDepth},
		{"collection.trades_limit", c.Collection.TradesLimit},
		{"collection.candles_limit", c.Collection.CandlesLimit},
		{"collection.orders_limit", c.Collection.OrdersLimit},
		{"collection.fills_limit", c.Collection.FillsLimit},
	}
	for _, l := range limits {
		if l.value <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s 必须大于0", l.key))
		}
	}
	if c.Collection.Workers < 1 {
		err = multierr.Append(err, errors.New("collection.workers 必须不小于1"))
	}
	if c.Collection.CallTimeout <= 0 {
		err = multierr.Append(err, errors.New("collection.call_timeout 必须大于0"))
	}

	err = multierr.Append(err, c.Scoring.validate())

	err = multierr.Append(err, c.Strategy.validate())

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Scheduler.LoopInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.loop_interval 必须大于0"))
	}
	if c.Monitor.Retention < 0 {
		err = multierr.Append(err, errors.New("monitor.retention 不能为负"))
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于(0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func (s ScoringConfig) validate() error {
	var err error

	weights := []struct {
		key   string
		value float64
	}{
		{"scoring.reliability.ticker", s.Reliability.Ticker},
		{"scoring.reliability.order_book", s.Reliability.OrderBook},
		{"scoring.reliability.trades", s.Reliability.Trades},
		{"scoring.reliability.candles", s.Reliability.Candles},
		{"scoring.reliability.unknown_timestamp", s.Reliability.UnknownTimestamp},
		{"scoring.completeness.tickers", s.Completeness.Tickers},
		{"scoring.completeness.order_books", s.Completeness.OrderBooks},
		{"scoring.completeness.trades", s.Completeness.Trades},
		{"scoring.completeness.candles", s.Completeness.Candles},
		{"scoring.completeness.account_present", s.Completeness.AccountPresent},
		{"scoring.completeness.account_missing", s.Completeness.AccountMissing},
		{"scoring.completeness.orders", s.Completeness.Orders},
		{"scoring.completeness.signals_present", s.Completeness.SignalsPresent},
		{"scoring.completeness.signals_missing", s.Completeness.SignalsMissing},
		{"scoring.margin_ratio", s.MarginRatio},
		{"scoring.available_margin_fraction", s.MarginFraction},
		{"scoring.fallback_fee_rate", s.FallbackFeeRate},
	}
	for _, w := range weights {
		if w.value < 0 || w.value > 1 {
			err = multierr.Append(err, fmt.Errorf("%s 必须位于[0,1]", w.key))
		}
	}

	return err
}

func (s StrategyConfig) validate() error {
	var err error
	if s.Name == "" {
		err = multierr.Append(err, errors.New("strategy.name 不能为空"))
	}
	if s.MaxPositionSize <= 0 || s.MaxPositionSize > 1 {
		err = multierr.Append(err, errors.New("strategy.max_position_size 必须位于(0,1]"))
	}
	if s.MinOrderSize < 0 {
		err = multierr.Append(err, errors.New("strategy.min_order_size 不能为负"))
	}
	if s.MaxDrawdown < 0 || s.MaxDrawdown > 1 {
		err = multierr.Append(err, errors.New("strategy.max_drawdown 必须位于[0,1]"))
	}
	if s.StopLoss < 0 || s.TakeProfit < 0 {
		err = multierr.Append(err, errors.New("strategy.stop_loss/take_profit 不能为负"))
	}
	if s.DecisionInterval <= 0 {
		err = multierr.Append(err, errors.New("strategy.decision_interval 必须为正"))
	}
	if s.DataWindow <= 0 {
		err = multierr.Append(err, errors.New("strategy.data_window 必须大于0"))
	}
	return err
}
