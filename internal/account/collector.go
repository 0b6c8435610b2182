// Package account 采集账户余额与费率，并推导权益与风险等级。
package account

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"strategy-input/internal/coerce"
	"strategy-input/internal/exchange"
	"strategy-input/internal/fetch"
)

const (
	DefaultBaseCurrency = "USDT"
	defaultFeeTier      = "default"
)

var (
	// DefaultFallbackFeeRate 为费率查询失败时使用的 maker/taker 费率。
	DefaultFallbackFeeRate = decimal.RequireFromString("0.002")
	// DefaultMarginFraction 为可用保证金占权益的比例。
	DefaultMarginFraction = decimal.RequireFromString("0.8")
	// DefaultMarginRatio 为尚无保证金模型时使用的占位保证金率。
	DefaultMarginRatio = decimal.RequireFromString("0.1")

	highRiskThreshold   = decimal.RequireFromString("0.8")
	mediumRiskThreshold = decimal.RequireFromString("0.5")
)

// Options 控制账户采集的推导参数，零值字段使用默认值。
type Options struct {
	BaseCurrency    string
	FallbackFeeRate decimal.Decimal
	MarginFraction  decimal.Decimal
	MarginRatio     decimal.Decimal
}

// Collector 负责采集账户数据。
type Collector struct {
	source exchange.Source
	runner *fetch.Runner
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewCollector 创建账户采集器。
func NewCollector(source exchange.Source, runner *fetch.Runner, opts Options, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		runner = fetch.NewRunner(fetch.Options{}, nil, logger)
	}
	if opts.BaseCurrency == "" {
		opts.BaseCurrency = DefaultBaseCurrency
	}
	opts.BaseCurrency = strings.ToUpper(opts.BaseCurrency)
	if opts.FallbackFeeRate == (decimal.Decimal{}) {
		opts.FallbackFeeRate = DefaultFallbackFeeRate
	}
	if opts.MarginFraction == (decimal.Decimal{}) {
		opts.MarginFraction = DefaultMarginFraction
	}
	if opts.MarginRatio == (decimal.Decimal{}) {
		opts.MarginRatio = DefaultMarginRatio
	}

	return &Collector{
		source: source,
		runner: runner,
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// BaseCurrency 返回计价权益使用的基础币种。
func (c *Collector) BaseCurrency() string {
	return c.opts.BaseCurrency
}

// Collect 采集余额与费率，并推导权益、可用保证金与风险等级。
func (c *Collector) Collect(ctx context.Context, pairs []string) Snapshot {
	var failures fetch.Failures

	balances, ferr := c.FetchBalances(ctx)
	if ferr != nil {
		failures = append(failures, ferr)
	}

	fees, ferr := c.FetchFees(ctx, pairs)
	if ferr != nil {
		failures = append(failures, ferr)
	}

	equity := ComputeEquity(balances, c.opts.BaseCurrency)

	snapshot := Snapshot{
		SpotBalances:    balances,
		FuturesBalances: make(map[string]Balance),
		MarginBalances:  make(map[string]Balance),
		Fees:            fees,
		TotalEquity:     equity,
		AvailableMargin: equity.Mul(c.opts.MarginFraction),
		MarginRatio:     c.opts.MarginRatio,
		RiskLevel:       ClassifyRisk(c.opts.MarginRatio),
		CapturedAt:      c.now(),
		Failures:        failures,
	}

	c.logger.Info("账户采集完成",
		zap.Int("currencies", len(balances)),
		zap.String("equity", equity.String()),
		zap.String("risk_level", string(snapshot.RiskLevel)),
		zap.Int("failures", len(failures)),
	)

	return snapshot
}

// FetchBalances 读取现货余额，只保留可用或冻结数量非零的币种。
func (c *Collector) FetchBalances(ctx context.Context) (map[string]Balance, *fetch.Error) {
	result := make(map[string]Balance)

	var raw []exchange.RawBalance
	if ferr := c.runner.Call(ctx, fetch.OpBalances, "", "", func(ctx context.Context) error {
		var err error
		raw, err = c.source.ListBalances(ctx)
		return err
	}); ferr != nil {
		return result, ferr
	}

	for _, b := range raw {
		currency := strings.ToUpper(strings.TrimSpace(b.Currency))
		if currency == "" {
			continue
		}
		available := coerce.ToDecimal(b.Available)
		locked := coerce.ToDecimal(b.Locked)
		if available.IsZero() && locked.IsZero() {
			continue
		}
		result[currency] = Balance{
			Currency:  currency,
			Available: available,
			Locked:    locked,
			Total:     available.Add(locked),
			ValueBTC:  decimal.Zero,
			ValueUSD:  decimal.Zero,
		}
	}

	return result, nil
}

// FetchFees 以一次通用费率查询覆盖所有交易对。查询失败时每个交易对使用默认费率，
// 同时返回失败记录供评分使用。
func (c *Collector) FetchFees(ctx context.Context, pairs []string) (map[string]TradingFee, *fetch.Error) {
	fees := make(map[string]TradingFee, len(pairs))
	if len(pairs) == 0 {
		return fees, nil
	}

	var raw exchange.RawFeeRate
	ferr := c.runner.Call(ctx, fetch.OpFeeRate, pairs[0], "", func(ctx context.Context) error {
		var err error
		raw, err = c.source.GetFeeRate(ctx, pairs[0])
		return err
	})

	maker, taker, tier := c.opts.FallbackFeeRate, c.opts.FallbackFeeRate, defaultFeeTier
	if ferr == nil {
		maker = coerce.ToDecimalOr(raw.Maker, c.opts.FallbackFeeRate)
		taker = coerce.ToDecimalOr(raw.Taker, c.opts.FallbackFeeRate)
		if raw.Tier != nil && *raw.Tier != "" {
			tier = *raw.Tier
		}
	} else {
		c.logger.Warn("费率查询失败，使用默认费率",
			zap.String("maker", maker.String()),
			zap.String("taker", taker.String()),
		)
	}

	for _, pair := range pairs {
		fees[pair] = TradingFee{Pair: pair, Maker: maker, Taker: taker, Tier: tier}
	}
	return fees, ferr
}

// ComputeEquity 仅累计基础币种的总余额，其他币种不折算。
func ComputeEquity(balances map[string]Balance, baseCurrency string) decimal.Decimal {
	equity := decimal.Zero
	for currency, b := range balances {
		if strings.EqualFold(currency, baseCurrency) {
			equity = equity.Add(b.Total)
		}
	}
	return equity
}

// ClassifyRisk 按保证金率划分风险等级：>0.8 为 high，>0.5 为 medium，其余为 low。
func ClassifyRisk(marginRatio decimal.Decimal) RiskLevel {
	switch {
	case marginRatio.GreaterThan(highRiskThreshold):
		return RiskHigh
	case marginRatio.GreaterThan(mediumRiskThreshold):
		return RiskMedium
	default:
		return RiskLow
	}
}

// HoldingPairs 返回持有的非计价币种与 quote 组成的交易对，按字母序排列。
func HoldingPairs(balances map[string]Balance, quote string) []string {
	quote = strings.ToUpper(quote)
	pairs := make([]string, 0, len(balances))
	for currency, b := range balances {
		if strings.EqualFold(currency, quote) || !b.Total.IsPositive() {
			continue
		}
		pairs = append(pairs, coerce.JoinPair(currency, quote))
	}
	sort.Strings(pairs)
	return pairs
}
