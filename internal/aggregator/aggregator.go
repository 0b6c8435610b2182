// Package aggregator 编排行情、账户、订单与信号采集器，合成一次完整的策略输入，
// 并提供清洗与数据质量报告。
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"strategy-input/internal/account"
	"strategy-input/internal/coerce"
	"strategy-input/internal/fetch"
	"strategy-input/internal/market"
	"strategy-input/internal/order"
	"strategy-input/internal/signal"
)

var (
	// ErrNoPairs 表示未指定任何交易对。
	ErrNoPairs = errors.New("aggregator: no trading pairs")
	// ErrInvalidPair 表示交易对格式不合法。
	ErrInvalidPair = errors.New("aggregator: invalid trading pair")
)

// MarketCollector 为行情采集器。
type MarketCollector interface {
	Collect(ctx context.Context, pairs, intervals []string) market.Snapshot
	FetchTickers(ctx context.Context, pairs []string) (map[string]market.Ticker, fetch.Failures)
}

// AccountCollector 为账户采集器。
type AccountCollector interface {
	Collect(ctx context.Context, pairs []string) account.Snapshot
	FetchBalances(ctx context.Context) (map[string]account.Balance, *fetch.Error)
	BaseCurrency() string
}

// OrderCollector 为订单采集器。
type OrderCollector interface {
	Collect(ctx context.Context, pairs []string) order.Snapshot
}

// SignalCollector 为信号推导器。
type SignalCollector interface {
	Collect(snapshot market.Snapshot) signal.Set
}

// Options 为聚合器的可选参数。
type Options struct {
	Weights Weights
	Config  ConfigInput
}

// Aggregator 负责一次采集周期的编排。
type Aggregator struct {
	market  MarketCollector
	account AccountCollector
	orders  OrderCollector
	signals SignalCollector
	weights Weights
	config  ConfigInput
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

// New 创建聚合器。Weights 为零值时使用默认得分项。
func New(m MarketCollector, a AccountCollector, o OrderCollector, s SignalCollector, opts Options, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	weights := opts.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &Aggregator{
		market:  m,
		account: a,
		orders:  o,
		signals: s,
		weights: weights,
		config:  opts.Config,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// Collect 采集一次完整的策略输入。
// 单个读取失败不会中断采集，只记录在各快照的 Failures 中；
// 仅当参数非法或调用方取消时返回错误。
func (a *Aggregator) Collect(ctx context.Context, pairs, intervals []string) (StrategyInput, error) {
	if err := validatePairs(pairs); err != nil {
		return StrategyInput{}, err
	}
	if err := ctx.Err(); err != nil {
		return StrategyInput{}, fmt.Errorf("aggregator: collection cancelled: %w", err)
	}

	in := StrategyInput{
		ID:        a.newID(),
		Pairs:     append([]string(nil), pairs...),
		Intervals: append([]string(nil), intervals...),
		StartedAt: a.now(),
	}
	a.logger.Info("开始采集策略输入",
		zap.String("input_id", in.ID),
		zap.Strings("pairs", in.Pairs),
		zap.Strings("intervals", in.Intervals),
	)

	in.Market = a.market.Collect(ctx, in.Pairs, in.Intervals)
	in.Account = a.account.Collect(ctx, in.Pairs)
	in.Orders = a.orders.Collect(ctx, in.Pairs)
	in.Signals = a.signals.Collect(in.Market)

	in.Config = a.config
	in.Config.CapturedAt = a.now()
	in.FinishedAt = a.now()
	in.Completeness = a.weights.Completeness(in)

	if err := ctx.Err(); err != nil {
		return in, fmt.Errorf("aggregator: collection cancelled: %w", err)
	}

	failures := in.Failures()
	fields := []zap.Field{
		zap.String("input_id", in.ID),
		zap.Duration("duration", in.Duration()),
		zap.Int("failures", len(failures)),
	}
	if len(failures) > 0 {
		a.logger.Warn("策略输入采集完成，部分数据读取失败", append(fields, zap.String("detail", failures.String()))...)
	} else {
		a.logger.Info("策略输入采集完成", fields...)
	}
	return in, nil
}

// DiscoverPairs 将持仓币种对应的交易对合并到配置的交易对之后，
// 只保留在批量行情中存在的交易对。读取失败时退回配置的交易对并返回错误。
func (a *Aggregator) DiscoverPairs(ctx context.Context, configured []string) ([]string, error) {
	result := append([]string(nil), configured...)

	balances, ferr := a.account.FetchBalances(ctx)
	if ferr != nil {
		a.logger.Warn("读取余额失败，使用配置的交易对", zap.Error(ferr))
		return result, ferr
	}

	seen := make(map[string]struct{}, len(configured))
	for _, pair := range configured {
		seen[pair] = struct{}{}
	}
	var candidates []string
	for _, pair := range account.HoldingPairs(balances, a.account.BaseCurrency()) {
		if _, ok := seen[pair]; !ok {
			candidates = append(candidates, pair)
		}
	}
	if len(candidates) == 0 {
		return result, nil
	}

	tickers, failures := a.market.FetchTickers(ctx, candidates)
	if len(failures) > 0 {
		a.logger.Warn("读取行情失败，使用配置的交易对", zap.String("detail", failures.String()))
		return result, failures.Err()
	}
	for _, pair := range candidates {
		if _, ok := tickers[pair]; ok {
			result = append(result, pair)
		}
	}

	if added := len(result) - len(configured); added > 0 {
		a.logger.Info("根据持仓补充交易对", zap.Strings("pairs", result[len(configured):]))
	}
	return result, nil
}

// QualityReport 生成当前时刻的数据质量报告。
func (a *Aggregator) QualityReport(in StrategyInput) Report {
	return BuildReport(in, a.now())
}

func validatePairs(pairs []string) error {
	if len(pairs) == 0 {
		return ErrNoPairs
	}
	for _, pair := range pairs {
		if !coerce.IsValidPair(pair) {
			return fmt.Errorf("%w: %q", ErrInvalidPair, pair)
		}
	}
	return nil
}
