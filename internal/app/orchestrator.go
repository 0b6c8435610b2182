package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"strategy-input/internal/account"
	"strategy-input/internal/aggregator"
	"strategy-input/internal/config"
	"strategy-input/internal/exchange"
	"strategy-input/internal/fetch"
	"strategy-input/internal/market"
	"strategy-input/internal/metrics"
	"strategy-input/internal/monitor"
	"strategy-input/internal/order"
	"strategy-input/internal/signal"
	"strategy-input/internal/store"
)

// Cycle 为一次采集周期的产物。
type Cycle struct {
	Input    aggregator.StrategyInput
	Cleaning aggregator.CleanStats
	Report   aggregator.Report
}

type orchestrator struct {
	aggregator *aggregator.Aggregator
	monitor    *monitor.Service
	metrics    *metrics.Metrics
	logger     *zap.Logger

	pairs           []string
	intervals       []string
	includeHoldings bool
	retention       time.Duration

	mu     sync.RWMutex
	latest *Cycle
}

func newOrchestrator(ctx context.Context, cfg *config.Config, source exchange.Source, st *store.Store, m *metrics.Metrics, logger *zap.Logger) (*orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if source == nil {
		return nil, fmt.Errorf("app: 数据源不能为空")
	}

	monitorSvc, err := monitor.NewService(ctx, st, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	runner := fetch.NewRunner(fetch.Options{
		Workers: cfg.Collection.Workers,
		Timeout: cfg.Collection.CallTimeout,
	}, m, logger)

	scoring := cfg.Scoring
	marketCollector := market.NewCollector(source, runner, market.Options{
		Source:         cfg.Exchange.Name,
		OrderBookDepth: cfg.Collection.OrderBookDepth,
		TradesLimit:    cfg.Collection.TradesLimit,
		CandlesLimit:   cfg.Collection.CandlesLimit,
		Weights:        reliabilityWeights(scoring.Reliability),
	}, logger)
	accountCollector := account.NewCollector(source, runner, account.Options{
		BaseCurrency:    cfg.Trading.BaseCurrency,
		FallbackFeeRate: decimal.NewFromFloat(scoring.FallbackFeeRate),
		MarginFraction:  decimal.NewFromFloat(scoring.MarginFraction),
		MarginRatio:     decimal.NewFromFloat(scoring.MarginRatio),
	}, logger)
	orderCollector := order.NewCollector(source, runner, order.Options{
		OrdersLimit: cfg.Collection.OrdersLimit,
		FillsLimit:  cfg.Collection.FillsLimit,
		FeeCurrency: cfg.Trading.BaseCurrency,
	}, logger)

	agg := aggregator.New(
		marketCollector,
		accountCollector,
		orderCollector,
		signal.NewCollector(logger),
		aggregator.Options{
			Weights: completenessWeights(scoring.Completeness),
			Config:  configInput(cfg),
		},
		logger,
	)

	return &orchestrator{
		aggregator:      agg,
		monitor:         monitorSvc,
		metrics:         m,
		logger:          logger,
		pairs:           append([]string(nil), cfg.Trading.Pairs...),
		intervals:       append([]string(nil), cfg.Trading.Intervals...),
		includeHoldings: cfg.Trading.IncludeHoldings,
		retention:       cfg.Monitor.Retention,
	}, nil
}

// Tick 执行一次采集 → 清洗 → 报告 → 指标 → 落库。
// 只有聚合级错误会返回，单项读取失败体现在报告中。
func (o *orchestrator) Tick(ctx context.Context) (*Cycle, error) {
	pairs := o.pairs
	if o.includeHoldings {
		// 失败时 DiscoverPairs 已退回配置的交易对并记录日志。
		pairs, _ = o.aggregator.DiscoverPairs(ctx, o.pairs)
	}

	in, err := o.aggregator.Collect(ctx, pairs, o.intervals)
	if err != nil {
		o.metrics.ObserveCycleError()
		o.monitor.RecordError(ctx, "采集策略输入失败", err, map[string]interface{}{
			"pairs":     pairs,
			"intervals": o.intervals,
		})
		return nil, err
	}

	cleaned, stats := o.aggregator.Clean(in)
	report := o.aggregator.QualityReport(cleaned)

	o.metrics.ObserveInput(cleaned, stats)
	o.monitor.RecordReport(ctx, report, stats, cleaned.Failures())

	o.logger.Info("采集周期完成",
		zap.String("input_id", report.InputID),
		zap.Float64("duration_seconds", report.CollectionDuration),
		zap.String("market_completeness", report.Completeness[aggregator.SubsystemMarket].String()),
		zap.String("pair_coverage", report.Market.PairCoverage.StringFixed(4)),
		zap.String("average_reliability", report.Market.AverageReliability.StringFixed(4)),
		zap.String("risk_level", string(report.Account.RiskLevel)),
		zap.Int("failures", report.FailureCount),
		zap.Int("dropped", stats.Total()),
	)

	o.prune(ctx)

	cycle := &Cycle{Input: cleaned, Cleaning: stats, Report: report}
	o.mu.Lock()
	o.latest = cycle
	o.mu.Unlock()
	return cycle, nil
}

// Latest 返回最近一次成功的采集周期，尚未成功采集时返回 nil。
func (o *orchestrator) Latest() *Cycle {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.latest
}

func (o *orchestrator) prune(ctx context.Context) {
	if o.retention <= 0 {
		return
	}
	removed, err := o.monitor.Prune(ctx, time.Now().UTC().Add(-o.retention))
	if err != nil {
		o.logger.Warn("清理监控事件失败", zap.Error(err))
		return
	}
	if removed > 0 {
		o.logger.Debug("已清理过期监控事件", zap.Int64("removed", removed))
	}
}

func reliabilityWeights(cfg config.ReliabilityWeights) market.Weights {
	return market.Weights{
		Ticker:           decimal.NewFromFloat(cfg.Ticker),
		OrderBook:        decimal.NewFromFloat(cfg.OrderBook),
		Trades:           decimal.NewFromFloat(cfg.Trades),
		Candles:          decimal.NewFromFloat(cfg.Candles),
		UnknownTimestamp: decimal.NewFromFloat(cfg.UnknownTimestamp),
	}
}

func completenessWeights(cfg config.CompletenessWeights) aggregator.Weights {
	return aggregator.Weights{
		Tickers:        decimal.NewFromFloat(cfg.Tickers),
		OrderBooks:     decimal.NewFromFloat(cfg.OrderBooks),
		Trades:         decimal.NewFromFloat(cfg.Trades),
		Candles:        decimal.NewFromFloat(cfg.Candles),
		AccountPresent: decimal.NewFromFloat(cfg.AccountPresent),
		AccountMissing: decimal.NewFromFloat(cfg.AccountMissing),
		Orders:         decimal.NewFromFloat(cfg.Orders),
		SignalsPresent: decimal.NewFromFloat(cfg.SignalsPresent),
		SignalsMissing: decimal.NewFromFloat(cfg.SignalsMissing),
	}
}

func configInput(cfg *config.Config) aggregator.ConfigInput {
	s := cfg.Strategy
	strategy := aggregator.StrategyConfig{
		Name:             s.Name,
		Version:          s.Version,
		BaseCurrency:     cfg.Trading.BaseCurrency,
		MaxPositionSize:  decimal.NewFromFloat(s.MaxPositionSize),
		MinOrderSize:     decimal.NewFromFloat(s.MinOrderSize),
		MaxDrawdown:      decimal.NewFromFloat(s.MaxDrawdown),
		DecisionInterval: s.DecisionInterval,
		DataWindow:       s.DataWindow,
		Params:           s.Params,
	}
	if s.StopLoss > 0 {
		v := decimal.NewFromFloat(s.StopLoss)
		strategy.StopLoss = &v
	}
	if s.TakeProfit > 0 {
		v := decimal.NewFromFloat(s.TakeProfit)
		strategy.TakeProfit = &v
	}

	return aggregator.ConfigInput{
		Strategy:    strategy,
		Environment: cfg.App.Environment,
		Debug:       cfg.Logging.Development,
		LogLevel:    cfg.Logging.Level,
	}
}
