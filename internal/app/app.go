package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"strategy-input/internal/config"
	"strategy-input/internal/exchange"
	"strategy-input/internal/metrics"
	"strategy-input/internal/store"
)

// App 聚合核心依赖并驱动采集循环。
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *store.Store
	source  exchange.Source
	metrics *metrics.Metrics
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store, source exchange.Source) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		source:  source,
		metrics: metrics.New(),
	}
}

// Run 每隔 scheduler.loop_interval 执行一次采集周期，直到 ctx 结束。
// 单个周期失败只记录日志与监控事件，不会终止循环；RunOnce 时返回该周期的错误。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("策略输入采集服务已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.Strings("pairs", a.cfg.Trading.Pairs),
		zap.Strings("intervals", a.cfg.Trading.Intervals),
		zap.Int("workers", a.cfg.Collection.Workers),
	)

	orch, err := newOrchestrator(ctx, a.cfg, a.source, a.store, a.metrics, a.logger)
	if err != nil {
		return err
	}

	if a.cfg.Scheduler.RunOnce {
		_, err := orch.Tick(ctx)
		return err
	}

	if a.cfg.Monitor.Enabled {
		if err := startMonitorServer(ctx, orch, a.metrics, a.cfg.Monitor.Port, a.logger); err != nil {
			return fmt.Errorf("启动监控接口失败: %w", err)
		}
	}

	loopInterval := a.cfg.Scheduler.LoopInterval
	if loopInterval <= 0 {
		loopInterval = time.Minute
	}

	if _, err = orch.Tick(ctx); err != nil {
		a.logger.Error("首次采集失败", zap.Error(err))
	}

	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			if _, err = orch.Tick(ctx); err != nil {
				a.logger.Error("采集周期失败", zap.Error(err))
			}
		}
	}
}
