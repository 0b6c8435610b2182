package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"strategy-input/internal/app"
	"strategy-input/internal/config"
	"strategy-input/internal/exchange"
	"strategy-input/internal/log"
	"strategy-input/internal/store"
)

func main() {
	var (
		configPath  string
		fixturePath string
		once        bool
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.StringVar(&fixturePath, "fixture", "", "使用 JSON 静态数据代替交易所接口")
	flag.BoolVar(&once, "once", false, "只执行一次采集后退出")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if once {
		cfg.Scheduler.RunOnce = true
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	var source exchange.Source
	if fixturePath != "" {
		source, err = exchange.LoadStaticSource(fixturePath)
		if err == nil {
			logger.Info("使用静态数据源", zap.String("fixture", fixturePath))
		}
	} else {
		source, err = exchange.NewClient(cfg.Exchange, logger)
	}
	if err != nil {
		logger.Error("初始化数据源失败", zap.Error(err))
		os.Exit(1)
	}

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	collectorApp := app.New(cfg, logger, sqliteStore, source)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := collectorApp.Run(ctx); err != nil {
		logger.Error("系统运行异常", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("系统已安全退出")
}
