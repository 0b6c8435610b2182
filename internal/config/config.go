package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvFile    = ".env"
	envPrefix         = "strategy"
)

// Load 读取配置文件并结合环境变量返回 Config。
// 若存在 .env 文件，会先将其加载到进程环境，已存在的环境变量不会被覆盖。
func Load(path string) (*Config, error) {
	if err := loadEnvFile(defaultEnvFile); err != nil {
		return nil, err
	}

	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	return decode(v)
}

// Default 返回仅由默认值构成的配置，主要用于测试与演练。
func Default() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("加载环境变量文件 %q 失败: %w", path, err)
}

func (c *Config) normalize() {
	pairs := make([]string, 0, len(c.Trading.Pairs))
	for _, pair := range c.Trading.Pairs {
		pair = strings.ToUpper(strings.TrimSpace(pair))
		if pair != "" {
			pairs = append(pairs, pair)
		}
	}
	c.Trading.Pairs = pairs

	for i, interval := range c.Trading.Intervals {
		c.Trading.Intervals[i] = strings.TrimSpace(interval)
	}
	c.Trading.BaseCurrency = strings.ToUpper(strings.TrimSpace(c.Trading.BaseCurrency))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("exchange.name", "gate")
	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.api_secret", "")
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.retry.max_attempts", 3)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")
	v.SetDefault("exchange.rate_limit.requests_per_second", 10)
	v.SetDefault("exchange.rate_limit.burst", 20)
	v.SetDefault("exchange.breaker.max_failures", 5)
	v.SetDefault("exchange.breaker.open_timeout", "30s")

	v.SetDefault("trading.pairs", []string{"BTC_USDT", "ETH_USDT"})
	v.SetDefault("trading.intervals", []string{"1m", "5m", "1h"})
	v.SetDefault("trading.base_currency", "USDT")
	v.SetDefault("trading.include_holdings", false)

	v.SetDefault("collection.orderbook_depth", 20)
	v.SetDefault("collection.trades_limit", 100)
	v.SetDefault("collection.candles_limit", 200)
	v.SetDefault("collection.orders_limit", 100)
	v.SetDefault("collection.fills_limit", 100)
	v.SetDefault("collection.workers", 1)
	v.SetDefault("collection.call_timeout", "10s")

	v.SetDefault("scoring.reliability.ticker", 0.3)
	v.SetDefault("scoring.reliability.order_book", 0.3)
	v.SetDefault("scoring.reliability.trades", 0.2)
	v.SetDefault("scoring.reliability.candles", 0.2)
	v.SetDefault("scoring.reliability.unknown_timestamp", 0.1)
	v.SetDefault("scoring.completeness.tickers", 0.3)
	v.SetDefault("scoring.completeness.order_books", 0.3)
	v.SetDefault("scoring.completeness.trades", 0.2)
	v.SetDefault("scoring.completeness.candles", 0.2)
	v.SetDefault("scoring.completeness.account_present", 1.0)
	v.SetDefault("scoring.completeness.account_missing", 0.5)
	v.SetDefault("scoring.completeness.orders", 1.0)
	v.SetDefault("scoring.completeness.signals_present", 0.5)
	v.SetDefault("scoring.completeness.signals_missing", 0.3)
	v.SetDefault("scoring.margin_ratio", 0.1)
	v.SetDefault("scoring.available_margin_fraction", 0.8)
	v.SetDefault("scoring.fallback_fee_rate", 0.002)

	v.SetDefault("strategy.name", "default")
	v.SetDefault("strategy.version", "1.0.0")
	v.SetDefault("strategy.max_position_size", 0.1)
	v.SetDefault("strategy.min_order_size", 10)
	v.SetDefault("strategy.max_drawdown", 0.1)
	v.SetDefault("strategy.stop_loss", 0)
	v.SetDefault("strategy.take_profit", 0)
	v.SetDefault("strategy.decision_interval", "1m")
	v.SetDefault("strategy.data_window", 100)

	v.SetDefault("database.path", "data/strategy_input.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("scheduler.loop_interval", "1m")
	v.SetDefault("scheduler.run_once", false)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.port", 9100)
	v.SetDefault("monitor.retention", "168h")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
