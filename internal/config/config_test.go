package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Collection.OrderBookDepth != 20 || cfg.Collection.TradesLimit != 100 || cfg.Collection.CandlesLimit != 200 {
		t.Fatalf("unexpected collection defaults: %+v", cfg.Collection)
	}
	if cfg.Collection.OrdersLimit != 100 || cfg.Collection.Workers != 1 {
		t.Fatalf("unexpected order/worker defaults: %+v", cfg.Collection)
	}
	if cfg.Trading.BaseCurrency != "USDT" {
		t.Fatalf("unexpected base currency %q", cfg.Trading.BaseCurrency)
	}
	if cfg.Scoring.Reliability.Ticker != 0.3 || cfg.Scoring.Completeness.SignalsMissing != 0.3 {
		t.Fatalf("unexpected scoring defaults: %+v", cfg.Scoring)
	}
}

func TestLoadFileAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app:
  environment: test
trading:
  pairs: ["btc_usdt", "ETH_USDT"]
  intervals: ["1h"]
collection:
  orderbook_depth: 50
  call_timeout: 3s
database:
  in_memory: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("STRATEGY_COLLECTION_WORKERS", "4")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.App.Environment != "test" {
		t.Fatalf("environment = %q", cfg.App.Environment)
	}
	if got := strings.Join(cfg.Trading.Pairs, ","); got != "BTC_USDT,ETH_USDT" {
		t.Fatalf("pairs not normalized: %s", got)
	}
	if cfg.Collection.OrderBookDepth != 50 {
		t.Fatalf("depth = %d", cfg.Collection.OrderBookDepth)
	}
	if cfg.Collection.CallTimeout != 3*time.Second {
		t.Fatalf("call timeout = %s", cfg.Collection.CallTimeout)
	}
	if cfg.Collection.Workers != 4 {
		t.Fatalf("env overlay not applied, workers = %d", cfg.Collection.Workers)
	}
	if cfg.Collection.TradesLimit != 100 {
		t.Fatalf("defaults should fill missing keys, trades_limit = %d", cfg.Collection.TradesLimit)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}

	cfg.Trading.Pairs = []string{"BTCUSDT"}
	cfg.Collection.Workers = 0
	cfg.Collection.TradesLimit = 0
	cfg.Scoring.Reliability.Ticker = 1.5

	err = cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{
		"BTCUSDT",
		"collection.workers",
		"collection.trades_limit",
		"scoring.reliability.ticker",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("validation message missing %q: %s", want, msg)
		}
	}
}
