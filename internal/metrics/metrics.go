// Package metrics 在独立的 prometheus.Registry 上暴露采集指标。
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"strategy-input/internal/aggregator"
	"strategy-input/internal/fetch"
)

const namespace = "strategy_input"

// 读取结果标签。
const (
	ResultOK      = "ok"
	ResultTimeout = "timeout"
	ResultError   = "error"
)

// Metrics 汇总全部指标，同时实现 fetch.Observer。
type Metrics struct {
	registry *prometheus.Registry

	fetchRequests      *prometheus.CounterVec
	fetchDuration      *prometheus.HistogramVec
	completeness       *prometheus.GaugeVec
	pairReliability    *prometheus.GaugeVec
	collectionDuration prometheus.Histogram
	cleaningDropped    *prometheus.CounterVec
	cycles             *prometheus.CounterVec
}

var _ fetch.Observer = (*Metrics)(nil)

// New 创建指标集合。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		fetchRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Exchange read requests by operation and result.",
		}, []string{"operation", "result"}),
		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Latency of exchange read requests.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"operation"}),
		completeness: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "completeness_score",
			Help:      "Completeness heuristic of the last collected input per subsystem.",
		}, []string{"subsystem"}),
		pairReliability: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pair_reliability",
			Help:      "Reliability score of the last collected market data per pair.",
		}, []string{"pair"}),
		collectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collection_duration_seconds",
			Help:      "Wall time of a full collection cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		cleaningDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleaning_dropped_total",
			Help:      "Records dropped by the cleaning pass by kind.",
		}, []string{"kind"}),
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Collection cycles by result.",
		}, []string{"result"}),
	}
}

// Registry 返回底层注册表。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 的 HTTP 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveFetch 记录一次读取请求。
func (m *Metrics) ObserveFetch(op fetch.Op, elapsed time.Duration, err error) {
	m.fetchRequests.WithLabelValues(string(op), resultLabel(err)).Inc()
	m.fetchDuration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}

// ObserveInput 记录一次成功采集的完整度、可靠度与清洗统计。
func (m *Metrics) ObserveInput(in aggregator.StrategyInput, stats aggregator.CleanStats) {
	for subsystem, score := range in.Completeness {
		m.completeness.WithLabelValues(subsystem).Set(score.InexactFloat64())
	}

	// 交易对集合可能随持仓变化，先清空旧值。
	m.pairReliability.Reset()
	for pair, score := range in.Market.Reliability {
		m.pairReliability.WithLabelValues(pair).Set(score.InexactFloat64())
	}

	m.collectionDuration.Observe(in.Duration().Seconds())
	m.cleaningDropped.WithLabelValues("ticker").Add(float64(stats.DroppedTickers))
	m.cleaningDropped.WithLabelValues("order_book_level").Add(float64(stats.DroppedLevels))
	m.cleaningDropped.WithLabelValues("order_book").Add(float64(stats.DroppedOrderBooks))
	m.cycles.WithLabelValues(ResultOK).Inc()
}

// ObserveCycleError 记录一次失败的采集周期。
func (m *Metrics) ObserveCycleError() {
	m.cycles.WithLabelValues(ResultError).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, context.DeadlineExceeded):
		return ResultTimeout
	default:
		return ResultError
	}
}
