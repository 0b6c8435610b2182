package signal

import (
	"math"
	"sort"

	"strategy-input/internal/market"
)

// Series 为按开盘时间升序排列的K线收盘价序列。
type Series struct {
	Close []float64
}

// NewSeries 从K线创建 Series，不修改输入的顺序。
func NewSeries(candles []market.Candle) Series {
	sorted := make([]market.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OpenTime.Before(sorted[j].OpenTime)
	})

	series := Series{Close: make([]float64, len(sorted))}
	for i, candle := range sorted {
		series.Close[i] = candle.Close.InexactFloat64()
	}
	return series
}

// Len 返回序列长度。
func (s Series) Len() int {
	return len(s.Close)
}

// Last 返回序列最后一个值，若为空则返回 NaN。
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// SafeDivide 除法保护，除数为0时返回0。
func SafeDivide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
