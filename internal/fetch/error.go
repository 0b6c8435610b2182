package fetch

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// Op 标识一次数据源读取操作。
type Op string

const (
	OpTickers      Op = "list_tickers"
	OpOrderBook    Op = "get_order_book"
	OpTrades       Op = "list_trades"
	OpCandles      Op = "list_candles"
	OpBalances     Op = "list_balances"
	OpFeeRate      Op = "get_fee_rate"
	OpActiveOrders Op = "list_orders_open"
	OpRecentOrders Op = "list_orders_finished"
	OpFills        Op = "list_fills"
)

// Error 记录单个键（交易对、周期）的读取失败。
// 数据缺失且存在对应 Error 表示失败；不存在 Error 则表示成功但为空。
type Error struct {
	Op       Op
	Pair     string
	Interval string
	Err      error
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Op))
	if e.Pair != "" {
		b.WriteString(" ")
		b.WriteString(e.Pair)
	}
	if e.Interval != "" {
		b.WriteString(" ")
		b.WriteString(e.Interval)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap 返回底层错误。
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError 构造读取失败。
func NewError(op Op, pair, interval string, err error) *Error {
	if err == nil {
		err = errors.New("unknown failure")
	}
	return &Error{Op: op, Pair: pair, Interval: interval, Err: err}
}

// Failures 为一次采集中累积的读取失败。
type Failures []*Error

// Has 判断指定操作与交易对是否失败，pair 为空时匹配任意交易对。
func (f Failures) Has(op Op, pair string) bool {
	for _, e := range f {
		if e.Op == op && (pair == "" || e.Pair == pair) {
			return true
		}
	}
	return false
}

// ForPair 返回某交易对的全部失败。
func (f Failures) ForPair(pair string) Failures {
	var out Failures
	for _, e := range f {
		if e.Pair == pair {
			out = append(out, e)
		}
	}
	return out
}

// CountByOp 按操作统计失败次数。
func (f Failures) CountByOp() map[Op]int {
	counts := make(map[Op]int)
	for _, e := range f {
		counts[e.Op]++
	}
	return counts
}

// Err 将失败合并为单个错误，无失败时返回 nil。
func (f Failures) Err() error {
	if len(f) == 0 {
		return nil
	}
	var err error
	for _, e := range f {
		err = multierr.Append(err, e)
	}
	return err
}

// Sort 按操作、交易对、周期排序，便于稳定输出。
func (f Failures) Sort() {
	sort.SliceStable(f, func(i, j int) bool {
		if f[i].Op != f[j].Op {
			return f[i].Op < f[j].Op
		}
		if f[i].Pair != f[j].Pair {
			return f[i].Pair < f[j].Pair
		}
		return f[i].Interval < f[j].Interval
	})
}

// String 便于日志输出。
func (f Failures) String() string {
	parts := make([]string, 0, len(f))
	for _, e := range f {
		parts = append(parts, e.Error())
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, "; "))
}
