// Package coerce 将交易所返回的任意值安全转换为精确小数与 UTC 时间，从不 panic。
package coerce

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PairSeparator 分隔交易对中的基础币与计价币，例如 BTC_USDT。
const PairSeparator = "_"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ToDecimal 转换为精确小数，无法解析时返回 0。
func ToDecimal(value interface{}) decimal.Decimal {
	return ToDecimalOr(value, decimal.Zero)
}

// ToDecimalOr 转换为精确小数，空值、空白字符串或无法解析的输入返回 def。
func ToDecimalOr(value interface{}, def decimal.Decimal) decimal.Decimal {
	switch v := value.(type) {
	case nil:
		return def
	case decimal.Decimal:
		return v
	case *decimal.Decimal:
		if v != nil {
			return *v
		}
	case string:
		return parseDecimalString(v, def)
	case *string:
		if v != nil {
			return parseDecimalString(*v, def)
		}
	case float64:
		return fromFloat(v, def)
	case *float64:
		if v != nil {
			return fromFloat(*v, def)
		}
	case float32:
		return fromFloat(float64(v), def)
	case int:
		return decimal.NewFromInt(int64(v))
	case int64:
		return decimal.NewFromInt(v)
	case *int64:
		if v != nil {
			return decimal.NewFromInt(*v)
		}
	case int32:
		return decimal.NewFromInt(int64(v))
	case int16:
		return decimal.NewFromInt(int64(v))
	case int8:
		return decimal.NewFromInt(int64(v))
	case uint:
		return fromUint(uint64(v))
	case uint64:
		return fromUint(v)
	case uint32:
		return decimal.NewFromInt(int64(v))
	case uint16:
		return decimal.NewFromInt(int64(v))
	case uint8:
		return decimal.NewFromInt(int64(v))
	case json.Number:
		return parseDecimalString(v.String(), def)
	case fmt.Stringer:
		return parseDecimalString(v.String(), def)
	}
	return def
}

// ToInt64 转换为整数，小数部分截断，无法解析时返回 def。
func ToInt64(value interface{}, def int64) int64 {
	d := ToDecimalOr(value, decimal.NewFromInt(def))
	return d.IntPart()
}

// ToString 将标识类字段转换为字符串，空值返回 ""。
func ToString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case *string:
		if v == nil {
			return ""
		}
		return strings.TrimSpace(*v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func parseDecimalString(s string, def decimal.Decimal) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return def
	}
	return d
}

func fromUint(u uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(u), 0)
}

func fromFloat(f float64, def decimal.Decimal) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return decimal.NewFromFloat(f)
}

// ToTimestamp 转换为 UTC 时间，无法解析时返回当前时间。
//
// 回退到当前时间无法与“刚刚采集”区分，需要区分时使用 ParseTimestamp。
func ToTimestamp(value interface{}) time.Time {
	if ts, ok := ParseTimestamp(value); ok {
		return ts
	}
	return time.Now().UTC()
}

// ParseTimestamp 解析时间对象、UNIX 秒（整数、浮点或数字字符串）与 ISO-8601 字符串。
// 第二个返回值为 false 表示时间未知。
func ParseTimestamp(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v.UTC(), true
	case *time.Time:
		if v != nil && !v.IsZero() {
			return v.UTC(), true
		}
	case int:
		return time.Unix(int64(v), 0).UTC(), true
	case int64:
		return time.Unix(v, 0).UTC(), true
	case *int64:
		if v != nil {
			return time.Unix(*v, 0).UTC(), true
		}
	case int32:
		return time.Unix(int64(v), 0).UTC(), true
	case uint32:
		return time.Unix(int64(v), 0).UTC(), true
	case uint64:
		if v <= math.MaxInt64 {
			return time.Unix(int64(v), 0).UTC(), true
		}
	case float64:
		return fromUnixFloat(v)
	case *float64:
		if v != nil {
			return fromUnixFloat(*v)
		}
	case float32:
		return fromUnixFloat(float64(v))
	case json.Number:
		return parseTimestampString(v.String())
	case string:
		return parseTimestampString(v)
	case *string:
		if v != nil {
			return parseTimestampString(*v)
		}
	}
	return time.Time{}, false
}

func fromUnixFloat(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), true
}

func parseTimestampString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromUnixFloat(f)
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// IsValidPair 判断交易对是否恰好包含一个分隔符且两侧均非空。
func IsValidPair(pair string) bool {
	_, _, ok := SplitPair(pair)
	return ok
}

// SplitPair 拆分交易对为基础币与计价币。
func SplitPair(pair string) (base, quote string, ok bool) {
	if strings.Count(pair, PairSeparator) != 1 {
		return "", "", false
	}
	parts := strings.SplitN(pair, PairSeparator, 2)
	if parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// JoinPair 由基础币与计价币组成交易对标识。
func JoinPair(base, quote string) string {
	return strings.ToUpper(base) + PairSeparator + strings.ToUpper(quote)
}
