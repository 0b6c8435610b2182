package market

import "time"

// DefaultIntervalDuration 为未知周期标签使用的时长。
const DefaultIntervalDuration = time.Minute

var intervalSeconds = map[string]int64{
	"1s":  1,
	"10s": 10,
	"1m":  60,
	"5m":  300,
	"15m": 900,
	"30m": 1800,
	"1h":  3600,
	"4h":  14400,
	"8h":  28800,
	"1d":  86400,
	"7d":  604800,
	"30d": 2592000,
}

// IntervalDuration 返回周期标签对应的固定时长，未知标签返回 DefaultIntervalDuration。
func IntervalDuration(interval string) time.Duration {
	if secs, ok := intervalSeconds[interval]; ok {
		return time.Duration(secs) * time.Second
	}
	return DefaultIntervalDuration
}

// KnownInterval 判断周期标签是否在标准表中。
func KnownInterval(interval string) bool {
	_, ok := intervalSeconds[interval]
	return ok
}
