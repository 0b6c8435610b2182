// Package fetch 提供采集器共享的读取执行环境：单次调用超时、有界并发与失败记录。
package fetch

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout 为单次读取的默认超时。
const DefaultTimeout = 10 * time.Second

// Observer 接收每次读取的耗时与结果，通常由 metrics 包实现。
type Observer interface {
	ObserveFetch(op Op, elapsed time.Duration, err error)
}

// Options 控制 Runner 行为。
type Options struct {
	// Workers 为并发上限，<=1 表示顺序执行。
	Workers int
	// Timeout 为每次调用的独立超时，<=0 使用 DefaultTimeout。
	Timeout time.Duration
}

// Runner 在进程内创建一次，之后只读，可被多个采集器共享。
type Runner struct {
	workers  int
	timeout  time.Duration
	observer Observer
	logger   *zap.Logger
}

// NewRunner 创建读取执行环境。
func NewRunner(opts Options, observer Observer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Runner{
		workers:  opts.Workers,
		timeout:  opts.Timeout,
		observer: observer,
		logger:   logger,
	}
}

// Workers 返回并发上限。
func (r *Runner) Workers() int {
	return r.workers
}

// Call 在独立超时下执行一次读取。失败（包括超时）时记录日志并返回 *Error，成功返回 nil。
func (r *Runner) Call(ctx context.Context, op Op, pair, interval string, fn func(ctx context.Context) error) *Error {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	elapsed := time.Since(start)

	if r.observer != nil {
		r.observer.ObserveFetch(op, elapsed, err)
	}

	if err == nil {
		return nil
	}

	r.logger.Warn("数据读取失败",
		zap.String("operation", string(op)),
		zap.String("pair", pair),
		zap.String("interval", interval),
		zap.Duration("latency", elapsed),
		zap.Error(err),
	)
	return NewError(op, pair, interval, err)
}

// Each 以不超过 Workers 的并发对下标 [0,n) 执行 fn。
// fn 只应写入属于自己下标的结果槽位，从而保证每个键只有一个写入者。
func (r *Runner) Each(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	if n <= 0 {
		return
	}
	if r.workers <= 1 || n == 1 {
		for i := 0; i < n; i++ {
			fn(ctx, i)
		}
		return
	}

	var group errgroup.Group
	group.SetLimit(r.workers)
	for i := 0; i < n; i++ {
		group.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}
	_ = group.Wait()
}
