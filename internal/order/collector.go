// Package order 采集挂单、历史订单与成交记录，并计算订单统计。
package order

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"strategy-input/internal/coerce"
	"strategy-input/internal/exchange"
	"strategy-input/internal/fetch"
)

const (
	DefaultOrdersLimit = 100
	DefaultFillsLimit  = 100
	DefaultFeeCurrency = "USDT"
)

// Options 控制订单采集数量。
type Options struct {
	OrdersLimit int
	FillsLimit  int
	// FeeCurrency 为数据源未给出手续费币种时使用的币种。
	FeeCurrency string
}

// Collector 负责采集订单数据。
type Collector struct {
	source exchange.Source
	runner *fetch.Runner
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewCollector 创建订单采集器。
func NewCollector(source exchange.Source, runner *fetch.Runner, opts Options, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		runner = fetch.NewRunner(fetch.Options{}, nil, logger)
	}
	if opts.OrdersLimit <= 0 {
		opts.OrdersLimit = DefaultOrdersLimit
	}
	if opts.FillsLimit <= 0 {
		opts.FillsLimit = DefaultFillsLimit
	}
	if opts.FeeCurrency == "" {
		opts.FeeCurrency = DefaultFeeCurrency
	}

	return &Collector{
		source: source,
		runner: runner,
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Collect 采集挂单、最近订单与成交，并计算统计。
func (c *Collector) Collect(ctx context.Context, pairs []string) Snapshot {
	var failures fetch.Failures

	active, fs := c.FetchActiveOrders(ctx, pairs)
	failures = append(failures, fs...)

	recent, fs := c.FetchRecentOrders(ctx, pairs, c.opts.OrdersLimit)
	failures = append(failures, fs...)

	fills, fs := c.FetchFills(ctx, pairs, c.opts.FillsLimit)
	failures = append(failures, fs...)
	failures.Sort()

	snapshot := Snapshot{
		ActiveOrders: active,
		RecentOrders: recent,
		Fills:        fills,
		Stats:        ComputeStats(recent, fills),
		CapturedAt:   c.now(),
		Failures:     failures,
	}

	c.logger.Info("订单采集完成",
		zap.Int("active_orders", len(active)),
		zap.Int("recent_orders", len(recent)),
		zap.Int("fills", len(fills)),
		zap.Int("failures", len(failures)),
	)

	return snapshot
}

// FetchActiveOrders 逐个交易对查询挂单，按订单号合并。
func (c *Collector) FetchActiveOrders(ctx context.Context, pairs []string) (map[string]Order, fetch.Failures) {
	lists, failures := c.listOrders(ctx, pairs, exchange.ListStatusOpen, 0)

	active := make(map[string]Order)
	for _, list := range lists {
		for _, o := range list {
			active[o.ID] = o
		}
	}
	return active, failures
}

// FetchRecentOrders 逐个交易对查询已结束订单，合并后按创建时间倒序，全局截取前 limit 条。
func (c *Collector) FetchRecentOrders(ctx context.Context, pairs []string, limit int) ([]Order, fetch.Failures) {
	lists, failures := c.listOrders(ctx, pairs, exchange.ListStatusFinished, limit)

	var recent []Order
	for _, list := range lists {
		recent = append(recent, list...)
	}
	sort.SliceStable(recent, func(i, j int) bool {
		return newerFirst(recent[i].CreatedAt, recent[i].TimestampKnown, recent[j].CreatedAt, recent[j].TimestampKnown)
	})
	if limit > 0 && len(recent) > limit {
		recent = recent[:limit]
	}
	if recent == nil {
		recent = []Order{}
	}
	return recent, failures
}

// FetchFills 逐个交易对查询成交，合并后按时间倒序，全局截取前 limit 条。
func (c *Collector) FetchFills(ctx context.Context, pairs []string, limit int) ([]Fill, fetch.Failures) {
	type slot struct {
		fills []Fill
		err   *fetch.Error
	}
	slots := make([]slot, len(pairs))

	c.runner.Each(ctx, len(pairs), func(ctx context.Context, i int) {
		pair := pairs[i]
		var raw []exchange.RawFill
		slots[i].err = c.runner.Call(ctx, fetch.OpFills, pair, "", func(ctx context.Context) error {
			var err error
			raw, err = c.source.ListFills(ctx, pair, limit)
			return err
		})
		if slots[i].err != nil {
			return
		}
		capturedAt := c.now()
		fills := make([]Fill, 0, len(raw))
		for _, f := range raw {
			fills = append(fills, c.convertFill(pair, f, capturedAt))
		}
		slots[i].fills = fills
	})

	fills := []Fill{}
	var failures fetch.Failures
	for _, s := range slots {
		if s.err != nil {
			failures = append(failures, s.err)
			continue
		}
		fills = append(fills, s.fills...)
	}
	sort.SliceStable(fills, func(i, j int) bool {
		return newerFirst(fills[i].Timestamp, fills[i].TimestampKnown, fills[j].Timestamp, fills[j].TimestampKnown)
	})
	if limit > 0 && len(fills) > limit {
		fills = fills[:limit]
	}
	return fills, failures
}

// newerFirst 按时间倒序排列，时间未知的记录排在所有已知记录之后。
func newerFirst(a time.Time, aKnown bool, b time.Time, bKnown bool) bool {
	if aKnown != bKnown {
		return aKnown
	}
	return a.After(b)
}

func (c *Collector) listOrders(ctx context.Context, pairs []string, status exchange.ListStatus, limit int) ([][]Order, fetch.Failures) {
	op := fetch.OpActiveOrders
	if status == exchange.ListStatusFinished {
		op = fetch.OpRecentOrders
	}

	type slot struct {
		orders []Order
		err    *fetch.Error
	}
	slots := make([]slot, len(pairs))

	c.runner.Each(ctx, len(pairs), func(ctx context.Context, i int) {
		pair := pairs[i]
		var raw []exchange.RawOrder
		slots[i].err = c.runner.Call(ctx, op, pair, "", func(ctx context.Context) error {
			var err error
			raw, err = c.source.ListOrders(ctx, pair, status, limit)
			return err
		})
		if slots[i].err != nil {
			return
		}
		capturedAt := c.now()
		orders := make([]Order, 0, len(raw))
		for _, o := range raw {
			orders = append(orders, c.convertOrder(pair, o, capturedAt))
		}
		if limit > 0 && len(orders) > limit {
			sort.SliceStable(orders, func(a, b int) bool {
				return newerFirst(orders[a].CreatedAt, orders[a].TimestampKnown, orders[b].CreatedAt, orders[b].TimestampKnown)
			})
			orders = orders[:limit]
		}
		slots[i].orders = orders
	})

	lists := make([][]Order, 0, len(pairs))
	var failures fetch.Failures
	for _, s := range slots {
		if s.err != nil {
			failures = append(failures, s.err)
			continue
		}
		lists = append(lists, s.orders)
	}
	return lists, failures
}

// ComputeStats 统计订单与成交，订单总数为 0 时成交率为 0。
func ComputeStats(orders []Order, fills []Fill) Stats {
	stats := Stats{
		TotalOrders: len(orders),
		TotalTrades: len(fills),
		TotalVolume: decimal.Zero,
		TotalFees:   decimal.Zero,
		FillRate:    decimal.Zero,
	}

	for _, o := range orders {
		switch o.Status {
		case StatusClosed:
			stats.FilledOrders++
		case StatusCancelled:
			stats.CancelledOrders++
		}
	}
	for _, f := range fills {
		stats.TotalVolume = stats.TotalVolume.Add(f.Amount)
		stats.TotalFees = stats.TotalFees.Add(f.Fee)
	}
	if stats.TotalOrders > 0 {
		stats.FillRate = decimal.NewFromInt(int64(stats.FilledOrders)).
			Div(decimal.NewFromInt(int64(stats.TotalOrders)))
	}

	return stats
}

func (c *Collector) convertOrder(pair string, o exchange.RawOrder, capturedAt time.Time) Order {
	amount := coerce.ToDecimal(o.Amount)
	filled := coerce.ToDecimal(o.Filled)

	var remaining decimal.Decimal
	if o.Remaining != nil {
		remaining = coerce.ToDecimal(o.Remaining)
	} else {
		remaining = decimal.Max(amount.Sub(filled), decimal.Zero)
	}

	if o.Pair != "" {
		pair = o.Pair
	}

	created, known := coerce.ParseTimestamp(o.CreateTime)
	if !known {
		created = capturedAt
	}
	updated, ok := coerce.ParseTimestamp(o.UpdateTime)
	if !ok {
		updated = created
	}

	return Order{
		ID:             o.ID,
		ClientOrderID:  nonEmpty(o.ClientOrderID),
		Pair:           pair,
		Side:           strings.ToLower(o.Side),
		Type:           strings.ToLower(o.Type),
		Status:         NormalizeStatus(o.Status),
		Amount:         amount,
		Price:          optionalPositive(o.Price),
		Filled:         filled,
		Remaining:      remaining,
		AveragePrice:   optionalPositive(o.AveragePrice),
		Fee:            coerce.ToDecimal(o.Fee),
		FeeCurrency:    c.feeCurrency(o.FeeCurrency),
		CreatedAt:      created,
		UpdatedAt:      updated,
		TimestampKnown: known,
	}
}

func (c *Collector) convertFill(pair string, f exchange.RawFill, capturedAt time.Time) Fill {
	ts, known := coerce.ParseTimestamp(f.CreateTime)
	if !known {
		ts = capturedAt
	}
	if f.Pair != "" {
		pair = f.Pair
	}
	return Fill{
		ID:             f.ID,
		OrderID:        f.OrderID,
		Pair:           pair,
		Side:           strings.ToLower(f.Side),
		Amount:         coerce.ToDecimal(f.Amount),
		Price:          coerce.ToDecimal(f.Price),
		Fee:            coerce.ToDecimal(f.Fee),
		FeeCurrency:    c.feeCurrency(f.FeeCurrency),
		Timestamp:      ts,
		TimestampKnown: known,
	}
}

func (c *Collector) feeCurrency(raw *string) string {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return c.opts.FeeCurrency
	}
	return strings.ToUpper(strings.TrimSpace(*raw))
}

// NormalizeStatus 将状态统一为小写，并把 canceled 写法归为 cancelled。
func NormalizeStatus(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "canceled", "cancelled", "cancel":
		return StatusCancelled
	case "closed", "filled", "finished":
		return StatusClosed
	default:
		return Status(s)
	}
}

func optionalPositive(value interface{}) *decimal.Decimal {
	d := coerce.ToDecimal(value)
	if !d.IsPositive() {
		return nil
	}
	return &d
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
