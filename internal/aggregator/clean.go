package aggregator

import (
	"go.uber.org/zap"

	"strategy-input/internal/market"
)

// CleanStats 为一次清洗丢弃的数据统计。
type CleanStats struct {
	DroppedTickers    int `json:"dropped_tickers"`
	DroppedLevels     int `json:"dropped_levels"`
	DroppedOrderBooks int `json:"dropped_order_books"`
}

// Total 返回丢弃的记录总数。
func (s CleanStats) Total() int {
	return s.DroppedTickers + s.DroppedLevels + s.DroppedOrderBooks
}

// Clean 剔除不合法的行情与订单簿档位，返回清洗后的副本，不修改输入。
//
// 行情需满足 last、bid、ask 均大于 0 且 bid <= last <= ask；
// 订单簿只保留价格与数量均大于 0 的档位，买卖任一侧为空则整本丢弃。
// 买卖交叉的订单簿保留，由质量报告统计。
func (a *Aggregator) Clean(in StrategyInput) (StrategyInput, CleanStats) {
	var stats CleanStats
	out := in

	tickers := make(map[string]market.Ticker, len(in.Market.Tickers))
	for pair, ticker := range in.Market.Tickers {
		if !validTicker(ticker) {
			stats.DroppedTickers++
			a.logger.Warn("行情数据异常，已剔除",
				zap.String("pair", pair),
				zap.String("last", ticker.LastPrice.String()),
				zap.String("bid", ticker.BidPrice.String()),
				zap.String("ask", ticker.AskPrice.String()),
			)
			continue
		}
		tickers[pair] = ticker
	}
	out.Market.Tickers = tickers

	books := make(map[string]market.OrderBook, len(in.Market.OrderBooks))
	for pair, book := range in.Market.OrderBooks {
		asks, droppedAsks := cleanLevels(book.Asks)
		bids, droppedBids := cleanLevels(book.Bids)
		stats.DroppedLevels += droppedAsks + droppedBids

		if len(asks) == 0 || len(bids) == 0 {
			stats.DroppedOrderBooks++
			a.logger.Warn("订单簿单侧为空，已剔除",
				zap.String("pair", pair),
				zap.Int("asks", len(asks)),
				zap.Int("bids", len(bids)),
			)
			continue
		}
		book.Asks = asks
		book.Bids = bids
		books[pair] = book
	}
	out.Market.OrderBooks = books

	if stats.Total() > 0 {
		a.logger.Info("数据清洗完成",
			zap.String("input_id", in.ID),
			zap.Int("dropped_tickers", stats.DroppedTickers),
			zap.Int("dropped_levels", stats.DroppedLevels),
			zap.Int("dropped_order_books", stats.DroppedOrderBooks),
		)
	}
	return out, stats
}

func validTicker(t market.Ticker) bool {
	if !t.LastPrice.IsPositive() || !t.BidPrice.IsPositive() || !t.AskPrice.IsPositive() {
		return false
	}
	return t.BidPrice.LessThanOrEqual(t.LastPrice) && t.LastPrice.LessThanOrEqual(t.AskPrice)
}

func cleanLevels(levels []market.OrderBookLevel) ([]market.OrderBookLevel, int) {
	kept := make([]market.OrderBookLevel, 0, len(levels))
	for _, level := range levels {
		if level.Price.IsPositive() && level.Volume.IsPositive() {
			kept = append(kept, level)
		}
	}
	return kept, len(levels) - len(kept)
}
