package models

import "context"

// BarSource provides historical bars. Implementations may block on network I/O.
type BarSource interface {
	GetRecentBars(ctx context.Context, pair string, intervalMinutes int, count int) ([]Candle, error)
	FetchMultiTimeframeData(ctx context.Context, pair string, timeframes []int) (map[int][]Candle, error)
}

// TickerSource provides the live quote for a pair
type TickerSource interface {
	GetTicker(ctx context.Context, pair string) (MarketTicker, error)
}

// PositionTracker answers open-position queries
type PositionTracker interface {
	OpenPosition(pair string) (Position, bool)
}
