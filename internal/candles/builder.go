package candles

import (
	"math"
	"sync"
	"time"

	"github.com/toremeling86-cell/crypto-trader/models"
)

// Builder folds ticker snapshots into bars of a fixed interval. Tickers only
// carry a rolling 24h volume, so a bar's volume is how much that figure grew
// between snapshots falling inside the bar.
type Builder struct {
	mu       sync.Mutex
	interval time.Duration
	volume   map[string]float64
}

// NewBuilder creates a builder for bars of the given length; intervalMinutes
// <= 0 falls back to hourly bars
func NewBuilder(intervalMinutes int) *Builder {
	if intervalMinutes <= 0 {
		intervalMinutes = 60
	}
	return &Builder{
		interval: time.Duration(intervalMinutes) * time.Minute,
		volume:   make(map[string]float64),
	}
}

// Interval returns the bar length
func (b *Builder) Interval() time.Duration {
	return b.interval
}

// Ingest folds the ticker into the pair's newest bar when both fall into the
// same interval and opens a new bar otherwise. Snapshots older than the
// newest bar leave the store untouched. It returns the pair's newest bar.
func (b *Builder) Ingest(s *Store, t models.MarketTicker) models.Candle {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	bucket := ts.UTC().Truncate(b.interval)
	delta := b.volumeDelta(t.Pair, t.Volume24h)

	last, ok := s.Latest(t.Pair)
	if ok && last.Timestamp.After(bucket) {
		return last
	}
	if ok && last.Timestamp.Equal(bucket) {
		last.High = math.Max(last.High, t.Last)
		last.Low = math.Min(last.Low, t.Last)
		last.Close = t.Last
		last.Volume += delta
		s.Upsert(t.Pair, last)
		return last
	}

	open := t.Last
	if ok && last.Close > 0 {
		open = last.Close
	}
	c := models.Candle{
		Timestamp: bucket,
		Open:      open,
		High:      math.Max(open, t.Last),
		Low:       math.Min(open, t.Last),
		Close:     t.Last,
		Volume:    delta,
	}
	s.Upsert(t.Pair, c)
	return c
}

// volumeDelta is the growth of the rolling 24h volume since the previous
// snapshot. The first snapshot and a shrinking window count as zero.
func (b *Builder) volumeDelta(pair string, volume24h float64) float64 {
	prev, seen := b.volume[pair]
	b.volume[pair] = volume24h
	if !seen || volume24h <= prev {
		return 0
	}
	return volume24h - prev
}
