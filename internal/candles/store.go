// Package candles keeps a bounded OHLCV history per trading pair.
package candles

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toremeling86-cell/crypto-trader/models"
)

// DefaultCapacity is the number of candles retained per pair
const DefaultCapacity = 200

// ring is a fixed-capacity FIFO of candles with its own lock
type ring struct {
	mu    sync.RWMutex
	buf   []models.Candle
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]models.Candle, capacity)}
}

func (r *ring) push(c models.Candle) {
	capacity := len(r.buf)
	if r.size < capacity {
		r.buf[(r.start+r.size)%capacity] = c
		r.size++
		return
	}
	r.buf[r.start] = c
	r.start = (r.start + 1) % capacity
}

func (r *ring) snapshot() []models.Candle {
	out := make([]models.Candle, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Mirror persists candles outside the process so a restart can warm up
type Mirror interface {
	Save(ctx context.Context, pair string, c models.Candle) error
	Load(ctx context.Context, pair string, limit int) ([]models.Candle, error)
}

// Store maps pairs to ring buffers. The map lock only guards entry creation;
// reads and writes of one pair never block another pair.
type Store struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string]*ring
	mirror   Mirror
	logger   zerolog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithMirror mirrors every appended candle
func WithMirror(m Mirror) Option {
	return func(s *Store) {
		s.mirror = m
	}
}

// NewStore creates a store; capacity <= 0 falls back to DefaultCapacity
func NewStore(capacity int, opts ...Option) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{
		capacity: capacity,
		entries:  make(map[string]*ring),
		logger:   log.With().Str("component", "candle_store").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) entry(pair string) *ring {
	s.mu.RLock()
	r, ok := s.entries[pair]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok = s.entries[pair]; !ok {
		r = newRing(s.capacity)
		s.entries[pair] = r
	}
	return r
}

// Append adds a candle, evicting the oldest once capacity is reached
func (s *Store) Append(pair string, c models.Candle) {
	r := s.entry(pair)
	r.mu.Lock()
	r.push(c)
	r.mu.Unlock()

	if s.mirror != nil {
		go s.mirrorCandle(pair, c)
	}
}

// Upsert overwrites the newest candle when it has the same timestamp as c and
// appends c otherwise
func (s *Store) Upsert(pair string, c models.Candle) {
	r := s.entry(pair)
	r.mu.Lock()
	if r.size > 0 {
		idx := (r.start + r.size - 1) % len(r.buf)
		if r.buf[idx].Timestamp.Equal(c.Timestamp) {
			r.buf[idx] = c
		} else {
			r.push(c)
		}
	} else {
		r.push(c)
	}
	r.mu.Unlock()

	if s.mirror != nil {
		go s.mirrorCandle(pair, c)
	}
}

func (s *Store) mirrorCandle(pair string, c models.Candle) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.mirror.Save(ctx, pair, c); err != nil {
		s.logger.Warn().Err(err).Str("pair", pair).Msg("Failed to mirror candle")
	}
}

// Replace swaps the pair's history for the given candles, keeping the newest
func (s *Store) Replace(pair string, candles []models.Candle) {
	fresh := newRing(s.capacity)
	if len(candles) > s.capacity {
		candles = candles[len(candles)-s.capacity:]
	}
	for _, c := range candles {
		fresh.push(c)
	}

	r := s.entry(pair)
	r.mu.Lock()
	r.buf, r.start, r.size = fresh.buf, fresh.start, fresh.size
	r.mu.Unlock()
}

// Snapshot returns a copy of the pair's candles, oldest first
func (s *Store) Snapshot(pair string) []models.Candle {
	s.mu.RLock()
	r, ok := s.entries[pair]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot()
}

// Latest returns the newest candle for the pair
func (s *Store) Latest(pair string) (models.Candle, bool) {
	s.mu.RLock()
	r, ok := s.entries[pair]
	s.mu.RUnlock()
	if !ok {
		return models.Candle{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.size == 0 {
		return models.Candle{}, false
	}
	return r.buf[(r.start+r.size-1)%len(r.buf)], true
}

// Len returns the number of candles held for the pair
func (s *Store) Len(pair string) int {
	s.mu.RLock()
	r, ok := s.entries[pair]
	s.mu.RUnlock()
	if !ok {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Pairs lists the pairs with history, sorted
func (s *Store) Pairs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pairs := make([]string, 0, len(s.entries))
	for p := range s.entries {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)
	return pairs
}

// Restore loads mirrored history for the given pairs
func (s *Store) Restore(ctx context.Context, pairs []string) error {
	if s.mirror == nil {
		return nil
	}
	for _, pair := range pairs {
		candles, err := s.mirror.Load(ctx, pair, s.capacity)
		if err != nil {
			return err
		}
		if len(candles) == 0 {
			continue
		}
		s.Replace(pair, candles)
		s.logger.Info().Str("pair", pair).Int("count", len(candles)).Msg("Restored candles from mirror")
	}
	return nil
}
