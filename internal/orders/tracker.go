// Package orders tracks paper orders and the positions their fills open.
package orders

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toremeling86-cell/crypto-trader/models"
)

var (
	ErrOrderExists       = errors.New("order already exists")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInvalidTransition = errors.New("order is no longer pending")
)

// Status of an order
type Status string

const (
	StatusPending   Status = "pending"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
)

// Order is a single paper order
type Order struct {
	ID        string             `json:"id"`
	Pair      string             `json:"pair"`
	Side      models.TradeAction `json:"side"`
	Volume    float64            `json:"volume"`
	Price     float64            `json:"price"`
	Status    Status             `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Tracker is an in-memory order book. Filled orders move the open position
// for their pair, which makes the tracker the engine's position source.
type Tracker struct {
	mu        sync.RWMutex
	orders    map[string]*Order
	positions map[string]models.Position
	now       func() time.Time
	logger    zerolog.Logger
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		orders:    make(map[string]*Order),
		positions: make(map[string]models.Position),
		now:       time.Now,
		logger:    log.With().Str("component", "orders").Logger(),
	}
}

// Submit records a pending order
func (t *Tracker) Submit(o Order) error {
	if o.ID == "" || o.Pair == "" {
		return fmt.Errorf("%w: id and pair are required", ErrInvalidOrder)
	}
	if o.Side != models.ActionBuy && o.Side != models.ActionSell {
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, o.Side)
	}
	if o.Volume <= 0 || o.Price <= 0 {
		return fmt.Errorf("%w: volume and price must be positive", ErrInvalidOrder)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.orders[o.ID]; ok {
		return fmt.Errorf("%w: %s", ErrOrderExists, o.ID)
	}

	now := t.now().UTC()
	o.Status = StatusPending
	o.CreatedAt = now
	o.UpdatedAt = now
	t.orders[o.ID] = &o

	t.logger.Debug().Str("id", o.ID).Str("pair", o.Pair).Str("side", string(o.Side)).Float64("volume", o.Volume).Msg("Order submitted")
	return nil
}

// UpdateStatus moves a pending order to filled or cancelled. A fill updates
// the pair's open position.
func (t *Tracker) UpdateStatus(id string, status Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	o, ok := t.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if o.Status == status {
		return nil
	}
	if o.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, o.Status)
	}

	switch status {
	case StatusFilled:
		t.applyFill(o)
	case StatusCancelled:
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidOrder, status)
	}

	o.Status = status
	o.UpdatedAt = t.now().UTC()
	return nil
}

func (t *Tracker) applyFill(o *Order) {
	pos, open := t.positions[o.Pair]

	if o.Side == models.ActionBuy {
		if !open {
			pos = models.Position{Pair: o.Pair, PeakPrice: o.Price}
		}
		cost := pos.Volume*pos.EntryPrice + o.Volume*o.Price
		pos.Volume += o.Volume
		pos.EntryPrice = cost / pos.Volume
		pos.PeakPrice = math.Max(pos.PeakPrice, o.Price)
		t.positions[o.Pair] = pos
		return
	}

	if !open {
		t.logger.Warn().Str("id", o.ID).Str("pair", o.Pair).Msg("Sell filled without an open position")
		return
	}
	pos.Volume -= o.Volume
	if pos.Volume <= 1e-12 {
		delete(t.positions, o.Pair)
		return
	}
	t.positions[o.Pair] = pos
}

// Get returns a copy of the order
func (t *Tracker) Get(id string) (Order, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	o, ok := t.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return *o, nil
}

// List returns every order, oldest first
func (t *Tracker) List() []Order {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Order, 0, len(t.orders))
	for _, o := range t.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// OpenPosition implements models.PositionTracker
func (t *Tracker) OpenPosition(pair string) (models.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pos, ok := t.positions[pair]
	return pos, ok
}

// MarkPrice raises the position's peak when price makes a new high
func (t *Tracker) MarkPrice(pair string, price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[pair]
	if !ok || price <= pos.PeakPrice {
		return
	}
	pos.PeakPrice = price
	t.positions[pair] = pos
}
