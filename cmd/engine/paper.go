package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/toremeling86-cell/crypto-trader/internal/orders"
	"github.com/toremeling86-cell/crypto-trader/models"
)

// paperAccount fills signals immediately against a cash balance
type paperAccount struct {
	mu       sync.Mutex
	cash     float64
	prices   map[string]float64
	tracker  *orders.Tracker
	day      string
	dayStart float64
	seq      int
}

func newPaperAccount(balance float64, tracker *orders.Tracker) *paperAccount {
	return &paperAccount{
		cash:    balance,
		prices:  make(map[string]float64),
		tracker: tracker,
	}
}

func (a *paperAccount) mark(pair string, price float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if price > 0 {
		a.prices[pair] = price
	}
}

func (a *paperAccount) equityLocked() float64 {
	total := a.cash
	for pair, price := range a.prices {
		if pos, ok := a.tracker.OpenPosition(pair); ok {
			total += pos.Volume * price
		}
	}
	return total
}

func (a *paperAccount) portfolio() models.Portfolio {
	a.mu.Lock()
	defer a.mu.Unlock()

	equity := a.equityLocked()
	today := time.Now().UTC().Format("2006-01-02")
	if today != a.day {
		a.day, a.dayStart = today, equity
	}

	p := models.Portfolio{TotalValue: equity, AvailableBalance: a.cash}
	if a.dayStart > 0 {
		p.DayProfitPercent = (equity - a.dayStart) / a.dayStart * 100
	}
	return p
}

func (a *paperAccount) execute(sig *models.TradeSignal) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	volume := sig.SuggestedVolume
	if sig.Action == models.ActionBuy {
		// one position per pair
		if _, ok := a.tracker.OpenPosition(sig.Pair); ok {
			log.Debug().Str("strategy", sig.StrategyID).Str("pair", sig.Pair).Msg("Position already open, ignoring entry")
			return nil
		}
	}
	if sig.Action == models.ActionSell {
		pos, ok := a.tracker.OpenPosition(sig.Pair)
		if !ok {
			return nil
		}
		volume = pos.Volume
	}

	a.seq++
	id := fmt.Sprintf("%s-%s-%d", sig.StrategyID, sig.Pair, a.seq)
	if err := a.tracker.Submit(orders.Order{
		ID:     id,
		Pair:   sig.Pair,
		Side:   sig.Action,
		Volume: volume,
		Price:  sig.TargetPrice,
	}); err != nil {
		return err
	}
	if err := a.tracker.UpdateStatus(id, orders.StatusFilled); err != nil {
		return err
	}

	value := volume * sig.TargetPrice
	if sig.Action == models.ActionBuy {
		a.cash -= value
	} else {
		a.cash += value
	}

	log.Info().
		Str("order", id).
		Str("side", string(sig.Action)).
		Float64("volume", volume).
		Float64("price", sig.TargetPrice).
		Float64("cash", a.cash).
		Msg("Paper order filled")
	return nil
}
