package risk

import (
	"context"
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toremeling86-cell/crypto-trader/internal/indicators"
	"github.com/toremeling86-cell/crypto-trader/models"
)

const (
	MinStopMultiplier = 1.0
	MaxStopMultiplier = 4.0

	stopATRPeriod = 14
	stopBars      = 50
)

// CalculateStopLoss places a fixed percentage stop below a long entry or above a short one
func CalculateStopLoss(entry, percent float64, isBuy bool) float64 {
	if isBuy {
		return entry * (1 - percent/100)
	}
	return entry * (1 + percent/100)
}

// CalculateTakeProfit places a fixed percentage target
func CalculateTakeProfit(entry, percent float64, isBuy bool) float64 {
	if isBuy {
		return entry * (1 + percent/100)
	}
	return entry * (1 - percent/100)
}

// ClampMultiplier keeps an ATR multiplier within [1, 4]
func ClampMultiplier(m float64) float64 {
	return math.Max(MinStopMultiplier, math.Min(m, MaxStopMultiplier))
}

// VolatilityStopLoss offsets the entry by ATR times a clamped multiplier
func VolatilityStopLoss(entry, atr, multiplier float64, isBuy bool) float64 {
	distance := atr * ClampMultiplier(multiplier)
	if isBuy {
		return entry - distance
	}
	return entry + distance
}

// TrailingStop is the exit level for a long position that has reached peak
func TrailingStop(peak, percent float64) float64 {
	return peak * (1 - percent/100)
}

// StopLossFromBars uses ATR stops when the strategy asks for them and the bars
// allow it, and the fixed percentage otherwise
func StopLossFromBars(strategy *models.Strategy, candles []models.Candle, entry float64, isBuy bool) float64 {
	if strategy.UseVolatilityStops {
		if atr, ok := indicators.ATR(indicators.Highs(candles), indicators.Lows(candles), indicators.Closes(candles), stopATRPeriod); ok && atr > 0 {
			return VolatilityStopLoss(entry, atr, strategy.VolatilityStopMultiplier, isBuy)
		}
	}
	return CalculateStopLoss(entry, strategy.StopLossPercent, isBuy)
}

// TakeProfitFor is always the fixed percentage target
func TakeProfitFor(strategy *models.Strategy, entry float64, isBuy bool) float64 {
	return CalculateTakeProfit(entry, strategy.TakeProfitPercent, isBuy)
}

// StopCalculator fetches bars for volatility stops
type StopCalculator struct {
	bars     models.BarSource
	interval int
	logger   zerolog.Logger
}

// NewStopCalculator creates a calculator reading bars of the given interval
func NewStopCalculator(bars models.BarSource, intervalMinutes int) *StopCalculator {
	if intervalMinutes <= 0 {
		intervalMinutes = 60
	}
	return &StopCalculator{
		bars:     bars,
		interval: intervalMinutes,
		logger:   log.With().Str("component", "stop_calculator").Logger(),
	}
}

// StopLossFor computes the stop for a new position. Fetch failures fall back
// to the fixed percentage stop.
func (c *StopCalculator) StopLossFor(ctx context.Context, strategy *models.Strategy, pair string, entry float64, isBuy bool) float64 {
	if !strategy.UseVolatilityStops || c.bars == nil {
		return CalculateStopLoss(entry, strategy.StopLossPercent, isBuy)
	}

	candles, err := c.bars.GetRecentBars(ctx, pair, c.interval, stopBars)
	if err != nil {
		c.logger.Warn().Err(err).Str("pair", pair).Msg("ATR unavailable, using fixed stop")
		return CalculateStopLoss(entry, strategy.StopLossPercent, isBuy)
	}
	return StopLossFromBars(strategy, candles, entry, isBuy)
}
