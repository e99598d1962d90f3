package risk

import (
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toremeling86-cell/crypto-trader/models"
)

// MinTradesForKelly is the trade history below which fixed sizing is used
const MinTradesForKelly = 10

// Sizer converts a strategy and balance into a position value
type Sizer struct {
	kelly  *Kelly
	logger zerolog.Logger
}

// NewSizer creates a sizer around a Kelly calculator
func NewSizer(kelly *Kelly) *Sizer {
	if kelly == nil {
		kelly = NewKelly(DefaultKellyConfig())
	}
	return &Sizer{
		kelly:  kelly,
		logger: log.With().Str("component", "position_sizer").Logger(),
	}
}

// UsesKelly reports whether the strategy is sized from its trade history
func UsesKelly(s *models.Strategy) bool {
	return s.SizingMode != models.SizingFixed && s.TotalTrades >= MinTradesForKelly
}

// PositionValue is the quote-currency amount to commit to a new position
func (s *Sizer) PositionValue(strategy *models.Strategy, balance float64) float64 {
	if balance <= 0 {
		return 0
	}
	if !UsesKelly(strategy) {
		return balance * strategy.PositionSizePercent / 100
	}
	return s.kelly.OptimalPositionSize(balance, strategy.WinRate, strategy.AvgWinPercent, strategy.AvgLossPercent)
}

// AdjustPositionSize caps a requested volume at what the strategy's sizing allows
func (s *Sizer) AdjustPositionSize(requestedVolume, price, balance float64, strategy *models.Strategy) float64 {
	if requestedVolume <= 0 || price <= 0 {
		return 0
	}

	maxVolume := s.PositionValue(strategy, balance) / price
	adjusted := math.Min(requestedVolume, maxVolume)
	if adjusted < requestedVolume {
		s.logger.Debug().
			Str("strategy", strategy.ID).
			Float64("requested", requestedVolume).
			Float64("adjusted", adjusted).
			Msg("Position size reduced")
	}
	return adjusted
}
