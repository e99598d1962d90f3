package risk

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// KellyConfig bounds fractional Kelly sizing. Position sizes are fractions of
// the available balance.
type KellyConfig struct {
	Fraction        float64
	MinPositionSize float64
	MaxPositionSize float64
}

// DefaultKellyConfig is quarter Kelly clamped to 1%..20% of the balance
func DefaultKellyConfig() KellyConfig {
	return KellyConfig{
		Fraction:        0.25,
		MinPositionSize: 0.01,
		MaxPositionSize: 0.20,
	}
}

// Kelly sizes positions from a strategy's historical edge
type Kelly struct {
	cfg    KellyConfig
	logger zerolog.Logger
}

// NewKelly creates a Kelly calculator; zero fields fall back to the defaults
func NewKelly(cfg KellyConfig) *Kelly {
	def := DefaultKellyConfig()
	if cfg.Fraction <= 0 || cfg.Fraction > 1 {
		cfg.Fraction = def.Fraction
	}
	if cfg.MinPositionSize <= 0 {
		cfg.MinPositionSize = def.MinPositionSize
	}
	if cfg.MaxPositionSize <= 0 || cfg.MaxPositionSize < cfg.MinPositionSize {
		cfg.MaxPositionSize = def.MaxPositionSize
	}
	return &Kelly{
		cfg:    cfg,
		logger: log.With().Str("component", "kelly").Logger(),
	}
}

// Config returns the effective configuration
func (k *Kelly) Config() KellyConfig {
	return k.cfg
}

// RawFraction computes the full Kelly fraction (p*b - q) / b where b is the
// win/loss ratio. Average loss is taken by magnitude.
func (k *Kelly) RawFraction(winRate, avgWinPercent, avgLossPercent float64) (float64, error) {
	avgLoss := math.Abs(avgLossPercent)
	if winRate <= 0 || winRate >= 1 {
		return 0, fmt.Errorf("%w: win rate %.4f outside (0,1)", ErrInvalidParameter, winRate)
	}
	if avgWinPercent <= 0 {
		return 0, fmt.Errorf("%w: average win %.4f must be positive", ErrInvalidParameter, avgWinPercent)
	}
	if avgLoss == 0 {
		return 0, fmt.Errorf("%w: average loss is zero", ErrInvalidParameter)
	}

	b := avgWinPercent / avgLoss
	return (winRate*b - (1 - winRate)) / b, nil
}

// ShouldTakeTrade is false whenever the expectancy is not positive
func (k *Kelly) ShouldTakeTrade(winRate, avgWinPercent, avgLossPercent float64) bool {
	raw, err := k.RawFraction(winRate, avgWinPercent, avgLossPercent)
	return err == nil && raw > 0
}

// OptimalPositionSize returns the amount of balance to commit. A negative edge
// yields zero; invalid statistics yield the minimum size.
func (k *Kelly) OptimalPositionSize(balance, winRate, avgWinPercent, avgLossPercent float64) float64 {
	if balance <= 0 {
		return 0
	}

	raw, err := k.RawFraction(winRate, avgWinPercent, avgLossPercent)
	if err != nil {
		k.logger.Warn().
			Err(err).
			Float64("win_rate", winRate).
			Float64("avg_win", avgWinPercent).
			Float64("avg_loss", avgLossPercent).
			Msg("Invalid Kelly parameters, using minimum position size")
		return balance * k.cfg.MinPositionSize
	}
	if raw <= 0 {
		k.logger.Debug().Float64("kelly", raw).Msg("Negative edge, no position")
		return 0
	}

	fraction := math.Max(k.cfg.MinPositionSize, math.Min(raw*k.cfg.Fraction, k.cfg.MaxPositionSize))
	return balance * fraction
}
