package models

import (
	"time"
)

// Candle represents a single OHLCV bar
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// MarketTicker is the current quote snapshot for a pair
type MarketTicker struct {
	Pair      string    `json:"pair"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	High24h   float64   `json:"high_24h"`
	Low24h    float64   `json:"low_24h"`
	Volume24h float64   `json:"volume_24h"`
	Change24h float64   `json:"change_24h"` // percent
	Timestamp time.Time `json:"timestamp"`
}

// Sizing modes for Strategy.SizingMode
const (
	SizingKelly = "kelly"
	SizingFixed = "fixed"
)

// Strategy is the declarative trading configuration evaluated by the engine.
// Timeframes are expressed in minutes.
type Strategy struct {
	ID          string `json:"id" yaml:"id" validate:"required"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	IsActive    bool   `json:"is_active" yaml:"active"`

	EntryConditions []string `json:"entry_conditions" yaml:"entry_conditions"`
	ExitConditions  []string `json:"exit_conditions" yaml:"exit_conditions"`

	PositionSizePercent float64  `json:"position_size_percent" yaml:"position_size_percent" validate:"gt=0,lte=100"`
	StopLossPercent     float64  `json:"stop_loss_percent" yaml:"stop_loss_percent" validate:"gt=0,lte=50"`
	TakeProfitPercent   float64  `json:"take_profit_percent" yaml:"take_profit_percent" validate:"gt=0,lte=200"`
	TradingPairs        []string `json:"trading_pairs" yaml:"trading_pairs" validate:"min=1,dive,required"`
	SizingMode          string   `json:"sizing_mode" yaml:"sizing_mode" default:"kelly" validate:"omitempty,oneof=kelly fixed"`

	MultiTimeframeEnabled  bool  `json:"multi_timeframe_enabled" yaml:"multi_timeframe"`
	PrimaryTimeframe       int   `json:"primary_timeframe" yaml:"primary_timeframe" default:"60" validate:"gte=0,required_if=MultiTimeframeEnabled true"`
	ConfirmatoryTimeframes []int `json:"confirmatory_timeframes" yaml:"confirmatory_timeframes" default:"[15,240]" validate:"dive,gt=0"`

	RegimeFilterEnabled bool           `json:"regime_filter_enabled" yaml:"regime_filter"`
	AllowedRegimes      []MarketRegime `json:"allowed_regimes" yaml:"allowed_regimes"`

	UseVolatilityStops       bool    `json:"use_volatility_stops" yaml:"volatility_stops"`
	VolatilityStopMultiplier float64 `json:"volatility_stop_multiplier" yaml:"volatility_stop_multiplier" default:"2.0"`

	TrailingStopEnabled bool    `json:"trailing_stop_enabled" yaml:"trailing_stop"`
	TrailingStopPercent float64 `json:"trailing_stop_percent" yaml:"trailing_stop_percent" validate:"gte=0,lte=50"`

	// Trade statistics maintained outside the engine, consumed by Kelly sizing.
	TotalTrades    int     `json:"total_trades" yaml:"total_trades" validate:"gte=0"`
	WinRate        float64 `json:"win_rate" yaml:"win_rate"` // fraction 0..1
	AvgWinPercent  float64 `json:"avg_win_percent" yaml:"avg_win_percent"`
	AvgLossPercent float64 `json:"avg_loss_percent" yaml:"avg_loss_percent"`
}

// HasPair reports whether the strategy trades the given pair
func (s *Strategy) HasPair(pair string) bool {
	for _, p := range s.TradingPairs {
		if p == pair {
			return true
		}
	}
	return false
}

// Timeframes returns the primary timeframe followed by distinct confirmatory ones
func (s *Strategy) Timeframes() []int {
	out := []int{s.PrimaryTimeframe}
	seen := map[int]bool{s.PrimaryTimeframe: true}
	for _, tf := range s.ConfirmatoryTimeframes {
		if seen[tf] {
			continue
		}
		seen[tf] = true
		out = append(out, tf)
	}
	return out
}

// TradeAction is the side of a signal
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
	ActionHold TradeAction = "HOLD"
)

// TradeSignal is the output of one strategy evaluation
type TradeSignal struct {
	StrategyID      string      `json:"strategy_id"`
	Pair            string      `json:"pair"`
	Action          TradeAction `json:"action"`
	Confidence      float64     `json:"confidence"`
	TargetPrice     float64     `json:"target_price"`
	SuggestedVolume float64     `json:"suggested_volume"`
	StopLoss        float64     `json:"stop_loss,omitempty"`
	TakeProfit      float64     `json:"take_profit,omitempty"`
	Reason          string      `json:"reason"`
	Timestamp       time.Time   `json:"timestamp"`
}

// MarketRegime is the discrete market state
type MarketRegime string

const (
	RegimeTrendingBullish MarketRegime = "TRENDING_BULLISH"
	RegimeTrendingBearish MarketRegime = "TRENDING_BEARISH"
	RegimeRanging         MarketRegime = "RANGING"
	RegimeVolatile        MarketRegime = "VOLATILE"
	RegimeTransitioning   MarketRegime = "TRANSITIONING"
	RegimeUnknown         MarketRegime = "UNKNOWN"
)

// TrendDirection from the dual SMA comparison
type TrendDirection string

const (
	TrendBullish TrendDirection = "BULLISH"
	TrendBearish TrendDirection = "BEARISH"
	TrendNeutral TrendDirection = "NEUTRAL"
)

// VolatilityLevel buckets ATR percent
type VolatilityLevel string

const (
	VolatilityLow     VolatilityLevel = "LOW"
	VolatilityNormal  VolatilityLevel = "NORMAL"
	VolatilityHigh    VolatilityLevel = "HIGH"
	VolatilityExtreme VolatilityLevel = "EXTREME"
)

// RegimeAnalysis is derived per evaluation and never persisted
type RegimeAnalysis struct {
	Regime          MarketRegime    `json:"regime"`
	TrendDirection  TrendDirection  `json:"trend_direction"`
	VolatilityLevel VolatilityLevel `json:"volatility_level"`
	ADX             float64         `json:"adx"`
	ATRPercent      float64         `json:"atr_percent"`
	Confidence      float64         `json:"confidence"`
	ShouldTrade     bool            `json:"should_trade"`
}

// Portfolio is the read-only account snapshot used for trade admission
type Portfolio struct {
	TotalValue       float64 `json:"total_value"`
	AvailableBalance float64 `json:"available_balance"`
	DayProfitPercent float64 `json:"day_profit_percent"`
}

// ExposurePercent is the share of total value currently held in positions
func (p Portfolio) ExposurePercent() float64 {
	if p.TotalValue <= 0 {
		return 0
	}
	exposed := p.TotalValue - p.AvailableBalance
	if exposed < 0 {
		exposed = 0
	}
	return exposed / p.TotalValue * 100
}

// Position is an open holding reported by the position tracker
type Position struct {
	Pair       string  `json:"pair"`
	Volume     float64 `json:"volume"`
	EntryPrice float64 `json:"entry_price"`
	PeakPrice  float64 `json:"peak_price"`
}
