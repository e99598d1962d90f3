package market

import (
	"context"
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toremeling86-cell/crypto-trader/internal/indicators"
	"github.com/toremeling86-cell/crypto-trader/models"
)

const (
	// MinBars is the history required before a regime is classified
	MinBars = 50

	adxPeriod   = 14
	atrPeriod   = 14
	shortSMA    = 10
	longSMA     = 30
	fetchBars   = 100
	trendBand   = 0.01
	trendingADX = 25.0
	rangingADX  = 20.0
	volatileATR = 3.0
)

// TrendDirection compares SMA(10) with SMA(30) using a 1% band
func TrendDirection(closes []float64) models.TrendDirection {
	short, ok1 := indicators.SMA(closes, shortSMA)
	long, ok2 := indicators.SMA(closes, longSMA)
	if !ok1 || !ok2 {
		return models.TrendNeutral
	}

	switch {
	case short > long*(1+trendBand):
		return models.TrendBullish
	case short < long*(1-trendBand):
		return models.TrendBearish
	default:
		return models.TrendNeutral
	}
}

// Classify maps ADX, ATR% and direction to a regime and its confidence.
// It is a pure function.
func Classify(adx, atrPercent float64, direction models.TrendDirection) (models.MarketRegime, float64) {
	switch {
	case adx > trendingADX && direction == models.TrendBullish:
		return models.RegimeTrendingBullish, math.Min(adx/50, 1)
	case adx > trendingADX && direction == models.TrendBearish:
		return models.RegimeTrendingBearish, math.Min(adx/50, 1)
	case adx < rangingADX:
		return models.RegimeRanging, math.Max(0, math.Min((rangingADX-adx)/rangingADX, 1))
	case atrPercent > volatileATR:
		return models.RegimeVolatile, math.Min(atrPercent/5, 1)
	default:
		return models.RegimeTransitioning, 0.5
	}
}

// ShouldTrade says whether a regime reading is strong enough to trade in
func ShouldTrade(regime models.MarketRegime, confidence float64) bool {
	switch regime {
	case models.RegimeTrendingBullish, models.RegimeTrendingBearish:
		return confidence > 0.6
	case models.RegimeRanging:
		return confidence > 0.7
	default:
		return false
	}
}

// VolatilityLevel buckets ATR percent
func VolatilityLevel(atrPercent float64) models.VolatilityLevel {
	switch {
	case atrPercent < 1:
		return models.VolatilityLow
	case atrPercent < volatileATR:
		return models.VolatilityNormal
	case atrPercent <= 5:
		return models.VolatilityHigh
	default:
		return models.VolatilityExtreme
	}
}

// Unknown is the analysis used when there is not enough data
func Unknown() models.RegimeAnalysis {
	return models.RegimeAnalysis{
		Regime:          models.RegimeUnknown,
		TrendDirection:  models.TrendNeutral,
		VolatilityLevel: models.VolatilityNormal,
	}
}

// Analyze classifies the regime from bars, oldest first
func Analyze(candles []models.Candle) models.RegimeAnalysis {
	if len(candles) < MinBars {
		return Unknown()
	}

	adx, ok := indicators.ADX(candles, adxPeriod)
	if !ok {
		return Unknown()
	}
	atrPct, ok := indicators.ATRPercent(candles, atrPeriod)
	if !ok {
		return Unknown()
	}
	direction := TrendDirection(indicators.Closes(candles))

	regime, confidence := Classify(adx.ADX, atrPct, direction)
	return models.RegimeAnalysis{
		Regime:          regime,
		TrendDirection:  direction,
		VolatilityLevel: VolatilityLevel(atrPct),
		ADX:             adx.ADX,
		ATRPercent:      atrPct,
		Confidence:      confidence,
		ShouldTrade:     ShouldTrade(regime, confidence),
	}
}

// Detector fetches bars and classifies the regime for a pair
type Detector struct {
	bars     models.BarSource
	interval int
	logger   zerolog.Logger
}

// NewDetector creates a detector reading bars of the given interval in minutes
func NewDetector(bars models.BarSource, intervalMinutes int) *Detector {
	if intervalMinutes <= 0 {
		intervalMinutes = 60
	}
	return &Detector{
		bars:     bars,
		interval: intervalMinutes,
		logger:   log.With().Str("component", "regime_detector").Logger(),
	}
}

// DetectRegime never fails: fetch errors and short history yield UNKNOWN
func (d *Detector) DetectRegime(ctx context.Context, pair string) models.RegimeAnalysis {
	candles, err := d.bars.GetRecentBars(ctx, pair, d.interval, fetchBars)
	if err != nil {
		d.logger.Warn().Err(err).Str("pair", pair).Msg("Failed to fetch bars for regime detection")
		return Unknown()
	}

	analysis := Analyze(candles)
	d.logger.Debug().
		Str("pair", pair).
		Str("regime", string(analysis.Regime)).
		Float64("adx", analysis.ADX).
		Float64("atr_percent", analysis.ATRPercent).
		Float64("confidence", analysis.Confidence).
		Msg("Regime detected")
	return analysis
}

// Permits reports whether a regime filter lets the analysis through. With no
// allowed regimes configured it defers to ShouldTrade.
func Permits(a models.RegimeAnalysis, allowed []models.MarketRegime) bool {
	if len(allowed) == 0 {
		return a.ShouldTrade
	}
	for _, r := range allowed {
		if r == a.Regime {
			return true
		}
	}
	return false
}
