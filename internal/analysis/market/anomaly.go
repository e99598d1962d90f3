package market

import (
	"fmt"
	"math"
	"strings"

	"github.com/toremeling86-cell/crypto-trader/internal/indicators"
	"github.com/toremeling86-cell/crypto-trader/models"
)

// Anomaly describes unusual behaviour on the newest bar
type Anomaly struct {
	Detected bool
	Types    []string
	Score    float64
	Details  string
}

// String is the compact form used in signal reasons
func (a Anomaly) String() string {
	if !a.Detected {
		return ""
	}
	return fmt.Sprintf("%s (score %.2f)", strings.Join(a.Types, "+"), a.Score)
}

// Corroborated reports whether at least two independent checks fired
func (a Anomaly) Corroborated() bool {
	return len(a.Types) >= 2
}

const anomalyMinBars = 20

// DetectAnomaly flags price spikes, volume spikes, gaps, volatility
// breakouts, extreme RSI and rapid multi-bar moves. The first finding sets
// the score and details; later ones raise the score.
func DetectAnomaly(candles []models.Candle) Anomaly {
	var a Anomaly
	if len(candles) < anomalyMinBars {
		return a
	}

	highs, lows, closes := indicators.Highs(candles), indicators.Lows(candles), indicators.Closes(candles)
	atr10, ok := indicators.ATR(highs, lows, closes, 10)
	if !ok || atr10 == 0 {
		return a
	}
	baseline, ok := indicators.ATR(highs, lows, closes, min(50, len(candles)-1))
	if !ok || baseline == 0 {
		return a
	}

	current := candles[len(candles)-1]
	prev := candles[len(candles)-2]

	add := func(kind string, score, bump float64, details string) {
		if a.Detected {
			a.Score = math.Min(a.Score+bump, 1)
		} else {
			a.Score = math.Min(score, 1)
			a.Details = details
		}
		a.Detected = true
		a.Types = append(a.Types, kind)
	}

	if move := math.Abs(current.Close-prev.Close) / atr10; move > 3 {
		add("PRICE_SPIKE", move/3, 0, fmt.Sprintf("price moved %.1f times the normal range", move))
	}

	if avg, ok := indicators.AverageVolume(indicators.Volumes(candles[:len(candles)-1]), 10); ok && avg > 0 {
		if ratio := current.Volume / avg; ratio > 3 {
			add("VOLUME_SPIKE", ratio/5, 0.2, fmt.Sprintf("volume %.1f times the average", ratio))
		}
	}

	var gap float64
	switch {
	case current.Low > prev.Close:
		gap = current.Low - prev.Close
	case current.High < prev.Close:
		gap = prev.Close - current.High
	}
	if g := gap / atr10; g > 1 {
		add("GAP", g/2, 0.15, fmt.Sprintf("price gapped %.1f times the average range", g))
	}

	if ratio := atr10 / baseline; ratio > 2.5 {
		add("VOLATILITY_BREAKOUT", ratio/4, 0.1, fmt.Sprintf("recent volatility %.1f times the baseline", ratio))
	}

	if rsi, ok := indicators.RSI(closes, 14); ok {
		switch {
		case rsi < 10:
			add("EXTREME_OVERSOLD", (10-rsi)/10, 0.1, fmt.Sprintf("RSI %.1f", rsi))
		case rsi > 90:
			add("EXTREME_OVERBOUGHT", (rsi-90)/10, 0.1, fmt.Sprintf("RSI %.1f", rsi))
		}
	}

	if ref := candles[len(candles)-6].Close; ref > 0 {
		if change := (current.Close - ref) / ref; math.Abs(change) > 0.05 {
			add("RAPID_PRICE_MOVE", math.Abs(change)/0.1, 0.15, fmt.Sprintf("%.1f%% over 5 bars", change*100))
		}
	}

	return a
}
