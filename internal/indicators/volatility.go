package indicators

import (
	"math"

	"github.com/toremeling86-cell/crypto-trader/models"
)

func trueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// ATR is the simple average of the last period true ranges
func ATR(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if period <= 0 || n < period+1 || len(highs) != n || len(lows) != n {
		return 0, false
	}

	var sum float64
	for i := n - period; i < n; i++ {
		sum += trueRange(highs[i], lows[i], closes[i-1])
	}
	return sum / float64(period), true
}

// ATRPercent expresses ATR as a percentage of the latest close
func ATRPercent(candles []models.Candle, period int) (float64, bool) {
	atr, ok := ATR(Highs(candles), Lows(candles), Closes(candles), period)
	if !ok {
		return 0, false
	}
	last := candles[len(candles)-1].Close
	if last <= 0 {
		return 0, false
	}
	return atr / last * 100, true
}

// StochasticResult holds %K and %D
type StochasticResult struct {
	K float64
	D float64
}

// Stochastic computes the stochastic oscillator. %K is 50 when the window range is zero.
func Stochastic(highs, lows, closes []float64, kPeriod, dPeriod int) (StochasticResult, bool) {
	n := len(closes)
	if kPeriod <= 0 || dPeriod <= 0 || n < kPeriod+dPeriod-1 || len(highs) != n || len(lows) != n {
		return StochasticResult{}, false
	}

	kValues := make([]float64, 0, dPeriod)
	for end := n - dPeriod + 1; end <= n; end++ {
		lowest, highest := lows[end-kPeriod], highs[end-kPeriod]
		for i := end - kPeriod; i < end; i++ {
			lowest = math.Min(lowest, lows[i])
			highest = math.Max(highest, highs[i])
		}

		k := 50.0
		if highest > lowest {
			k = (closes[end-1] - lowest) / (highest - lowest) * 100
		}
		kValues = append(kValues, k)
	}

	d, _ := SMA(kValues, dPeriod)
	return StochasticResult{K: kValues[len(kValues)-1], D: d}, true
}

// ADXResult holds the directional movement readings
type ADXResult struct {
	ADX     float64
	PlusDI  float64
	MinusDI float64
}

// ADX returns the most recent DX value built from Wilder-smoothed +DM, -DM
// and true range. The DX is not smoothed a second time.
func ADX(bars []models.Candle, period int) (ADXResult, bool) {
	if period <= 0 || len(bars) < period+1 {
		return ADXResult{}, false
	}

	var smoothTR, smoothPlus, smoothMinus float64
	for i := 1; i < len(bars); i++ {
		upMove := bars[i].High - bars[i-1].High
		downMove := bars[i-1].Low - bars[i].Low

		plusDM, minusDM := 0.0, 0.0
		if upMove > downMove && upMove > 0 {
			plusDM = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM = downMove
		}
		tr := trueRange(bars[i].High, bars[i].Low, bars[i-1].Close)

		if i <= period {
			smoothTR += tr
			smoothPlus += plusDM
			smoothMinus += minusDM
			continue
		}
		smoothTR = smoothTR - smoothTR/float64(period) + tr
		smoothPlus = smoothPlus - smoothPlus/float64(period) + plusDM
		smoothMinus = smoothMinus - smoothMinus/float64(period) + minusDM
	}

	if smoothTR == 0 {
		return ADXResult{}, true
	}

	plusDI := smoothPlus / smoothTR * 100
	minusDI := smoothMinus / smoothTR * 100
	if plusDI+minusDI == 0 {
		return ADXResult{PlusDI: plusDI, MinusDI: minusDI}, true
	}

	dx := math.Abs(plusDI-minusDI) / (plusDI + minusDI) * 100
	dx = math.Max(0, math.Min(100, dx))

	return ADXResult{ADX: dx, PlusDI: plusDI, MinusDI: minusDI}, true
}
