// Package indicators holds stateless technical indicator functions.
// Every function takes an oldest-first series and reports ok=false when the
// series is too short for the requested lookback.
package indicators

import (
	"math"
)

// SMA returns the arithmetic mean of the last period values
func SMA(series []float64, period int) (float64, bool) {
	if period <= 0 || len(series) < period {
		return 0, false
	}

	var sum float64
	for _, v := range series[len(series)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// EMA returns the latest exponential moving average of the whole series.
// The average is seeded with the SMA of the first period values.
func EMA(series []float64, period int) (float64, bool) {
	values := EMASeries(series, period)
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}

// EMASeries returns EMA values aligned to series[period-1:]
func EMASeries(series []float64, period int) []float64 {
	if period <= 0 || len(series) < period {
		return nil
	}

	multiplier := 2.0 / float64(period+1)

	var seed float64
	for _, v := range series[:period] {
		seed += v
	}
	ema := seed / float64(period)

	out := make([]float64, 0, len(series)-period+1)
	out = append(out, ema)
	for _, v := range series[period:] {
		ema = (v-ema)*multiplier + ema
		out = append(out, ema)
	}
	return out
}

// RSI computes the Wilder-smoothed relative strength index
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}

	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// MACDResult holds the latest MACD values
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD computes the moving average convergence divergence.
// Needs at least slow+signal-1 closes.
func MACD(closes []float64, fast, slow, signal int) (MACDResult, bool) {
	if fast <= 0 || slow <= fast || signal <= 0 || len(closes) < slow+signal-1 {
		return MACDResult{}, false
	}

	fastEMA := EMASeries(closes, fast)
	slowEMA := EMASeries(closes, slow)

	// fastEMA starts at index fast-1, slowEMA at slow-1
	offset := slow - fast
	macdLine := make([]float64, len(slowEMA))
	for i := range slowEMA {
		macdLine[i] = fastEMA[i+offset] - slowEMA[i]
	}

	signalLine, ok := EMA(macdLine, signal)
	if !ok {
		return MACDResult{}, false
	}

	last := macdLine[len(macdLine)-1]
	return MACDResult{
		MACD:      last,
		Signal:    signalLine,
		Histogram: last - signalLine,
	}, true
}

// Bands holds Bollinger band levels
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// BollingerBands uses the population standard deviation of the last period closes
func BollingerBands(closes []float64, period int, k float64) (Bands, bool) {
	middle, ok := SMA(closes, period)
	if !ok {
		return Bands{}, false
	}

	var variance float64
	for _, v := range closes[len(closes)-period:] {
		variance += math.Pow(v-middle, 2)
	}
	sd := math.Sqrt(variance / float64(period))

	return Bands{
		Upper:  middle + sd*k,
		Middle: middle,
		Lower:  middle - sd*k,
	}, true
}

// AverageVolume is the SMA of the last period volumes
func AverageVolume(volumes []float64, period int) (float64, bool) {
	return SMA(volumes, period)
}
