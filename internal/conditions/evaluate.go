package conditions

import (
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toremeling86-cell/crypto-trader/internal/indicators"
	"github.com/toremeling86-cell/crypto-trader/models"
)

// Input is the market state a condition is evaluated against
type Input struct {
	Candles []models.Candle
	Ticker  *models.MarketTicker
	// CompletedOnly drops the newest candle and ignores the ticker, so a
	// decision taken at bar t never sees bar t's close.
	CompletedOnly bool
}

func (in Input) window() ([]models.Candle, *models.MarketTicker) {
	if !in.CompletedOnly {
		return in.Candles, in.Ticker
	}
	if len(in.Candles) == 0 {
		return nil, nil
	}
	return in.Candles[:len(in.Candles)-1], nil
}

// Evaluator evaluates parsed conditions. It holds no market state.
type Evaluator struct {
	logger zerolog.Logger
}

// NewEvaluator creates an evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{
		logger: log.With().Str("component", "condition_evaluator").Logger(),
	}
}

// EvaluateString parses and evaluates a single rule
func (e *Evaluator) EvaluateString(rule string, in Input) bool {
	return e.Evaluate(Parse(rule), in)
}

// AllTrue is the entry rule: every condition must hold. No conditions never enters.
func (e *Evaluator) AllTrue(conds []Condition, in Input) bool {
	if len(conds) == 0 {
		return false
	}
	for _, c := range conds {
		if !e.Evaluate(c, in) {
			return false
		}
	}
	return true
}

// AnyTrue is the exit rule: one holding condition is enough. Stop and target
// rules are left to position management and never trigger an exit here.
func (e *Evaluator) AnyTrue(conds []Condition, in Input) bool {
	for _, c := range conds {
		if _, deferred := c.(Passthrough); deferred {
			continue
		}
		if e.Evaluate(c, in) {
			return true
		}
	}
	return false
}

// Evaluate returns whether the condition holds. Insufficient data is false.
func (e *Evaluator) Evaluate(cond Condition, in Input) bool {
	candles, ticker := in.window()

	switch c := cond.(type) {
	case RSI:
		return evalRSI(c, candles)
	case MACD:
		return evalMACD(c, candles)
	case MovingAverage:
		return evalMovingAverage(c, candles)
	case Bollinger:
		return evalBollinger(c, candles)
	case ATR:
		return evalATR(c, candles)
	case Momentum:
		return evalMomentum(c, candles, ticker)
	case Volume:
		return evalVolume(c, candles)
	case Price:
		return evalPrice(c, candles, ticker)
	case Passthrough:
		return true
	case Unknown:
		e.logger.Warn().Str("condition", c.String()).Str("reason", c.Reason).Msg("Unknown condition evaluates to false")
		return false
	case nil:
		return false
	default:
		e.logger.Warn().Str("condition", cond.String()).Msg("Unsupported condition type")
		return false
	}
}

func evalRSI(c RSI, candles []models.Candle) bool {
	rsi, ok := indicators.RSI(indicators.Closes(candles), c.Period)
	if !ok {
		return false
	}
	return c.Op.Compare(rsi, c.Threshold)
}

const (
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
)

func evalMACD(c MACD, candles []models.Candle) bool {
	closes := indicators.Closes(candles)
	curr, ok := indicators.MACD(closes, macdFast, macdSlow, macdSignal)
	if !ok {
		return false
	}

	switch c.Mode {
	case MACDCrossAbove, MACDCrossBelow:
		prev, ok := indicators.MACD(closes[:len(closes)-1], macdFast, macdSlow, macdSignal)
		if !ok {
			return false
		}
		if c.Mode == MACDCrossAbove {
			return prev.MACD < prev.Signal && curr.MACD > curr.Signal
		}
		return prev.MACD > prev.Signal && curr.MACD < curr.Signal
	case MACDLine:
		return c.Op.Compare(curr.MACD, c.Threshold)
	case MACDHistogram:
		return c.Op.Compare(curr.Histogram, c.Threshold)
	case MACDVsSignal:
		return c.Op.Compare(curr.MACD, curr.Signal)
	}
	return false
}

func operandValue(o Operand, closes []float64) (float64, bool) {
	switch o.Kind {
	case OperandAverage:
		if o.Average == AverageExponential {
			return indicators.EMA(closes, o.Period)
		}
		return indicators.SMA(closes, o.Period)
	case OperandConstant:
		return o.Value, true
	default:
		if len(closes) == 0 {
			return 0, false
		}
		return closes[len(closes)-1], true
	}
}

func evalMovingAverage(c MovingAverage, candles []models.Candle) bool {
	closes := indicators.Closes(candles)

	left, lok := operandValue(c.Left, closes)
	right, rok := operandValue(c.Right, closes)
	if !lok || !rok {
		return false
	}

	if c.Cross == CrossNone {
		return c.Op.Compare(left, right)
	}

	lookback := c.Left.lookback()
	if r := c.Right.lookback(); r > lookback {
		lookback = r
	}
	if len(closes) < lookback+2 {
		return false
	}

	prevCloses := closes[:len(closes)-1]
	prevLeft, lok := operandValue(c.Left, prevCloses)
	prevRight, rok := operandValue(c.Right, prevCloses)
	if !lok || !rok {
		return false
	}

	if c.Cross == CrossAbove {
		return prevLeft < prevRight && left > right
	}
	return prevLeft > prevRight && left < right
}

func evalBollinger(c Bollinger, candles []models.Candle) bool {
	closes := indicators.Closes(candles)
	bands, ok := indicators.BollingerBands(closes, c.Period, c.K)
	if !ok {
		return false
	}

	level := bands.Middle
	switch c.Band {
	case BandUpper:
		level = bands.Upper
	case BandLower:
		level = bands.Lower
	}
	return c.Op.Compare(closes[len(closes)-1], level)
}

func evalATR(c ATR, candles []models.Candle) bool {
	pct, ok := indicators.ATRPercent(candles, c.Period)
	if !ok {
		return false
	}
	return c.Op.Compare(pct, c.Threshold)
}

func evalMomentum(c Momentum, candles []models.Candle, ticker *models.MarketTicker) bool {
	if c.Use24h {
		if ticker == nil {
			return false
		}
		return c.Op.Compare(ticker.Change24h, c.Threshold)
	}

	if c.Lookback <= 0 || len(candles) < c.Lookback+1 {
		return false
	}
	base := candles[len(candles)-1-c.Lookback].Close
	if base == 0 {
		return false
	}
	change := (candles[len(candles)-1].Close - base) / base * 100
	return c.Op.Compare(change, c.Threshold)
}

func evalVolume(c Volume, candles []models.Candle) bool {
	if len(candles) == 0 {
		return false
	}
	current := candles[len(candles)-1].Volume

	switch c.Mode {
	case VolumeVsAverage:
		avg, ok := indicators.AverageVolume(indicators.Volumes(candles), c.Period)
		if !ok {
			return false
		}
		return c.Op.Compare(current, avg*c.Multiplier)
	case VolumeRising:
		if len(candles) < 2 {
			return false
		}
		return current > candles[len(candles)-2].Volume
	case VolumeAbsolute:
		return c.Op.Compare(current, c.Threshold)
	}
	return false
}

func evalPrice(c Price, candles []models.Candle, ticker *models.MarketTicker) bool {
	if len(candles) == 0 {
		return false
	}
	last := candles[len(candles)-1].Close

	switch c.Mode {
	case PriceNearHigh:
		high := 0.0
		if ticker != nil && ticker.High24h > 0 {
			high = ticker.High24h
		} else {
			for _, cd := range candles {
				high = math.Max(high, cd.High)
			}
		}
		return high > 0 && last >= high*(1-c.Tolerance)
	case PriceNearLow:
		low := math.Inf(1)
		if ticker != nil && ticker.Low24h > 0 {
			low = ticker.Low24h
		} else {
			for _, cd := range candles {
				low = math.Min(low, cd.Low)
			}
		}
		return !math.IsInf(low, 1) && low > 0 && last <= low*(1+c.Tolerance)
	case PriceAbsolute:
		return c.Op.Compare(last, c.Threshold)
	}
	return false
}
