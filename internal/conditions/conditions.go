// Package conditions parses strategy rule strings into typed conditions and
// evaluates them against a candle window.
package conditions

import "fmt"

// Kind identifies the condition family
type Kind int

const (
	KindUnknown Kind = iota
	KindRSI
	KindMACD
	KindMovingAverage
	KindBollinger
	KindATR
	KindMomentum
	KindVolume
	KindPrice
	KindPassthrough
)

func (k Kind) String() string {
	switch k {
	case KindRSI:
		return "rsi"
	case KindMACD:
		return "macd"
	case KindMovingAverage:
		return "moving_average"
	case KindBollinger:
		return "bollinger"
	case KindATR:
		return "atr"
	case KindMomentum:
		return "momentum"
	case KindVolume:
		return "volume"
	case KindPrice:
		return "price"
	case KindPassthrough:
		return "passthrough"
	default:
		return "unknown"
	}
}

// Operator is a numeric comparison
type Operator int

const (
	OpNone Operator = iota
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
)

func (o Operator) String() string {
	switch o {
	case OpLess:
		return "<"
	case OpLessEqual:
		return "<="
	case OpGreater:
		return ">"
	case OpGreaterEqual:
		return ">="
	default:
		return "?"
	}
}

// Compare applies the operator; OpNone never holds
func (o Operator) Compare(a, b float64) bool {
	switch o {
	case OpLess:
		return a < b
	case OpLessEqual:
		return a <= b
	case OpGreater:
		return a > b
	case OpGreaterEqual:
		return a >= b
	default:
		return false
	}
}

func (o Operator) isLess() bool {
	return o == OpLess || o == OpLessEqual
}

// Condition is a parsed rule. The concrete types below form a closed set.
type Condition interface {
	Kind() Kind
	String() string
}

type raw string

func (r raw) String() string { return string(r) }

// RSI compares the relative strength index with a threshold
type RSI struct {
	raw
	Period    int
	Op        Operator
	Threshold float64
}

func (RSI) Kind() Kind { return KindRSI }

// MACDMode selects which MACD reading a condition inspects
type MACDMode int

const (
	MACDCrossAbove MACDMode = iota
	MACDCrossBelow
	MACDLine
	MACDHistogram
	MACDVsSignal
)

// MACD uses the standard 12/26/9 configuration
type MACD struct {
	raw
	Mode      MACDMode
	Op        Operator
	Threshold float64
}

func (MACD) Kind() Kind { return KindMACD }

// AverageType distinguishes simple and exponential averages
type AverageType int

const (
	AverageSimple AverageType = iota
	AverageExponential
)

func (a AverageType) String() string {
	if a == AverageExponential {
		return "EMA"
	}
	return "SMA"
}

// OperandKind says what an operand of a moving average condition reads
type OperandKind int

const (
	OperandPrice OperandKind = iota
	OperandAverage
	OperandConstant
)

// Operand is one side of a moving average comparison
type Operand struct {
	Kind    OperandKind
	Average AverageType
	Period  int
	Value   float64
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandAverage:
		return fmt.Sprintf("%s_%d", o.Average, o.Period)
	case OperandConstant:
		return fmt.Sprintf("%g", o.Value)
	default:
		return "price"
	}
}

func (o Operand) lookback() int {
	if o.Kind == OperandAverage {
		return o.Period
	}
	return 1
}

// CrossDirection of a crossover condition
type CrossDirection int

const (
	CrossNone CrossDirection = iota
	CrossAbove
	CrossBelow
)

// MovingAverage compares or crosses two operands, at least one an average
type MovingAverage struct {
	raw
	Left  Operand
	Right Operand
	Op    Operator
	Cross CrossDirection
}

func (MovingAverage) Kind() Kind { return KindMovingAverage }

// BandTarget picks a Bollinger band
type BandTarget int

const (
	BandUpper BandTarget = iota
	BandLower
	BandMiddle
)

// Bollinger compares the close with one band
type Bollinger struct {
	raw
	Band   BandTarget
	Op     Operator
	Period int
	K      float64
}

func (Bollinger) Kind() Kind { return KindBollinger }

// ATR compares ATR as a percentage of the latest close
type ATR struct {
	raw
	Period    int
	Op        Operator
	Threshold float64
}

func (ATR) Kind() Kind { return KindATR }

// Momentum compares the percent change over Lookback candles, or the ticker's
// 24h change when Use24h is set
type Momentum struct {
	raw
	Lookback  int
	Use24h    bool
	Op        Operator
	Threshold float64
}

func (Momentum) Kind() Kind { return KindMomentum }

// VolumeMode selects the volume comparison
type VolumeMode int

const (
	VolumeVsAverage VolumeMode = iota
	VolumeAbsolute
	VolumeRising
)

// Volume inspects the latest candle's volume
type Volume struct {
	raw
	Mode       VolumeMode
	Op         Operator
	Multiplier float64
	Threshold  float64
	Period     int
}

func (Volume) Kind() Kind { return KindVolume }

// PriceMode selects the price comparison
type PriceMode int

const (
	PriceNearHigh PriceMode = iota
	PriceNearLow
	PriceAbsolute
)

// Price inspects the latest close
type Price struct {
	raw
	Mode      PriceMode
	Op        Operator
	Threshold float64
	Tolerance float64 // fraction for near-high/low
}

func (Price) Kind() Kind { return KindPrice }

// Passthrough covers stop-loss and take-profit rules handled by position
// management. It always holds.
type Passthrough struct {
	raw
}

func (Passthrough) Kind() Kind { return KindPassthrough }

// Unknown is a rule that could not be parsed. It never holds.
type Unknown struct {
	raw
	Reason string
}

func (Unknown) Kind() Kind { return KindUnknown }
