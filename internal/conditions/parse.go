package conditions

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	tokenPattern  = regexp.MustCompile(`[a-z]+(?:_?\d+)?|\d+(?:\.\d+)?`)
	numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	callPattern   = regexp.MustCompile(`^([a-z]+)\s*\(\s*(\d+)\s*\)`)
)

type family int

// Ordered by dispatch priority
const (
	famNone family = iota
	famRSI
	famMACD
	famEMA
	famSMA
	famBollinger
	famATR
	famMomentum
	famVolume
	famPrice
	famPassthrough
)

var familyWords = map[string]family{
	"rsi":        famRSI,
	"macd":       famMACD,
	"ema":        famEMA,
	"sma":        famSMA,
	"ma":         famSMA,
	"bollinger":  famBollinger,
	"bb":         famBollinger,
	"bbands":     famBollinger,
	"atr":        famATR,
	"momentum":   famMomentum,
	"change":     famMomentum,
	"roc":        famMomentum,
	"volume":     famVolume,
	"vol":        famVolume,
	"price":      famPrice,
	"close":      famPrice,
	"stop":       famPassthrough,
	"stoploss":   famPassthrough,
	"profit":     famPassthrough,
	"takeprofit": famPassthrough,
	"trailing":   famPassthrough,
}

type token struct {
	word   string
	number float64
	period int // digits glued to a word, e.g. sma_20
	isNum  bool
}

func tokenize(s string) []token {
	var out []token
	for _, m := range tokenPattern.FindAllString(s, -1) {
		if m[0] >= '0' && m[0] <= '9' {
			v, _ := strconv.ParseFloat(m, 64)
			out = append(out, token{number: v, isNum: true})
			continue
		}
		i := 0
		for i < len(m) && m[i] >= 'a' && m[i] <= 'z' {
			i++
		}
		tok := token{word: m[:i]}
		if digits := strings.TrimPrefix(m[i:], "_"); digits != "" {
			tok.period, _ = strconv.Atoi(digits)
		}
		out = append(out, tok)
	}
	return out
}

// expr is the normalized rule split around its comparison
type expr struct {
	text   string
	lhs    string
	rhs    string
	op     Operator
	tokens []token
}

func (e expr) has(words ...string) bool {
	for _, w := range words {
		if strings.Contains(e.text, w) {
			return true
		}
	}
	return false
}

func splitOperator(s string) (Operator, string, string) {
	idx := strings.IndexAny(s, "<>")
	if idx < 0 {
		return OpNone, s, ""
	}

	op := OpLess
	if s[idx] == '>' {
		op = OpGreater
	}
	end := idx + 1
	if end < len(s) && s[end] == '=' {
		end++
		if op == OpLess {
			op = OpLessEqual
		} else {
			op = OpGreaterEqual
		}
	}
	return op, s[:idx], s[end:]
}

func wordOperator(s string) Operator {
	switch {
	case strings.Contains(s, "above"), strings.Contains(s, "greater than"), strings.Contains(s, "over "):
		return OpGreater
	case strings.Contains(s, "below"), strings.Contains(s, "less than"), strings.Contains(s, "under "):
		return OpLess
	}
	return OpNone
}

// firstNumber returns the first numeric literal in s
func firstNumber(s string) (float64, bool) {
	m := numberPattern.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	return v, err == nil
}

// Parse turns a rule string into a Condition. Unparseable rules become Unknown.
// The family is chosen from whole tokens in the order RSI, MACD, EMA, SMA/MA,
// Bollinger, ATR, momentum, volume, price, stop/take-profit.
func Parse(s string) Condition {
	text := strings.ToLower(strings.TrimSpace(s))
	r := raw(s)
	if text == "" {
		return Unknown{raw: r, Reason: "empty condition"}
	}

	op, lhs, rhs := splitOperator(text)
	e := expr{text: text, lhs: lhs, rhs: rhs, op: op, tokens: tokenize(text)}

	best := famNone
	for _, t := range e.tokens {
		if f, ok := familyWords[t.word]; ok && (best == famNone || f < best) {
			best = f
		}
	}

	switch best {
	case famRSI:
		return parseRSI(r, e)
	case famMACD:
		return parseMACD(r, e)
	case famEMA, famSMA:
		return parseMovingAverage(r, e)
	case famBollinger:
		return parseBollinger(r, e)
	case famATR:
		return parseATR(r, e)
	case famMomentum:
		return parseMomentum(r, e)
	case famVolume:
		return parseVolume(r, e)
	case famPrice:
		return parsePrice(r, e)
	case famPassthrough:
		return Passthrough{raw: r}
	}
	return Unknown{raw: r, Reason: "no recognised indicator"}
}

// ParseAll parses every rule in order
func ParseAll(rules []string) []Condition {
	out := make([]Condition, 0, len(rules))
	for _, s := range rules {
		out = append(out, Parse(s))
	}
	return out
}

// Unknowns returns the rules that failed to parse
func Unknowns(conds []Condition) []Unknown {
	var out []Unknown
	for _, c := range conds {
		if u, ok := c.(Unknown); ok {
			out = append(out, u)
		}
	}
	return out
}

// indicatorPeriod finds the lookback glued to the indicator word or written
// as a call, e.g. rsi_14, rsi14 or rsi(14)
func indicatorPeriod(e expr, word string, def int) int {
	for _, t := range e.tokens {
		if t.word == word && t.period > 0 {
			return t.period
		}
	}
	idx := strings.Index(e.text, word)
	if idx >= 0 {
		if m := callPattern.FindStringSubmatch(e.text[idx:]); m != nil && m[1] == word {
			if p, err := strconv.Atoi(m[2]); err == nil && p > 0 {
				return p
			}
		}
	}
	return def
}

func parseRSI(r raw, e expr) Condition {
	c := RSI{raw: r, Period: indicatorPeriod(e, "rsi", 14)}

	switch {
	case e.op != OpNone:
		c.Op = e.op
		if v, ok := firstNumber(e.rhs); ok {
			c.Threshold = v
		} else if e.op.isLess() {
			c.Threshold = 30
		} else {
			c.Threshold = 70
		}
	case e.has("oversold"):
		c.Op, c.Threshold = OpLess, 30
	case e.has("overbought"):
		c.Op, c.Threshold = OpGreater, 70
	default:
		if op := wordOperator(e.text); op != OpNone {
			c.Op = op
			threshold := 70.0
			if op.isLess() {
				threshold = 30
			}
			if v, ok := firstNumber(afterWord(e.text, "above", "below", "than", "over", "under")); ok {
				threshold = v
			}
			c.Threshold = threshold
			return c
		}
		return Unknown{raw: r, Reason: "rsi rule without a comparison"}
	}
	return c
}

func afterWord(s string, words ...string) string {
	for _, w := range words {
		if idx := strings.Index(s, w); idx >= 0 {
			return s[idx+len(w):]
		}
	}
	return ""
}

func parseMACD(r raw, e expr) Condition {
	c := MACD{raw: r}

	switch {
	case e.has("cross"):
		c.Mode = MACDCrossAbove
		if e.has("below", "under", "bear", "down") {
			c.Mode = MACDCrossBelow
		}
	case e.op != OpNone:
		c.Op = e.op
		switch {
		case strings.Contains(e.rhs, "signal"):
			c.Mode = MACDVsSignal
		case e.has("hist"):
			c.Mode = MACDHistogram
		default:
			c.Mode = MACDLine
		}
		if c.Mode != MACDVsSignal {
			c.Threshold, _ = firstNumber(e.rhs)
		}
	case e.has("bullish", "positive"):
		c.Mode, c.Op = MACDHistogram, OpGreater
	case e.has("bearish", "negative"):
		c.Mode, c.Op = MACDHistogram, OpLess
	default:
		return Unknown{raw: r, Reason: "macd rule without a comparison or crossover"}
	}
	return c
}

func averageRefs(tokens []token) []Operand {
	var refs []Operand
	for i, t := range tokens {
		f, ok := familyWords[t.word]
		if !ok || (f != famEMA && f != famSMA) {
			continue
		}
		ref := Operand{Kind: OperandAverage, Average: AverageSimple, Period: t.period}
		if f == famEMA {
			ref.Average = AverageExponential
		}
		if ref.Period == 0 && i+1 < len(tokens) && tokens[i+1].isNum && tokens[i+1].number >= 1 &&
			tokens[i+1].number == float64(int(tokens[i+1].number)) {
			ref.Period = int(tokens[i+1].number)
		}
		refs = append(refs, ref)
	}
	return refs
}

func defaultAveragePeriods(refs []Operand) {
	for i := range refs {
		if refs[i].Period > 0 {
			continue
		}
		switch {
		case len(refs) == 1:
			refs[i].Period = 20
		case refs[i].Average == AverageExponential && i == 0:
			refs[i].Period = 12
		case refs[i].Average == AverageExponential:
			refs[i].Period = 26
		case i == 0:
			refs[i].Period = 20
		default:
			refs[i].Period = 50
		}
	}
}

// sideOperand reads one side of an explicit comparison
func sideOperand(side string) (Operand, bool) {
	refs := averageRefs(tokenize(side))
	if len(refs) > 0 {
		defaultAveragePeriods(refs[:1])
		return refs[0], true
	}
	if strings.Contains(side, "price") || strings.Contains(side, "close") {
		return Operand{Kind: OperandPrice}, true
	}
	if v, ok := firstNumber(side); ok {
		return Operand{Kind: OperandConstant, Value: v}, true
	}
	return Operand{}, false
}

func parseMovingAverage(r raw, e expr) Condition {
	c := MovingAverage{raw: r}

	if e.op != OpNone && !e.has("cross") {
		left, lok := sideOperand(e.lhs)
		right, rok := sideOperand(e.rhs)
		if !lok || !rok {
			return Unknown{raw: r, Reason: "moving average comparison with an unreadable side"}
		}
		if left.Kind != OperandAverage && right.Kind != OperandAverage {
			return Unknown{raw: r, Reason: "moving average comparison without an average"}
		}
		c.Left, c.Right, c.Op = left, right, e.op
		return c
	}

	refs := averageRefs(e.tokens)
	defaultAveragePeriods(refs)
	if len(refs) == 0 {
		return Unknown{raw: r, Reason: "moving average rule without an average"}
	}

	if len(refs) >= 2 {
		c.Left, c.Right = refs[0], refs[1]
	} else {
		c.Left, c.Right = Operand{Kind: OperandPrice}, refs[0]
	}

	if e.has("cross") {
		c.Cross = CrossAbove
		if e.has("below", "under", "death", "bear", "down") {
			c.Cross = CrossBelow
		}
		return c
	}

	c.Op = wordOperator(e.text)
	if c.Op == OpNone {
		c.Op = OpGreater
	}
	return c
}

func parseBollinger(r raw, e expr) Condition {
	period := indicatorPeriod(e, "bollinger", 0)
	if period == 0 {
		period = indicatorPeriod(e, "bb", 20)
	}
	c := Bollinger{raw: r, Period: period, K: 2.0}

	switch {
	case e.has("upper", "breakout", "top"):
		c.Band, c.Op = BandUpper, OpGreaterEqual
	case e.has("lower", "bottom"):
		c.Band, c.Op = BandLower, OpLessEqual
	case e.has("middle", "mid", "basis"):
		c.Band, c.Op = BandMiddle, OpGreater
		if op := wordOperator(e.text); op != OpNone {
			c.Op = op
		}
	default:
		return Unknown{raw: r, Reason: "bollinger rule without a band"}
	}

	if e.op != OpNone {
		c.Op = e.op
		// "upper < price" reads the band on the left
		if strings.Contains(e.rhs, "price") || strings.Contains(e.rhs, "close") {
			c.Op = flip(e.op)
		}
	}
	return c
}

func flip(op Operator) Operator {
	switch op {
	case OpLess:
		return OpGreater
	case OpLessEqual:
		return OpGreaterEqual
	case OpGreater:
		return OpLess
	case OpGreaterEqual:
		return OpLessEqual
	}
	return op
}

func thresholdOrDefault(e expr, lessDefault, greaterDefault float64) (Operator, float64) {
	op := e.op
	if op == OpNone {
		op = wordOperator(e.text)
		if op == OpNone {
			return OpGreater, greaterDefault
		}
		if v, ok := firstNumber(afterWord(e.text, "above", "below", "than", "over", "under")); ok {
			return op, v
		}
	} else if v, ok := firstNumber(e.rhs); ok {
		return op, v
	}
	if op.isLess() {
		return op, lessDefault
	}
	return op, greaterDefault
}

func parseATR(r raw, e expr) Condition {
	op, threshold := thresholdOrDefault(e, 1.0, 1.0)
	return ATR{raw: r, Period: indicatorPeriod(e, "atr", 14), Op: op, Threshold: threshold}
}

func parseMomentum(r raw, e expr) Condition {
	lookback := indicatorPeriod(e, "momentum", 0)
	if lookback == 0 {
		lookback = indicatorPeriod(e, "roc", 10)
	}
	c := Momentum{raw: r, Lookback: lookback, Use24h: e.has("24h")}
	c.Op, c.Threshold = thresholdOrDefault(e, -2.0, 2.0)
	if !c.Use24h && e.op == OpNone && e.has("negative") {
		c.Op, c.Threshold = OpLess, 0
	}
	if !c.Use24h && e.op == OpNone && e.has("positive") {
		c.Op, c.Threshold = OpGreater, 0
	}
	return c
}

func parseVolume(r raw, e expr) Condition {
	c := Volume{raw: r, Period: 20, Multiplier: 1}

	cmp := e.rhs
	if e.op == OpNone {
		cmp = e.text
	}

	switch {
	case strings.Contains(cmp, "average") || strings.Contains(cmp, "avg"):
		c.Mode = VolumeVsAverage
		c.Op = e.op
		if c.Op == OpNone {
			c.Op = wordOperator(e.text)
		}
		if c.Op == OpNone {
			c.Op = OpGreater
		}
		if v, ok := firstNumber(cmp); ok && v > 0 {
			c.Multiplier = v
		}
	case e.has("spike", "surge"):
		c.Mode, c.Op, c.Multiplier = VolumeVsAverage, OpGreater, 2.0
	case e.has("increasing", "rising"):
		c.Mode, c.Op = VolumeRising, OpGreater
	case e.op != OpNone:
		v, ok := firstNumber(e.rhs)
		if !ok {
			return Unknown{raw: r, Reason: "volume comparison without a value"}
		}
		c.Mode, c.Op, c.Threshold = VolumeAbsolute, e.op, v
	default:
		return Unknown{raw: r, Reason: "volume rule without a comparison"}
	}
	return c
}

func parsePrice(r raw, e expr) Condition {
	c := Price{raw: r, Tolerance: 0.02}

	switch {
	case e.has("near") && e.has("high"):
		c.Mode = PriceNearHigh
	case e.has("near") && e.has("low"):
		c.Mode = PriceNearLow
	case e.op != OpNone:
		v, ok := firstNumber(e.rhs)
		if !ok {
			return Unknown{raw: r, Reason: "price comparison without a value"}
		}
		c.Mode, c.Op, c.Threshold = PriceAbsolute, e.op, v
	default:
		op := wordOperator(e.text)
		v, ok := firstNumber(afterWord(e.text, "above", "below", "than", "over", "under"))
		if op == OpNone || !ok {
			return Unknown{raw: r, Reason: "price rule without a comparison"}
		}
		c.Mode, c.Op, c.Threshold = PriceAbsolute, op, v
	}
	return c
}
