// Package timeframe confirms entry conditions across several bar intervals.
package timeframe

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toremeling86-cell/crypto-trader/internal/conditions"
	"github.com/toremeling86-cell/crypto-trader/models"
)

const (
	// MinBars is the history a timeframe needs before it can confirm
	MinBars = 30
	// SingleTimeframeConfidence is reported when multi-timeframe analysis is off
	SingleTimeframeConfidence = 0.75
	// MinConfirmations is the number of agreeing timeframes required to enter
	MinConfirmations = 2
)

// Request carries one entry evaluation
type Request struct {
	Strategy *models.Strategy
	Pair     string
	Entry    []conditions.Condition
	// Candles is the live window used when multi-timeframe analysis is off
	Candles []models.Candle
	Ticker  *models.MarketTicker
}

// Result is the aggregated entry decision
type Result struct {
	ShouldEnter bool
	Confidence  float64
	Confirmed   []int
	Evaluated   []int
	Total       int
	Reason      string
}

// ConfidenceForRatio maps the share of confirming timeframes to a confidence.
// It never decreases as the ratio grows.
func ConfidenceForRatio(ratio float64) float64 {
	switch {
	case ratio >= 1:
		return 0.95
	case ratio >= 0.75:
		return 0.85
	case ratio >= 0.5:
		return 0.70
	default:
		return 0.50
	}
}

// Aggregator evaluates entry conditions per timeframe
type Aggregator struct {
	bars      models.BarSource
	evaluator *conditions.Evaluator
	logger    zerolog.Logger
}

// NewAggregator creates an aggregator
func NewAggregator(bars models.BarSource, evaluator *conditions.Evaluator) *Aggregator {
	return &Aggregator{
		bars:      bars,
		evaluator: evaluator,
		logger:    log.With().Str("component", "mtf_aggregator").Logger(),
	}
}

// Evaluate decides whether the entry conditions are confirmed. Each timeframe
// is evaluated on its own copy of the fetched bars; the live candle store is
// never touched.
func (a *Aggregator) Evaluate(ctx context.Context, req Request) Result {
	if !req.Strategy.MultiTimeframeEnabled {
		return a.single(req)
	}

	timeframes := req.Strategy.Timeframes()
	primary := timeframes[0]

	data, err := a.bars.FetchMultiTimeframeData(ctx, req.Pair, timeframes)
	if err != nil {
		a.logger.Warn().Err(err).Str("pair", req.Pair).Msg("Failed to fetch multi-timeframe data")
		return Result{Total: len(timeframes), Reason: "multi-timeframe data unavailable"}
	}

	res := Result{Total: len(timeframes)}
	primaryConfirmed := false
	for _, tf := range timeframes {
		bars := data[tf]
		if len(bars) < MinBars {
			a.logger.Debug().Str("pair", req.Pair).Int("timeframe", tf).Int("bars", len(bars)).Msg("Not enough bars for timeframe")
			continue
		}

		snapshot := make([]models.Candle, len(bars))
		copy(snapshot, bars)
		res.Evaluated = append(res.Evaluated, tf)

		if a.evaluator.AllTrue(req.Entry, conditions.Input{Candles: snapshot, Ticker: req.Ticker}) {
			res.Confirmed = append(res.Confirmed, tf)
			if tf == primary {
				primaryConfirmed = true
			}
		}
	}

	ratio := float64(len(res.Confirmed)) / float64(len(timeframes))
	res.Confidence = ConfidenceForRatio(ratio)
	res.ShouldEnter = primaryConfirmed && len(res.Confirmed) >= MinConfirmations

	switch {
	case res.ShouldEnter:
		res.Reason = fmt.Sprintf("confirmed on %s (%d/%d timeframes)", labels(res.Confirmed), len(res.Confirmed), len(timeframes))
	case !primaryConfirmed:
		res.Reason = fmt.Sprintf("primary timeframe %s not confirmed", models.IntervalLabel(primary))
	default:
		res.Reason = fmt.Sprintf("only %d of %d timeframes confirmed", len(res.Confirmed), len(timeframes))
	}

	a.logger.Debug().
		Str("pair", req.Pair).
		Str("strategy", req.Strategy.ID).
		Ints("confirmed", res.Confirmed).
		Bool("enter", res.ShouldEnter).
		Float64("confidence", res.Confidence).
		Msg("Multi-timeframe evaluation")

	return res
}

func (a *Aggregator) single(req Request) Result {
	res := Result{Total: 1}
	if !a.evaluator.AllTrue(req.Entry, conditions.Input{Candles: req.Candles, Ticker: req.Ticker}) {
		res.Reason = "entry conditions not met"
		return res
	}

	tf := req.Strategy.PrimaryTimeframe
	res.ShouldEnter = true
	res.Confidence = SingleTimeframeConfidence
	res.Confirmed = []int{tf}
	res.Evaluated = []int{tf}
	res.Reason = "entry conditions met"
	return res
}

func labels(timeframes []int) string {
	out := make([]string, len(timeframes))
	for i, tf := range timeframes {
		out[i] = models.IntervalLabel(tf)
	}
	return strings.Join(out, ",")
}
