// Package metrics exports engine telemetry to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/toremeling86-cell/crypto-trader/models"
)

// Recorder implements engine.Recorder using Prometheus.
type Recorder struct {
	evaluations      *prometheus.CounterVec
	signals          *prometheus.CounterVec
	signalConfidence *prometheus.GaugeVec
	rejections       *prometheus.CounterVec
	regime           *prometheus.GaugeVec
	duration         prometheus.Histogram
}

// New registers the engine collectors on reg. A nil registerer uses the
// default Prometheus registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crypto_trader_evaluations_total",
				Help: "Strategy evaluations by outcome",
			},
			[]string{"strategy", "outcome"},
		),
		signals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crypto_trader_signals_total",
				Help: "Trade signals emitted",
			},
			[]string{"strategy", "pair", "action"},
		),
		signalConfidence: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crypto_trader_signal_confidence",
				Help: "Confidence of the last signal per strategy and pair",
			},
			[]string{"strategy", "pair"},
		),
		rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crypto_trader_rejections_total",
				Help: "Entries vetoed by the risk gate, by reason",
			},
			[]string{"reason"},
		),
		regime: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crypto_trader_regime_confidence",
				Help: "Confidence of the current market regime; only the active regime is non-zero",
			},
			[]string{"pair", "regime"},
		),
		duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crypto_trader_evaluation_duration_seconds",
				Help:    "Duration of strategy evaluations in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// RecordEvaluation counts one strategy evaluation
func (r *Recorder) RecordEvaluation(strategyID, outcome string) {
	r.evaluations.WithLabelValues(strategyID, outcome).Inc()
}

// RecordSignal counts an emitted signal and keeps its confidence
func (r *Recorder) RecordSignal(strategyID, pair string, action models.TradeAction, confidence float64) {
	r.signals.WithLabelValues(strategyID, pair, string(action)).Inc()
	r.signalConfidence.WithLabelValues(strategyID, pair).Set(confidence)
}

// RecordRejection counts a risk gate veto
func (r *Recorder) RecordRejection(reason string) {
	r.rejections.WithLabelValues(reason).Inc()
}

// RecordRegime sets the active regime for the pair and zeroes the others
func (r *Recorder) RecordRegime(pair string, regime models.MarketRegime, confidence float64) {
	for _, known := range allRegimes {
		value := 0.0
		if known == regime {
			value = confidence
		}
		r.regime.WithLabelValues(pair, string(known)).Set(value)
	}
}

// ObserveDuration records how long an evaluation took
func (r *Recorder) ObserveDuration(d time.Duration) {
	r.duration.Observe(d.Seconds())
}

var allRegimes = []models.MarketRegime{
	models.RegimeTrendingBullish,
	models.RegimeTrendingBearish,
	models.RegimeRanging,
	models.RegimeVolatile,
	models.RegimeTransitioning,
	models.RegimeUnknown,
}
