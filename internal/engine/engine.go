// Package engine turns strategies and live market data into trade signals.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toremeling86-cell/crypto-trader/internal/analysis/market"
	"github.com/toremeling86-cell/crypto-trader/internal/analysis/timeframe"
	"github.com/toremeling86-cell/crypto-trader/internal/candles"
	"github.com/toremeling86-cell/crypto-trader/internal/conditions"
	"github.com/toremeling86-cell/crypto-trader/internal/trading/risk"
	"github.com/toremeling86-cell/crypto-trader/models"
)

// ExitConfidence is attached to every exit signal
const ExitConfidence = 0.8

// Evaluation outcomes reported to the recorder
const (
	OutcomeInactive      = "inactive"
	OutcomePairMismatch  = "pair_mismatch"
	OutcomeInvalid       = "invalid_strategy"
	OutcomeRegimeBlocked = "regime_blocked"
	OutcomeRejected      = "rejected"
	OutcomeBuy           = "buy"
	OutcomeSell          = "sell"
	OutcomeHold          = "hold"
	OutcomePanic         = "panic"
)

// Recorder receives evaluation telemetry
type Recorder interface {
	RecordEvaluation(strategyID, outcome string)
	RecordSignal(strategyID, pair string, action models.TradeAction, confidence float64)
	RecordRejection(reason string)
	RecordRegime(pair string, regime models.MarketRegime, confidence float64)
	ObserveDuration(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordEvaluation(string, string) {}
func (nopRecorder) RecordSignal(string, string, models.TradeAction, float64) {}
func (nopRecorder) RecordRejection(string) {}
func (nopRecorder) RecordRegime(string, models.MarketRegime, float64) {}
func (nopRecorder) ObserveDuration(time.Duration) {}

// Config holds the engine's sizing and admission settings
type Config struct {
	IntervalMinutes int
	Kelly           risk.KellyConfig
	Limits          risk.Limits
}

// DefaultConfig uses hourly bars with the default Kelly bounds and limits
func DefaultConfig() Config {
	return Config{
		IntervalMinutes: 60,
		Kelly:           risk.DefaultKellyConfig(),
		Limits:          risk.DefaultLimits(),
	}
}

// Option configures an Engine
type Option func(*Engine)

// WithRecorder sends evaluation telemetry to r
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.metrics = r
		}
	}
}

// WithPositions sets the open position source used for exits
func WithPositions(p models.PositionTracker) Option {
	return func(e *Engine) {
		e.positions = p
	}
}

type compiled struct {
	key   string
	entry []conditions.Condition
	exit  []conditions.Condition
}

// Engine evaluates strategies against the candle store
type Engine struct {
	cfg        Config
	store      *candles.Store
	builder    *candles.Builder
	bars       models.BarSource
	positions  models.PositionTracker
	evaluator  *conditions.Evaluator
	aggregator *timeframe.Aggregator
	detector   *market.Detector
	sizer      *risk.Sizer
	gate       *risk.Gate
	stops      *risk.StopCalculator
	metrics    Recorder
	now        func() time.Time

	mu    sync.RWMutex
	cache map[string]*compiled

	logger zerolog.Logger
}

// New creates an engine reading live candles from store and history from bars
func New(store *candles.Store, bars models.BarSource, cfg Config, opts ...Option) *Engine {
	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = DefaultConfig().IntervalMinutes
	}
	if cfg.Limits == (risk.Limits{}) {
		cfg.Limits = risk.DefaultLimits()
	}

	evaluator := conditions.NewEvaluator()
	e := &Engine{
		cfg:        cfg,
		store:      store,
		builder:    candles.NewBuilder(cfg.IntervalMinutes),
		bars:       bars,
		evaluator:  evaluator,
		aggregator: timeframe.NewAggregator(bars, evaluator),
		detector:   market.NewDetector(bars, cfg.IntervalMinutes),
		sizer:      risk.NewSizer(risk.NewKelly(cfg.Kelly)),
		gate:       risk.NewGate(cfg.Limits),
		stops:      risk.NewStopCalculator(bars, cfg.IntervalMinutes),
		metrics:    nopRecorder{},
		now:        time.Now,
		cache:      make(map[string]*compiled),
		logger:     log.With().Str("component", "engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateStrategy runs one evaluation cycle for the ticker's pair. A nil
// signal means hold. Any failure, including a panic, yields nil.
func (e *Engine) EvaluateStrategy(ctx context.Context, strategy *models.Strategy, ticker models.MarketTicker, portfolio models.Portfolio) (sig *models.TradeSignal) {
	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Interface("panic", r).
				Str("pair", ticker.Pair).
				Msg("Recovered from panic during strategy evaluation")
			e.metrics.RecordEvaluation(strategyID(strategy), OutcomePanic)
			sig = nil
		}
		e.metrics.ObserveDuration(time.Since(start))
	}()

	if strategy == nil || !strategy.IsActive {
		e.metrics.RecordEvaluation(strategyID(strategy), OutcomeInactive)
		return nil
	}
	if !strategy.HasPair(ticker.Pair) {
		e.metrics.RecordEvaluation(strategy.ID, OutcomePairMismatch)
		return nil
	}
	if err := risk.ValidateStrategy(strategy); err != nil {
		e.logger.Warn().Err(err).Str("strategy", strategy.ID).Msg("Strategy failed validation")
		e.metrics.RecordEvaluation(strategy.ID, OutcomeInvalid)
		return nil
	}

	logger := e.logger.With().Str("strategy", strategy.ID).Str("pair", ticker.Pair).Logger()
	rules := e.compile(strategy)

	if strategy.RegimeFilterEnabled {
		analysis := e.DetectRegime(ctx, ticker.Pair)
		if !market.Permits(analysis, strategy.AllowedRegimes) {
			logger.Debug().Str("regime", string(analysis.Regime)).Msg("Regime filter blocked evaluation")
			e.metrics.RecordEvaluation(strategy.ID, OutcomeRegimeBlocked)
			return nil
		}
	}

	live := e.store.Snapshot(ticker.Pair)
	decision := e.aggregator.Evaluate(ctx, timeframe.Request{
		Strategy: strategy,
		Pair:     ticker.Pair,
		Entry:    rules.entry,
		Candles:  live,
		Ticker:   &ticker,
	})

	if decision.ShouldEnter {
		sig = e.entrySignal(ctx, strategy, ticker, portfolio, decision, live)
		if sig == nil {
			e.metrics.RecordEvaluation(strategy.ID, OutcomeRejected)
			return nil
		}
		e.emit(logger, sig, OutcomeBuy)
		return sig
	}

	if sig = e.exitSignal(strategy, ticker, rules, live); sig != nil {
		e.emit(logger, sig, OutcomeSell)
		return sig
	}

	e.metrics.RecordEvaluation(strategy.ID, OutcomeHold)
	return nil
}

func (e *Engine) emit(logger zerolog.Logger, sig *models.TradeSignal, outcome string) {
	logger.Info().
		Str("action", string(sig.Action)).
		Float64("confidence", sig.Confidence).
		Float64("price", sig.TargetPrice).
		Float64("volume", sig.SuggestedVolume).
		Str("reason", sig.Reason).
		Msg("Trade signal")
	e.metrics.RecordEvaluation(sig.StrategyID, outcome)
	e.metrics.RecordSignal(sig.StrategyID, sig.Pair, sig.Action, sig.Confidence)
}

func (e *Engine) entrySignal(ctx context.Context, strategy *models.Strategy, ticker models.MarketTicker, portfolio models.Portfolio, decision timeframe.Result, live []models.Candle) *models.TradeSignal {
	price := ticker.Ask
	if price <= 0 {
		price = ticker.Last
	}
	if price <= 0 {
		e.logger.Warn().Str("pair", ticker.Pair).Msg("Ticker has no usable price")
		return nil
	}

	value := e.sizer.PositionValue(strategy, portfolio.AvailableBalance)
	if value <= 0 {
		e.logger.Info().Str("strategy", strategy.ID).Msg("Position size is zero, skipping entry")
		e.metrics.RecordRejection("zero_size")
		return nil
	}

	if err := e.gate.CanExecuteTrade(portfolio, value); err != nil {
		e.logger.Warn().Err(err).Str("strategy", strategy.ID).Float64("value", value).Msg("Trade rejected by risk gate")
		for _, reason := range rejectionReasons(err) {
			e.metrics.RecordRejection(reason)
		}
		return nil
	}

	reason := fmt.Sprintf("Entry conditions met: %s; %s", strings.Join(strategy.EntryConditions, " AND "), decision.Reason)
	if a := market.DetectAnomaly(live); a.Corroborated() {
		reason += "; anomaly: " + a.String()
	}

	return &models.TradeSignal{
		StrategyID:      strategy.ID,
		Pair:            ticker.Pair,
		Action:          models.ActionBuy,
		Confidence:      decision.Confidence,
		TargetPrice:     price,
		SuggestedVolume: value / price,
		StopLoss:        e.stops.StopLossFor(ctx, strategy, ticker.Pair, price, true),
		TakeProfit:      risk.TakeProfitFor(strategy, price, true),
		Reason:          reason,
		Timestamp:       e.now(),
	}
}

func (e *Engine) exitSignal(strategy *models.Strategy, ticker models.MarketTicker, rules *compiled, live []models.Candle) *models.TradeSignal {
	if e.positions == nil {
		return nil
	}
	pos, ok := e.positions.OpenPosition(ticker.Pair)
	if !ok || pos.Volume <= 0 {
		return nil
	}

	price := ticker.Bid
	if price <= 0 {
		price = ticker.Last
	}

	var reason string
	switch {
	case e.evaluator.AnyTrue(rules.exit, conditions.Input{Candles: live, Ticker: &ticker}):
		reason = "Exit conditions met: " + strings.Join(strategy.ExitConditions, " OR ")
	case strategy.TrailingStopEnabled && strategy.TrailingStopPercent > 0 && price > 0:
		peak := max(pos.PeakPrice, pos.EntryPrice)
		level := risk.TrailingStop(peak, strategy.TrailingStopPercent)
		if price > level {
			return nil
		}
		reason = fmt.Sprintf("Trailing stop hit: %.2f <= %.2f (peak %.2f)", price, level, peak)
	default:
		return nil
	}

	if price <= 0 {
		e.logger.Warn().Str("pair", ticker.Pair).Msg("Ticker has no usable exit price")
		return nil
	}

	return &models.TradeSignal{
		StrategyID:      strategy.ID,
		Pair:            ticker.Pair,
		Action:          models.ActionSell,
		Confidence:      ExitConfidence,
		TargetPrice:     price,
		SuggestedVolume: pos.Volume,
		Reason:          reason,
		Timestamp:       e.now(),
	}
}

// compile parses a strategy's rules once and reuses them until the rule text changes
func (e *Engine) compile(strategy *models.Strategy) *compiled {
	key := strings.Join(strategy.EntryConditions, "\x00") + "\x01" + strings.Join(strategy.ExitConditions, "\x00")

	e.mu.RLock()
	c, ok := e.cache[strategy.ID]
	e.mu.RUnlock()
	if ok && c.key == key {
		return c
	}

	c = &compiled{
		key:   key,
		entry: conditions.ParseAll(strategy.EntryConditions),
		exit:  conditions.ParseAll(strategy.ExitConditions),
	}
	for _, u := range conditions.Unknowns(append(append([]conditions.Condition{}, c.entry...), c.exit...)) {
		e.logger.Warn().Str("strategy", strategy.ID).Str("condition", u.String()).Str("reason", u.Reason).Msg("Unrecognised condition will evaluate to false")
	}

	e.mu.Lock()
	e.cache[strategy.ID] = c
	e.mu.Unlock()
	return c
}

// DetectRegime classifies the current regime for a pair
func (e *Engine) DetectRegime(ctx context.Context, pair string) models.RegimeAnalysis {
	analysis := e.detector.DetectRegime(ctx, pair)
	e.metrics.RecordRegime(pair, analysis.Regime, analysis.Confidence)
	return analysis
}

// AdjustPositionSize caps a requested volume at the strategy's allowed size
func (e *Engine) AdjustPositionSize(requestedVolume, price, availableBalance float64, strategy *models.Strategy) float64 {
	return e.sizer.AdjustPositionSize(requestedVolume, price, availableBalance, strategy)
}

// Ingest folds the ticker into the live store's bar for the current
// interval, opening a new bar once the interval rolls over
func (e *Engine) Ingest(ticker models.MarketTicker) models.Candle {
	return e.builder.Ingest(e.store, ticker)
}

// Warmup loads recent history for each pair into the store
func (e *Engine) Warmup(ctx context.Context, pairs []string, count int) error {
	var errs []error
	for _, pair := range pairs {
		bars, err := e.bars.GetRecentBars(ctx, pair, e.cfg.IntervalMinutes, count)
		if err != nil {
			errs = append(errs, fmt.Errorf("warmup %s: %w", pair, err))
			continue
		}
		e.store.Replace(pair, bars)
		e.logger.Info().Str("pair", pair).Int("bars", len(bars)).Msg("Candle history loaded")
	}
	return errors.Join(errs...)
}

// Halted reports whether the daily loss circuit breaker is tripped
func (e *Engine) Halted() bool {
	return e.gate.Halted()
}

func rejectionReasons(err error) []string {
	var out []string
	for sentinel, label := range map[error]string{
		risk.ErrInvalidParameter:    "invalid_parameter",
		risk.ErrPortfolioEmpty:      "portfolio_empty",
		risk.ErrExposureLimit:       "exposure_limit",
		risk.ErrDailyLossLimit:      "daily_loss_limit",
		risk.ErrInsufficientBalance: "insufficient_balance",
	} {
		if errors.Is(err, sentinel) {
			out = append(out, label)
		}
	}
	return out
}

func strategyID(s *models.Strategy) string {
	if s == nil {
		return ""
	}
	return s.ID
}
