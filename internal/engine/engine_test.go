package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/toremeling86-cell/crypto-trader/internal/candles"
	"github.com/toremeling86-cell/crypto-trader/internal/conditions"
	"github.com/toremeling86-cell/crypto-trader/models"
)

const pair = "XBTUSD"

func generateTestCandles(count int, generator func(i int) models.Candle) []models.Candle {
	candles := make([]models.Candle, count)
	for i := 0; i < count; i++ {
		candles[i] = generator(i)
		candles[i].Timestamp = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour)
	}
	return candles
}

func flat(count int, price float64) []models.Candle {
	return generateTestCandles(count, func(i int) models.Candle {
		return models.Candle{Open: price, High: price, Low: price, Close: price, Volume: 10}
	})
}

func uptrend(count int) []models.Candle {
	return generateTestCandles(count, func(i int) models.Candle {
		p := 100 + float64(i)
		return models.Candle{Open: p, High: p + 1, Low: p - 1, Close: p + 0.5, Volume: 10}
	})
}

type stubBars struct {
	recent []models.Candle
	multi  map[int][]models.Candle
	err    error
	panics bool
}

func (s *stubBars) GetRecentBars(_ context.Context, _ string, _ int, _ int) ([]models.Candle, error) {
	if s.panics {
		panic("bar source exploded")
	}
	return s.recent, s.err
}

func (s *stubBars) FetchMultiTimeframeData(_ context.Context, _ string, timeframes []int) (map[int][]models.Candle, error) {
	if s.panics {
		panic("bar source exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[int][]models.Candle, len(timeframes))
	for _, tf := range timeframes {
		out[tf] = s.multi[tf]
	}
	return out, nil
}

type stubPositions map[string]models.Position

func (p stubPositions) OpenPosition(pair string) (models.Position, bool) {
	pos, ok := p[pair]
	return pos, ok
}

type fakeRecorder struct {
	mu          sync.Mutex
	outcomes    []string
	rejections  []string
	signals     int
	regimes     int
	evaluations int
}

func (f *fakeRecorder) RecordEvaluation(_, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
	f.evaluations++
}

func (f *fakeRecorder) RecordSignal(string, string, models.TradeAction, float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals++
}

func (f *fakeRecorder) RecordRejection(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejections = append(f.rejections, reason)
}

func (f *fakeRecorder) RecordRegime(string, models.MarketRegime, float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regimes++
}

func (f *fakeRecorder) ObserveDuration(time.Duration) {}

func (f *fakeRecorder) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.outcomes) == 0 {
		return ""
	}
	return f.outcomes[len(f.outcomes)-1]
}

func testStrategy() *models.Strategy {
	return &models.Strategy{
		ID:                  "trend",
		IsActive:            true,
		EntryConditions:     []string{"price > 100"},
		ExitConditions:      []string{"price < 50"},
		PositionSizePercent: 10,
		StopLossPercent:     2,
		TakeProfitPercent:   5,
		TradingPairs:        []string{pair},
		SizingMode:          models.SizingFixed,
		PrimaryTimeframe:    60,
	}
}

var (
	ticker    = models.MarketTicker{Pair: pair, Bid: 149, Ask: 151, Last: 150}
	portfolio = models.Portfolio{TotalValue: 10000, AvailableBalance: 10000}
)

func newTestEngine(bars *stubBars, live []models.Candle, opts ...Option) (*Engine, *fakeRecorder) {
	store := candles.NewStore(200)
	if live != nil {
		store.Replace(pair, live)
	}
	rec := &fakeRecorder{}
	e := New(store, bars, DefaultConfig(), append([]Option{WithRecorder(rec)}, opts...)...)
	e.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return e, rec
}

func TestEvaluateStrategyNoSignal(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(s *models.Strategy)
		outcome string
	}{
		{"неактивная стратегия", func(s *models.Strategy) { s.IsActive = false }, OutcomeInactive},
		{"чужая пара", func(s *models.Strategy) { s.TradingPairs = []string{"ETHUSD"} }, OutcomePairMismatch},
		{"невалидная стратегия", func(s *models.Strategy) { s.StopLossPercent = 0 }, OutcomeInvalid},
		{"условия входа не выполнены", func(s *models.Strategy) { s.EntryConditions = []string{"price > 1000"} }, OutcomeHold},
		{"нет условий входа", func(s *models.Strategy) { s.EntryConditions = nil }, OutcomeHold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, rec := newTestEngine(&stubBars{}, flat(40, 150))
			s := testStrategy()
			tt.modify(s)

			if sig := e.EvaluateStrategy(context.Background(), s, ticker, portfolio); sig != nil {
				t.Fatalf("signal = %+v, want none", sig)
			}
			if rec.last() != tt.outcome {
				t.Errorf("outcome = %q, want %q", rec.last(), tt.outcome)
			}
		})
	}

	e, rec := newTestEngine(&stubBars{}, nil)
	if sig := e.EvaluateStrategy(context.Background(), nil, ticker, portfolio); sig != nil || rec.last() != OutcomeInactive {
		t.Errorf("nil strategy: signal %+v, outcome %q", sig, rec.last())
	}
}

func TestEvaluateStrategyBuy(t *testing.T) {
	e, rec := newTestEngine(&stubBars{}, flat(40, 150))

	sig := e.EvaluateStrategy(context.Background(), testStrategy(), ticker, portfolio)
	if sig == nil {
		t.Fatal("expected a BUY signal")
	}
	if sig.Action != models.ActionBuy || sig.Pair != pair || sig.StrategyID != "trend" {
		t.Errorf("signal = %+v", sig)
	}
	if sig.Confidence != 0.75 {
		t.Errorf("confidence = %v, want 0.75", sig.Confidence)
	}
	if sig.TargetPrice != 151 {
		t.Errorf("target = %v, want the ask 151", sig.TargetPrice)
	}
	if math.Abs(sig.SuggestedVolume-1000.0/151) > 1e-9 {
		t.Errorf("volume = %v, want %v", sig.SuggestedVolume, 1000.0/151)
	}
	if math.Abs(sig.StopLoss-151*0.98) > 1e-9 || math.Abs(sig.TakeProfit-151*1.05) > 1e-9 {
		t.Errorf("stop/target = %v/%v", sig.StopLoss, sig.TakeProfit)
	}
	if !strings.Contains(sig.Reason, "price > 100") {
		t.Errorf("reason %q should name the entry conditions", sig.Reason)
	}
	if rec.last() != OutcomeBuy || rec.signals != 1 {
		t.Errorf("outcome = %q, signals = %d", rec.last(), rec.signals)
	}

	noAsk := ticker
	noAsk.Ask = 0
	if sig := e.EvaluateStrategy(context.Background(), testStrategy(), noAsk, portfolio); sig == nil || sig.TargetPrice != 150 {
		t.Errorf("without an ask the last price should be used, got %+v", sig)
	}
}

func TestEvaluateStrategyRiskGate(t *testing.T) {
	tests := []struct {
		name      string
		portfolio models.Portfolio
		reason    string
	}{
		{
			name:      "exposure over 80%",
			portfolio: models.Portfolio{TotalValue: 1000, AvailableBalance: 200},
			reason:    "exposure_limit",
		},
		{
			name:      "daily loss circuit breaker",
			portfolio: models.Portfolio{TotalValue: 10000, AvailableBalance: 10000, DayProfitPercent: -6},
			reason:    "daily_loss_limit",
		},
		{
			name:      "empty balance",
			portfolio: models.Portfolio{TotalValue: 10000},
			reason:    "zero_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, rec := newTestEngine(&stubBars{}, flat(40, 150))
			if sig := e.EvaluateStrategy(context.Background(), testStrategy(), ticker, tt.portfolio); sig != nil {
				t.Fatalf("signal = %+v, want rejection", sig)
			}
			if rec.last() != OutcomeRejected {
				t.Errorf("outcome = %q, want rejected", rec.last())
			}
			found := false
			for _, r := range rec.rejections {
				found = found || r == tt.reason
			}
			if !found {
				t.Errorf("rejections = %v, want %q", rec.rejections, tt.reason)
			}
		})
	}
}

func TestCircuitBreakerHaltsRestOfDay(t *testing.T) {
	e, _ := newTestEngine(&stubBars{}, flat(40, 150))
	losing := portfolio
	losing.DayProfitPercent = -7

	if sig := e.EvaluateStrategy(context.Background(), testStrategy(), ticker, losing); sig != nil {
		t.Fatal("expected rejection on the losing day")
	}
	if !e.Halted() {
		t.Fatal("engine should report the halt")
	}
	if sig := e.EvaluateStrategy(context.Background(), testStrategy(), ticker, portfolio); sig != nil {
		t.Error("trading should stay halted for the rest of the day")
	}
}

func TestEvaluateStrategyKellyNegativeEdge(t *testing.T) {
	e, _ := newTestEngine(&stubBars{}, flat(40, 150))
	s := testStrategy()
	s.SizingMode = models.SizingKelly
	s.TotalTrades = 50
	s.WinRate = 0.3
	s.AvgWinPercent = 2
	s.AvgLossPercent = 2

	if sig := e.EvaluateStrategy(context.Background(), s, ticker, portfolio); sig != nil {
		t.Errorf("negative edge must not trade, got %+v", sig)
	}
}

func TestEvaluateStrategyRegimeFilter(t *testing.T) {
	bars := &stubBars{recent: uptrend(100)}

	s := testStrategy()
	s.RegimeFilterEnabled = true
	s.AllowedRegimes = []models.MarketRegime{models.RegimeRanging}

	e, rec := newTestEngine(bars, flat(40, 150))
	if sig := e.EvaluateStrategy(context.Background(), s, ticker, portfolio); sig != nil {
		t.Fatalf("ranging-only strategy traded in a trend: %+v", sig)
	}
	if rec.last() != OutcomeRegimeBlocked || rec.regimes != 1 {
		t.Errorf("outcome = %q, regimes = %d", rec.last(), rec.regimes)
	}

	s.AllowedRegimes = []models.MarketRegime{models.RegimeTrendingBullish}
	if sig := e.EvaluateStrategy(context.Background(), s, ticker, portfolio); sig == nil {
		t.Error("trend strategy should trade in a bullish trend")
	}

	s.AllowedRegimes = nil
	if sig := e.EvaluateStrategy(context.Background(), s, ticker, portfolio); sig == nil {
		t.Error("empty allowed list should defer to the regime's own verdict")
	}

	failing := &stubBars{err: errors.New("exchange down")}
	e, _ = newTestEngine(failing, flat(40, 150))
	if sig := e.EvaluateStrategy(context.Background(), s, ticker, portfolio); sig != nil {
		t.Error("unknown regime must not trade")
	}
}

func TestEvaluateStrategyMultiTimeframe(t *testing.T) {
	up := flat(40, 150)
	down := flat(40, 50)

	s := testStrategy()
	s.MultiTimeframeEnabled = true
	s.ConfirmatoryTimeframes = []int{15, 240}

	bars := &stubBars{multi: map[int][]models.Candle{60: up, 15: up, 240: up}}
	e, _ := newTestEngine(bars, nil)
	sig := e.EvaluateStrategy(context.Background(), s, ticker, portfolio)
	if sig == nil || sig.Confidence != 0.95 {
		t.Fatalf("signal = %+v, want BUY at 0.95", sig)
	}

	bars.multi = map[int][]models.Candle{60: down, 15: up, 240: up}
	if sig := e.EvaluateStrategy(context.Background(), s, ticker, portfolio); sig != nil {
		t.Errorf("primary timeframe disagreement must not enter, got %+v", sig)
	}
}

func TestEvaluateStrategySell(t *testing.T) {
	s := testStrategy()
	s.EntryConditions = []string{"price > 1000"}
	s.ExitConditions = []string{"price > 100"}
	positions := stubPositions{pair: {Pair: pair, Volume: 2, EntryPrice: 120, PeakPrice: 155}}

	e, rec := newTestEngine(&stubBars{}, flat(40, 150), WithPositions(positions))
	sig := e.EvaluateStrategy(context.Background(), s, ticker, portfolio)
	if sig == nil {
		t.Fatal("expected a SELL signal")
	}
	if sig.Action != models.ActionSell || sig.TargetPrice != 149 || sig.SuggestedVolume != 2 || sig.Confidence != ExitConfidence {
		t.Errorf("signal = %+v", sig)
	}
	if rec.last() != OutcomeSell {
		t.Errorf("outcome = %q, want sell", rec.last())
	}

	e, _ = newTestEngine(&stubBars{}, flat(40, 150), WithPositions(stubPositions{}))
	if sig := e.EvaluateStrategy(context.Background(), s, ticker, portfolio); sig != nil {
		t.Errorf("no open position must not sell, got %+v", sig)
	}

	e, _ = newTestEngine(&stubBars{}, flat(40, 150))
	if sig := e.EvaluateStrategy(context.Background(), s, ticker, portfolio); sig != nil {
		t.Errorf("without a position tracker there is nothing to sell, got %+v", sig)
	}
}

func TestEvaluateStrategyStopRulesDoNotExit(t *testing.T) {
	s := testStrategy()
	s.EntryConditions = []string{"price > 1000"}
	s.ExitConditions = []string{"stop loss 2%", "take profit 5%"}
	positions := stubPositions{pair: {Pair: pair, Volume: 1, EntryPrice: 140, PeakPrice: 150}}

	e, _ := newTestEngine(&stubBars{}, flat(40, 150), WithPositions(positions))
	if sig := e.EvaluateStrategy(context.Background(), s, ticker, portfolio); sig != nil {
		t.Errorf("stop and target rules belong to position management, got %+v", sig)
	}
}

func TestEvaluateStrategyTrailingStop(t *testing.T) {
	s := testStrategy()
	s.EntryConditions = []string{"price > 1000"}
	s.ExitConditions = []string{"price < 10"}
	s.TrailingStopEnabled = true
	s.TrailingStopPercent = 5

	positions := stubPositions{pair: {Pair: pair, Volume: 3, EntryPrice: 150, PeakPrice: 200}}
	e, _ := newTestEngine(&stubBars{}, flat(40, 150), WithPositions(positions))

	sig := e.EvaluateStrategy(context.Background(), s, ticker, portfolio)
	if sig == nil || sig.Action != models.ActionSell || sig.SuggestedVolume != 3 {
		t.Fatalf("signal = %+v, want trailing stop SELL", sig)
	}
	if !strings.Contains(sig.Reason, "Trailing stop") {
		t.Errorf("reason = %q", sig.Reason)
	}

	positions[pair] = models.Position{Pair: pair, Volume: 3, EntryPrice: 150, PeakPrice: 152}
	if sig := e.EvaluateStrategy(context.Background(), s, ticker, portfolio); sig != nil {
		t.Errorf("price within the trail must hold, got %+v", sig)
	}
}

func TestEvaluateStrategyRecoversPanic(t *testing.T) {
	s := testStrategy()
	s.MultiTimeframeEnabled = true

	e, rec := newTestEngine(&stubBars{panics: true}, flat(40, 150))
	var sig *models.TradeSignal
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("panic escaped: %v", r)
			}
		}()
		sig = e.EvaluateStrategy(context.Background(), s, ticker, portfolio)
	}()
	if sig != nil {
		t.Errorf("signal = %+v, want none", sig)
	}
	if rec.last() != OutcomePanic {
		t.Errorf("outcome = %q, want panic", rec.last())
	}
}

func TestCompiledRulesFollowStrategyChanges(t *testing.T) {
	e, _ := newTestEngine(&stubBars{}, flat(40, 150))
	s := testStrategy()

	if sig := e.EvaluateStrategy(context.Background(), s, ticker, portfolio); sig == nil {
		t.Fatal("expected entry")
	}
	s.EntryConditions = []string{"price > 500"}
	if sig := e.EvaluateStrategy(context.Background(), s, ticker, portfolio); sig != nil {
		t.Error("edited entry conditions should take effect")
	}
	if len(e.cache) != 1 {
		t.Errorf("cache entries = %d, want 1", len(e.cache))
	}
}

func TestIngestAndWarmup(t *testing.T) {
	live := flat(50, 100)
	e, _ := newTestEngine(&stubBars{recent: live}, nil)

	if err := e.Warmup(context.Background(), []string{pair}, 50); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if n := e.store.Len(pair); n != 50 {
		t.Fatalf("store length = %d, want 50", n)
	}

	next := live[len(live)-1].Timestamp.Add(time.Hour)
	c := e.Ingest(models.MarketTicker{Pair: pair, Last: 104, High24h: 105, Low24h: 95, Timestamp: next.Add(10 * time.Minute)})
	if c.Open != 100 || c.Close != 104 || !c.Timestamp.Equal(next) {
		t.Errorf("candle = %+v, want open at the previous close", c)
	}
	if n := e.store.Len(pair); n != 51 {
		t.Errorf("store length = %d, want 51", n)
	}

	e, _ = newTestEngine(&stubBars{err: errors.New("timeout")}, nil)
	if err := e.Warmup(context.Background(), []string{pair, "ETHUSD"}, 50); err == nil {
		t.Error("expected warmup error")
	}
}

func TestIngestKeepsBarsOnTheWarmupInterval(t *testing.T) {
	history := flat(60, 100)
	e, _ := newTestEngine(&stubBars{recent: history}, nil)
	if err := e.Warmup(context.Background(), []string{pair}, 60); err != nil {
		t.Fatalf("Warmup: %v", err)
	}

	rules := []string{"Volume > average", "ATR > 1", "Bollinger_upper"}
	before := make(map[string]bool, len(rules))
	for _, rule := range rules {
		before[rule] = e.evaluator.EvaluateString(rule, conditions.Input{Candles: e.store.Snapshot(pair)})
	}

	forming := history[len(history)-1].Timestamp
	c := e.Ingest(models.MarketTicker{Pair: pair, Last: 100, Volume24h: 240, High24h: 110, Low24h: 90, Timestamp: forming.Add(30 * time.Minute)})
	if c.High != 100 || c.Low != 100 || c.Volume != 10 {
		t.Errorf("bar = %+v, the 24h range and volume must not leak into an hourly bar", c)
	}
	if n := e.store.Len(pair); n != 60 {
		t.Errorf("store length = %d, want the forming bar updated in place", n)
	}

	for _, rule := range rules {
		if got := e.evaluator.EvaluateString(rule, conditions.Input{Candles: e.store.Snapshot(pair)}); got != before[rule] {
			t.Errorf("%q flipped from %v to %v after one ticker", rule, before[rule], got)
		}
	}

	c = e.Ingest(models.MarketTicker{Pair: pair, Last: 101, Volume24h: 243, High24h: 110, Low24h: 90, Timestamp: forming.Add(50 * time.Minute)})
	if c.High != 101 || c.Close != 101 || c.Volume != 13 {
		t.Errorf("bar = %+v, want running high 101 and volume grown by 3", c)
	}

	c = e.Ingest(models.MarketTicker{Pair: pair, Last: 102, Volume24h: 244, Timestamp: forming.Add(70 * time.Minute)})
	if !c.Timestamp.Equal(forming.Add(time.Hour)) || c.Open != 101 || c.Volume != 1 {
		t.Errorf("bar = %+v, want a new hourly bar opening at 101", c)
	}
	if n := e.store.Len(pair); n != 61 {
		t.Errorf("store length = %d, want 61", n)
	}
}

func TestEvaluateStrategyWithoutLoaderDefaults(t *testing.T) {
	e, rec := newTestEngine(&stubBars{}, uptrend(60))
	bare := &models.Strategy{
		ID:                  "bare",
		IsActive:            true,
		EntryConditions:     []string{"SMA_20 > SMA_50"},
		PositionSizePercent: 10,
		StopLossPercent:     2,
		TakeProfitPercent:   5,
		TradingPairs:        []string{pair},
	}

	sig := e.EvaluateStrategy(context.Background(), bare, ticker, portfolio)
	if sig == nil || sig.Action != models.ActionBuy {
		t.Fatalf("signal = %+v, outcome %q; want BUY", sig, rec.last())
	}
	// a steady trend pins RSI high, which alone is not worth reporting
	if strings.Contains(sig.Reason, "anomaly:") {
		t.Errorf("reason %q should not report an anomaly", sig.Reason)
	}

	bare.MultiTimeframeEnabled = true
	if sig := e.EvaluateStrategy(context.Background(), bare, ticker, portfolio); sig != nil || rec.last() != OutcomeInvalid {
		t.Errorf("multi-timeframe without a primary timeframe: signal %+v, outcome %q", sig, rec.last())
	}
}

func TestAdjustPositionSize(t *testing.T) {
	e, _ := newTestEngine(&stubBars{}, nil)
	// 10% of 10000 at 100 caps the volume at 10
	if got := e.AdjustPositionSize(25, 100, 10000, testStrategy()); math.Abs(got-10) > 1e-9 {
		t.Errorf("AdjustPositionSize = %v, want 10", got)
	}
}
