package timeframe

import (
	"context"
	"errors"
	"testing"

	"github.com/toremeling86-cell/crypto-trader/internal/conditions"
	"github.com/toremeling86-cell/crypto-trader/models"
)

type stubBars struct {
	data map[int][]models.Candle
	err  error
}

func (s stubBars) GetRecentBars(_ context.Context, _ string, interval int, _ int) ([]models.Candle, error) {
	return s.data[interval], s.err
}

func (s stubBars) FetchMultiTimeframeData(_ context.Context, _ string, timeframes []int) (map[int][]models.Candle, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[int][]models.Candle, len(timeframes))
	for _, tf := range timeframes {
		out[tf] = s.data[tf]
	}
	return out, nil
}

func flat(count int, price float64) []models.Candle {
	out := make([]models.Candle, count)
	for i := range out {
		out[i] = models.Candle{Open: price, High: price, Low: price, Close: price, Volume: 1}
	}
	return out
}

func mtfStrategy() *models.Strategy {
	return &models.Strategy{
		ID:                     "mtf",
		MultiTimeframeEnabled:  true,
		PrimaryTimeframe:       60,
		ConfirmatoryTimeframes: []int{15, 240, 1440},
	}
}

func TestConfidenceForRatio(t *testing.T) {
	tests := []struct {
		ratio float64
		want  float64
	}{
		{1, 0.95},
		{0.75, 0.85},
		{0.8, 0.85},
		{0.5, 0.70},
		{0.49, 0.50},
		{0, 0.50},
	}
	for _, tt := range tests {
		if got := ConfidenceForRatio(tt.ratio); got != tt.want {
			t.Errorf("ConfidenceForRatio(%v) = %v, want %v", tt.ratio, got, tt.want)
		}
	}

	prev := ConfidenceForRatio(0)
	for i := 1; i <= 100; i++ {
		c := ConfidenceForRatio(float64(i) / 100)
		if c < prev {
			t.Fatalf("confidence decreased at ratio %v: %v < %v", float64(i)/100, c, prev)
		}
		prev = c
	}
}

func TestAggregatorDecision(t *testing.T) {
	entry := conditions.ParseAll([]string{"price > 100"})
	up, down := flat(40, 150), flat(40, 50)

	tests := []struct {
		name       string
		data       map[int][]models.Candle
		enter      bool
		confidence float64
		confirmed  int
	}{
		{
			name:       "all timeframes confirm",
			data:       map[int][]models.Candle{60: up, 15: up, 240: up, 1440: up},
			enter:      true,
			confidence: 0.95,
			confirmed:  4,
		},
		{
			name:       "three of four",
			data:       map[int][]models.Candle{60: up, 15: up, 240: up, 1440: down},
			enter:      true,
			confidence: 0.85,
			confirmed:  3,
		},
		{
			name:       "primary plus one",
			data:       map[int][]models.Candle{60: up, 15: down, 240: up, 1440: down},
			enter:      true,
			confidence: 0.70,
			confirmed:  2,
		},
		{
			name:       "primary missing",
			data:       map[int][]models.Candle{60: down, 15: up, 240: up, 1440: up},
			enter:      false,
			confidence: 0.85,
			confirmed:  3,
		},
		{
			name:       "primary alone",
			data:       map[int][]models.Candle{60: up, 15: down, 240: down, 1440: down},
			enter:      false,
			confidence: 0.50,
			confirmed:  1,
		},
		{
			name:       "short history does not confirm",
			data:       map[int][]models.Candle{60: up, 15: flat(29, 150), 240: flat(10, 150), 1440: down},
			enter:      false,
			confidence: 0.50,
			confirmed:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAggregator(stubBars{data: tt.data}, conditions.NewEvaluator())
			res := a.Evaluate(context.Background(), Request{Strategy: mtfStrategy(), Pair: "XBTUSD", Entry: entry})
			if res.ShouldEnter != tt.enter {
				t.Errorf("ShouldEnter = %v, want %v (%s)", res.ShouldEnter, tt.enter, res.Reason)
			}
			if res.Confidence != tt.confidence {
				t.Errorf("Confidence = %v, want %v", res.Confidence, tt.confidence)
			}
			if len(res.Confirmed) != tt.confirmed {
				t.Errorf("confirmed = %v, want %d", res.Confirmed, tt.confirmed)
			}
			if res.Total != 4 {
				t.Errorf("Total = %d, want 4", res.Total)
			}
		})
	}
}

func TestAggregatorEntersBelowHalfRatio(t *testing.T) {
	up, down := flat(40, 150), flat(40, 50)
	s := mtfStrategy()
	s.ConfirmatoryTimeframes = []int{15, 240, 1440, 10080}

	a := NewAggregator(stubBars{data: map[int][]models.Candle{60: up, 15: up, 240: down, 1440: down, 10080: down}}, conditions.NewEvaluator())
	res := a.Evaluate(context.Background(), Request{Strategy: s, Pair: "XBTUSD", Entry: conditions.ParseAll([]string{"price > 100"})})
	if !res.ShouldEnter {
		t.Fatalf("primary plus one of five should enter: %s", res.Reason)
	}
	if res.Total != 5 || res.Confidence != 0.50 {
		t.Errorf("total = %d, confidence = %v; want 5 and 0.50", res.Total, res.Confidence)
	}
}

func TestAggregatorFetchFailure(t *testing.T) {
	a := NewAggregator(stubBars{err: errors.New("timeout")}, conditions.NewEvaluator())
	res := a.Evaluate(context.Background(), Request{
		Strategy: mtfStrategy(),
		Pair:     "XBTUSD",
		Entry:    conditions.ParseAll([]string{"price > 100"}),
	})
	if res.ShouldEnter {
		t.Error("fetch failure must not enter")
	}
}

func TestAggregatorSingleTimeframe(t *testing.T) {
	s := &models.Strategy{ID: "single", PrimaryTimeframe: 5}
	a := NewAggregator(stubBars{err: errors.New("must not be called")}, conditions.NewEvaluator())
	entry := conditions.ParseAll([]string{"price > 100"})

	res := a.Evaluate(context.Background(), Request{Strategy: s, Pair: "XBTUSD", Entry: entry, Candles: flat(5, 150)})
	if !res.ShouldEnter || res.Confidence != SingleTimeframeConfidence {
		t.Errorf("result = %+v, want entry at 0.75", res)
	}

	res = a.Evaluate(context.Background(), Request{Strategy: s, Pair: "XBTUSD", Entry: entry, Candles: flat(5, 50)})
	if res.ShouldEnter || res.Confidence != 0 {
		t.Errorf("result = %+v, want no entry", res)
	}
}

func TestAggregatorDoesNotShareBars(t *testing.T) {
	shared := flat(40, 150)
	data := map[int][]models.Candle{60: shared, 15: shared, 240: shared, 1440: shared}
	a := NewAggregator(stubBars{data: data}, conditions.NewEvaluator())

	a.Evaluate(context.Background(), Request{Strategy: mtfStrategy(), Pair: "XBTUSD", Entry: conditions.ParseAll([]string{"price > 100"})})
	if shared[0].Close != 150 || len(shared) != 40 {
		t.Error("source bars were modified during evaluation")
	}
}
