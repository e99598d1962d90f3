package backtest

import (
	"math"
	"testing"
	"time"
)

func TestMaxDrawdown(t *testing.T) {
	tests := []struct {
		name  string
		curve []float64
		want  float64
	}{
		{"empty", nil, 0},
		{"only up", []float64{100, 110, 120}, 0},
		{"peak to trough", []float64{100, 120, 90, 130}, 25},
		{"second drawdown deeper", []float64{100, 90, 200, 100}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maxDrawdown(tt.curve); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("maxDrawdown = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculatePerformanceMetrics(t *testing.T) {
	start := time.Date(2024, 1, 30, 0, 0, 0, 0, time.UTC)
	res := &Result{
		InitialBalance: 1000,
		FinalBalance:   1030,
		MonthlyReturns: map[string]float64{},
		EquityCurve:    []float64{1000, 1040, 1020, 1030},
		Trades: []Trade{
			{ExitTime: start, PnL: 40, ReturnPercent: 4},
			{ExitTime: start.Add(24 * time.Hour), PnL: -20, ReturnPercent: -2},
			{ExitTime: start.Add(72 * time.Hour), PnL: 10, ReturnPercent: 1},
		},
	}

	CalculatePerformanceMetrics(res)

	if res.TotalTrades != 3 || res.Wins != 2 || res.Losses != 1 {
		t.Fatalf("counts = %d/%d/%d", res.TotalTrades, res.Wins, res.Losses)
	}
	if math.Abs(res.WinRate-2.0/3.0) > 1e-9 {
		t.Errorf("WinRate = %v", res.WinRate)
	}
	if math.Abs(res.AvgWinPercent-2.5) > 1e-9 || math.Abs(res.AvgLossPercent-2) > 1e-9 {
		t.Errorf("avg win/loss = %v/%v, want 2.5/2", res.AvgWinPercent, res.AvgLossPercent)
	}
	if math.Abs(res.ProfitFactor-2.5) > 1e-9 {
		t.Errorf("ProfitFactor = %v, want 2.5", res.ProfitFactor)
	}
	if math.Abs(res.TotalReturnPercent-3) > 1e-9 {
		t.Errorf("TotalReturnPercent = %v, want 3", res.TotalReturnPercent)
	}
	if res.MaxConsecutive.Wins != 1 || res.MaxConsecutive.Losses != 1 {
		t.Errorf("MaxConsecutive = %+v", res.MaxConsecutive)
	}
	if math.Abs(res.MonthlyReturns["2024-01"]-2) > 1e-9 || math.Abs(res.MonthlyReturns["2024-02"]-1) > 1e-9 {
		t.Errorf("MonthlyReturns = %v", res.MonthlyReturns)
	}
	if res.SharpeRatio <= 0 {
		t.Errorf("SharpeRatio = %v, want positive", res.SharpeRatio)
	}
}

func TestPeriodsPerYear(t *testing.T) {
	at := func(hours ...int) []Trade {
		out := make([]Trade, len(hours))
		for i, h := range hours {
			out[i] = Trade{ExitTime: time.Unix(0, 0).Add(time.Duration(h) * time.Hour)}
		}
		return out
	}

	tests := []struct {
		trades []Trade
		want   float64
	}{
		{at(0), 365},
		{at(0, 1, 2), 365 * 24},
		{at(0, 12, 24), 365},
		{at(0, 72), 52},
		{at(0, 24*30), 12},
	}
	for _, tt := range tests {
		if got := periodsPerYear(tt.trades); got != tt.want {
			t.Errorf("periodsPerYear(%d trades) = %v, want %v", len(tt.trades), got, tt.want)
		}
	}
}
