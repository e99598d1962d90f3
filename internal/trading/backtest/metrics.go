package backtest

import (
	"math"
	"time"
)

// CalculatePerformanceMetrics derives the summary statistics from the trades
// and equity curve of a result
func CalculatePerformanceMetrics(res *Result) {
	if res == nil {
		return
	}

	res.TotalTrades = len(res.Trades)
	if res.InitialBalance > 0 {
		res.TotalReturnPercent = (res.FinalBalance - res.InitialBalance) / res.InitialBalance * 100
	}
	if res.TotalTrades == 0 {
		return
	}

	var grossProfit, grossLoss, winPct, lossPct float64
	consecutiveWins, consecutiveLosses := 0, 0
	for _, trade := range res.Trades {
		if trade.PnL > 0 {
			res.Wins++
			grossProfit += trade.PnL
			winPct += trade.ReturnPercent
			consecutiveWins++
			consecutiveLosses = 0
		} else {
			res.Losses++
			grossLoss += -trade.PnL
			lossPct += -trade.ReturnPercent
			consecutiveLosses++
			consecutiveWins = 0
		}
		res.MaxConsecutive.Wins = max(res.MaxConsecutive.Wins, consecutiveWins)
		res.MaxConsecutive.Losses = max(res.MaxConsecutive.Losses, consecutiveLosses)
	}

	res.WinRate = float64(res.Wins) / float64(res.TotalTrades)
	if res.Wins > 0 {
		res.AvgWinPercent = winPct / float64(res.Wins)
	}
	if res.Losses > 0 {
		res.AvgLossPercent = lossPct / float64(res.Losses)
	}

	if grossLoss > 0 {
		res.ProfitFactor = grossProfit / grossLoss
	} else {
		res.ProfitFactor = grossProfit
	}

	res.MaxDrawdown = maxDrawdown(res.EquityCurve)
	calculateSharpeRatio(res)
	calculateMonthlyReturns(res)
}

func maxDrawdown(curve []float64) float64 {
	if len(curve) == 0 {
		return 0
	}

	worst := 0.0
	peak := curve[0]
	for _, equity := range curve {
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			worst = math.Max(worst, (peak-equity)/peak)
		}
	}
	return worst * 100
}

// calculateSharpeRatio uses per-trade returns annualised by trade frequency
func calculateSharpeRatio(res *Result) {
	if len(res.Trades) < 2 {
		return
	}

	returns := make([]float64, len(res.Trades))
	for i, trade := range res.Trades {
		returns[i] = trade.ReturnPercent / 100
	}

	m := mean(returns)
	sd := stdDev(returns, m)
	if sd > 0 {
		res.SharpeRatio = m / sd * math.Sqrt(periodsPerYear(res.Trades))
	}
}

// calculateMonthlyReturns aggregates PnL by exit month as a percent of the initial balance
func calculateMonthlyReturns(res *Result) {
	if res.InitialBalance <= 0 {
		return
	}
	for _, trade := range res.Trades {
		if trade.ExitTime.IsZero() {
			continue
		}
		month := trade.ExitTime.Format("2006-01")
		res.MonthlyReturns[month] += trade.PnL / res.InitialBalance * 100
	}
}

// periodsPerYear returns the annualization factor from the average spacing
// between trades. Crypto trades around the clock, so a year is 365 days.
func periodsPerYear(trades []Trade) float64 {
	if len(trades) < 2 {
		return 365
	}

	var total time.Duration
	for i := 1; i < len(trades); i++ {
		if diff := trades[i].ExitTime.Sub(trades[i-1].ExitTime); diff > 0 {
			total += diff
		}
	}
	avg := total / time.Duration(len(trades)-1)
	hours := avg.Hours()

	switch {
	case hours <= 0:
		return 365
	case hours <= 1:
		return 365 * 24
	case hours <= 24:
		return 365
	case hours <= 24*7:
		return 52
	default:
		return 12
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}

	var sumSquaredDiff float64
	for _, v := range values {
		diff := v - mean
		sumSquaredDiff += diff * diff
	}
	return math.Sqrt(sumSquaredDiff / float64(len(values)-1))
}
