package backtest

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toremeling86-cell/crypto-trader/internal/analysis/market"
	"github.com/toremeling86-cell/crypto-trader/internal/conditions"
	"github.com/toremeling86-cell/crypto-trader/internal/trading/risk"
	"github.com/toremeling86-cell/crypto-trader/models"
)

// MinCandles is the shortest history a backtest accepts
const MinCandles = 30

// ErrInsufficientData is returned when there are too few candles to walk
var ErrInsufficientData = errors.New("insufficient historical data")

// Exit reasons recorded on trades
const (
	ExitStopLoss      = "stop_loss"
	ExitTakeProfit    = "take_profit"
	ExitTrailingStop  = "trailing_stop"
	ExitCondition     = "exit_condition"
	ExitEndOfData     = "end_of_data"
	defaultInitialCap = 10000.0
)

// Trade is one closed long position
type Trade struct {
	EntryTime     time.Time `json:"entry_time"`
	ExitTime      time.Time `json:"exit_time"`
	EntryPrice    float64   `json:"entry_price"`
	ExitPrice     float64   `json:"exit_price"`
	Volume        float64   `json:"volume"`
	PnL           float64   `json:"pnl"`
	ReturnPercent float64   `json:"return_percent"`
	ExitReason    string    `json:"exit_reason"`
}

// Result summarises a backtest
type Result struct {
	StrategyID         string             `json:"strategy_id"`
	TotalTrades        int                `json:"total_trades"`
	Wins               int                `json:"wins"`
	Losses             int                `json:"losses"`
	WinRate            float64            `json:"win_rate"` // fraction 0..1
	AvgWinPercent      float64            `json:"avg_win_percent"`
	AvgLossPercent     float64            `json:"avg_loss_percent"` // magnitude
	ProfitFactor       float64            `json:"profit_factor"`
	MaxDrawdown        float64            `json:"max_drawdown"` // percent
	SharpeRatio        float64            `json:"sharpe_ratio"`
	TotalReturnPercent float64            `json:"total_return_percent"`
	InitialBalance     float64            `json:"initial_balance"`
	FinalBalance       float64            `json:"final_balance"`
	EquityCurve        []float64          `json:"equity_curve"`
	MonthlyReturns     map[string]float64 `json:"monthly_returns"`
	MaxConsecutive     struct {
		Wins   int `json:"wins"`
		Losses int `json:"losses"`
	} `json:"max_consecutive"`
	Trades []Trade `json:"trades"`
}

// Runner replays a strategy over historical candles using the same condition
// evaluator as live trading, restricted to completed candles
type Runner struct {
	evaluator      *conditions.Evaluator
	sizer          *risk.Sizer
	initialBalance float64
	logger         zerolog.Logger
}

// NewRunner creates a backtest runner
func NewRunner(evaluator *conditions.Evaluator, sizer *risk.Sizer) *Runner {
	if evaluator == nil {
		evaluator = conditions.NewEvaluator()
	}
	if sizer == nil {
		sizer = risk.NewSizer(nil)
	}
	return &Runner{
		evaluator:      evaluator,
		sizer:          sizer,
		initialBalance: defaultInitialCap,
		logger:         log.With().Str("component", "backtest").Logger(),
	}
}

// SetInitialValue sets the starting balance
func (r *Runner) SetInitialValue(value float64) {
	if value > 0 {
		r.initialBalance = value
	}
}

type openPosition struct {
	entryTime  time.Time
	entryPrice float64
	volume     float64
	stopLoss   float64
	takeProfit float64
	peak       float64
}

// Run walks the candles oldest first. At bar t the conditions see only bars
// before t; entries and condition exits fill at bar t's open, stops and
// targets are checked against bar t's range.
func (r *Runner) Run(strategy *models.Strategy, candles []models.Candle) (*Result, error) {
	if len(candles) < MinCandles {
		return nil, fmt.Errorf("%w: got %d candles, need %d", ErrInsufficientData, len(candles), MinCandles)
	}

	entry := conditions.ParseAll(strategy.EntryConditions)
	exit := conditions.ParseAll(strategy.ExitConditions)

	res := &Result{
		StrategyID:     strategy.ID,
		InitialBalance: r.initialBalance,
		MonthlyReturns: make(map[string]float64),
		EquityCurve:    []float64{r.initialBalance},
	}

	balance := r.initialBalance
	var pos *openPosition

	closeAt := func(bar models.Candle, price float64, reason string) {
		pnl := pos.volume * (price - pos.entryPrice)
		balance += pos.volume * price
		res.Trades = append(res.Trades, Trade{
			EntryTime:     pos.entryTime,
			ExitTime:      bar.Timestamp,
			EntryPrice:    pos.entryPrice,
			ExitPrice:     price,
			Volume:        pos.volume,
			PnL:           pnl,
			ReturnPercent: (price - pos.entryPrice) / pos.entryPrice * 100,
			ExitReason:    reason,
		})
		res.EquityCurve = append(res.EquityCurve, balance)
		pos = nil
	}

	for t := 1; t < len(candles); t++ {
		bar := candles[t]
		in := conditions.Input{Candles: candles[:t+1], CompletedOnly: true}

		if pos != nil {
			if r.evaluator.AnyTrue(exit, in) {
				closeAt(bar, bar.Open, ExitCondition)
				continue
			}
			if price, reason, hit := intrabarExit(strategy, pos, bar); hit {
				closeAt(bar, price, reason)
				continue
			}
			pos.peak = math.Max(pos.peak, bar.High)
			continue
		}

		if strategy.RegimeFilterEnabled && !market.Permits(market.Analyze(candles[:t]), strategy.AllowedRegimes) {
			continue
		}
		if !r.evaluator.AllTrue(entry, in) {
			continue
		}

		price := bar.Open
		value := math.Min(r.sizer.PositionValue(strategy, balance), balance)
		if value <= 0 || price <= 0 {
			continue
		}

		pos = &openPosition{
			entryTime:  bar.Timestamp,
			entryPrice: price,
			volume:     value / price,
			stopLoss:   risk.StopLossFromBars(strategy, candles[:t], price, true),
			takeProfit: risk.TakeProfitFor(strategy, price, true),
			peak:       price,
		}
		balance -= value

		if price, reason, hit := intrabarExit(strategy, pos, bar); hit {
			closeAt(bar, price, reason)
			continue
		}
		pos.peak = math.Max(pos.peak, bar.High)
	}

	if pos != nil {
		last := candles[len(candles)-1]
		closeAt(last, last.Close, ExitEndOfData)
	}

	res.FinalBalance = balance
	CalculatePerformanceMetrics(res)

	r.logger.Info().
		Str("strategy", strategy.ID).
		Int("candles", len(candles)).
		Int("trades", res.TotalTrades).
		Float64("win_rate", res.WinRate).
		Float64("return_percent", res.TotalReturnPercent).
		Msg("Backtest completed")

	return res, nil
}

// intrabarExit checks the stop before the target; a bar that opens through
// the stop fills at its open
func intrabarExit(strategy *models.Strategy, pos *openPosition, bar models.Candle) (float64, string, bool) {
	stop, reason := pos.stopLoss, ExitStopLoss
	if strategy.TrailingStopEnabled && strategy.TrailingStopPercent > 0 {
		if trail := risk.TrailingStop(pos.peak, strategy.TrailingStopPercent); trail > stop {
			stop, reason = trail, ExitTrailingStop
		}
	}

	if bar.Low <= stop {
		return math.Min(bar.Open, stop), reason, true
	}
	if bar.High >= pos.takeProfit {
		return math.Max(bar.Open, pos.takeProfit), ExitTakeProfit, true
	}
	return 0, "", false
}

// ApplyStatistics copies trade statistics onto the strategy for Kelly sizing
func ApplyStatistics(strategy *models.Strategy, res *Result) {
	if strategy == nil || res == nil {
		return
	}
	strategy.TotalTrades = res.TotalTrades
	strategy.WinRate = res.WinRate
	strategy.AvgWinPercent = res.AvgWinPercent
	strategy.AvgLossPercent = res.AvgLossPercent
}

// FormatResults creates a human-readable summary of backtest results
func FormatResults(res *Result) string {
	if res == nil {
		return "No backtest results available"
	}

	output := fmt.Sprintf("\n===== BACKTEST RESULTS: %s =====\n", res.StrategyID)
	output += fmt.Sprintf("Total trades: %d\n", res.TotalTrades)
	output += fmt.Sprintf("Winning trades: %d (%.2f%%)\n", res.Wins, res.WinRate*100)
	output += fmt.Sprintf("Total return: %.2f%%\n", res.TotalReturnPercent)
	output += fmt.Sprintf("Average win: %.2f%%\n", res.AvgWinPercent)
	output += fmt.Sprintf("Average loss: %.2f%%\n", res.AvgLossPercent)
	output += fmt.Sprintf("Profit factor: %.2f\n", res.ProfitFactor)
	output += fmt.Sprintf("Maximum drawdown: %.2f%%\n", res.MaxDrawdown)
	output += fmt.Sprintf("Sharpe ratio: %.2f\n", res.SharpeRatio)
	output += fmt.Sprintf("Max consecutive wins: %d\n", res.MaxConsecutive.Wins)
	output += fmt.Sprintf("Max consecutive losses: %d\n", res.MaxConsecutive.Losses)

	if len(res.MonthlyReturns) > 0 {
		output += "\nMonthly returns:\n"

		months := make([]string, 0, len(res.MonthlyReturns))
		for month := range res.MonthlyReturns {
			months = append(months, month)
		}
		sort.Strings(months)

		for _, month := range months {
			value := res.MonthlyReturns[month]
			sign := ""
			if value > 0 {
				sign = "+"
			}
			output += fmt.Sprintf("- %s: %s%.2f%%\n", month, sign, value)
		}
	}

	output += fmt.Sprintf("\nFinal balance: %.2f (from %.2f)\n", res.FinalBalance, res.InitialBalance)
	return output
}
