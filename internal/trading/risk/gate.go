package risk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toremeling86-cell/crypto-trader/models"
)

var (
	ErrInvalidParameter    = errors.New("invalid risk parameter")
	ErrPortfolioEmpty      = errors.New("portfolio value is not positive")
	ErrExposureLimit       = errors.New("exposure limit exceeded")
	ErrDailyLossLimit      = errors.New("daily loss limit reached")
	ErrInsufficientBalance = errors.New("trade value exceeds available balance")
)

// Limits are the portfolio-level admission thresholds, in percent
type Limits struct {
	MaxExposurePercent    float64
	DailyLossLimitPercent float64
}

// DefaultLimits caps exposure at 80% and halts trading below -5% on the day
func DefaultLimits() Limits {
	return Limits{
		MaxExposurePercent:    80,
		DailyLossLimitPercent: -5,
	}
}

// Gate admits or vetoes trades against portfolio limits. Once the daily loss
// limit is hit it stays tripped until the next UTC day.
type Gate struct {
	limits Limits
	now    func() time.Time

	mu        sync.Mutex
	haltedDay string

	logger zerolog.Logger
}

// NewGate creates a gate
func NewGate(limits Limits) *Gate {
	return &Gate{
		limits: limits,
		now:    time.Now,
		logger: log.With().Str("component", "risk_gate").Logger(),
	}
}

// Limits returns the configured thresholds
func (g *Gate) Limits() Limits {
	return g.limits
}

// CanExecuteTrade returns nil when a trade of tradeValue may proceed.
// Every failing check is joined into the returned error.
func (g *Gate) CanExecuteTrade(p models.Portfolio, tradeValue float64) error {
	var errs []error

	if tradeValue <= 0 {
		errs = append(errs, fmt.Errorf("%w: trade value %.2f", ErrInvalidParameter, tradeValue))
	}

	if p.TotalValue <= 0 {
		errs = append(errs, ErrPortfolioEmpty)
	} else {
		exposure := p.ExposurePercent() + tradeValue/p.TotalValue*100
		if exposure > g.limits.MaxExposurePercent {
			errs = append(errs, fmt.Errorf("%w: %.1f%% > %.1f%%", ErrExposureLimit, exposure, g.limits.MaxExposurePercent))
		}
	}

	if g.dailyHalt(p.DayProfitPercent) {
		errs = append(errs, fmt.Errorf("%w: day P&L %.2f%%", ErrDailyLossLimit, p.DayProfitPercent))
	}

	if tradeValue > p.AvailableBalance {
		errs = append(errs, fmt.Errorf("%w: %.2f > %.2f", ErrInsufficientBalance, tradeValue, p.AvailableBalance))
	}

	return errors.Join(errs...)
}

// Halted reports whether the circuit breaker is tripped for the current day
func (g *Gate) Halted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.haltedDay == g.today()
}

func (g *Gate) dailyHalt(dayProfitPercent float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := g.today()
	if dayProfitPercent < g.limits.DailyLossLimitPercent && g.haltedDay != today {
		g.haltedDay = today
		g.logger.Warn().
			Float64("day_profit_percent", dayProfitPercent).
			Float64("limit", g.limits.DailyLossLimitPercent).
			Msg("Daily loss limit hit, trading halted for the day")
	}
	return g.haltedDay == today
}

func (g *Gate) today() string {
	return g.now().UTC().Format("2006-01-02")
}
