package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/toremeling86-cell/crypto-trader/models"
)

const strategyColumns = `
	id, name, description, is_active, entry_conditions, exit_conditions,
	position_size_percent, stop_loss_percent, take_profit_percent, trading_pairs, sizing_mode,
	multi_timeframe_enabled, primary_timeframe, confirmatory_timeframes,
	regime_filter_enabled, allowed_regimes,
	use_volatility_stops, volatility_stop_multiplier,
	trailing_stop_enabled, trailing_stop_percent,
	total_trades, win_rate, avg_win_percent, avg_loss_percent`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanStrategy(row rowScanner) (*models.Strategy, error) {
	var (
		s            models.Strategy
		confirmatory pq.Int64Array
		regimes      pq.StringArray
	)

	err := row.Scan(
		&s.ID, &s.Name, &s.Description, &s.IsActive,
		pq.Array(&s.EntryConditions), pq.Array(&s.ExitConditions),
		&s.PositionSizePercent, &s.StopLossPercent, &s.TakeProfitPercent,
		pq.Array(&s.TradingPairs), &s.SizingMode,
		&s.MultiTimeframeEnabled, &s.PrimaryTimeframe, &confirmatory,
		&s.RegimeFilterEnabled, &regimes,
		&s.UseVolatilityStops, &s.VolatilityStopMultiplier,
		&s.TrailingStopEnabled, &s.TrailingStopPercent,
		&s.TotalTrades, &s.WinRate, &s.AvgWinPercent, &s.AvgLossPercent,
	)
	if err != nil {
		return nil, err
	}

	s.ConfirmatoryTimeframes = fromInt64s(confirmatory)
	s.AllowedRegimes = toRegimes(regimes)
	return &s, nil
}

// ListActive returns the strategies the engine should evaluate
func (db *DB) ListActive(ctx context.Context) ([]*models.Strategy, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+strategyColumns+` FROM strategies WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query active strategies: %w", err)
	}
	defer rows.Close()

	var out []*models.Strategy
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate strategies: %w", err)
	}

	db.logger.Debug().Int("count", len(out)).Msg("Loaded active strategies")
	return out, nil
}

// Get returns one strategy by id
func (db *DB) Get(ctx context.Context, id string) (*models.Strategy, error) {
	row := db.QueryRowContext(ctx, `SELECT `+strategyColumns+` FROM strategies WHERE id = $1`, id)

	s, err := scanStrategy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
		}
		return nil, fmt.Errorf("get strategy %s: %w", id, err)
	}
	return s, nil
}

// Upsert inserts the strategy or replaces its definition. Trade statistics
// are only written on insert; UpdateStatistics owns them afterwards.
func (db *DB) Upsert(ctx context.Context, s *models.Strategy) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO strategies (`+strategyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (id)
		DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			is_active = EXCLUDED.is_active,
			entry_conditions = EXCLUDED.entry_conditions,
			exit_conditions = EXCLUDED.exit_conditions,
			position_size_percent = EXCLUDED.position_size_percent,
			stop_loss_percent = EXCLUDED.stop_loss_percent,
			take_profit_percent = EXCLUDED.take_profit_percent,
			trading_pairs = EXCLUDED.trading_pairs,
			sizing_mode = EXCLUDED.sizing_mode,
			multi_timeframe_enabled = EXCLUDED.multi_timeframe_enabled,
			primary_timeframe = EXCLUDED.primary_timeframe,
			confirmatory_timeframes = EXCLUDED.confirmatory_timeframes,
			regime_filter_enabled = EXCLUDED.regime_filter_enabled,
			allowed_regimes = EXCLUDED.allowed_regimes,
			use_volatility_stops = EXCLUDED.use_volatility_stops,
			volatility_stop_multiplier = EXCLUDED.volatility_stop_multiplier,
			trailing_stop_enabled = EXCLUDED.trailing_stop_enabled,
			trailing_stop_percent = EXCLUDED.trailing_stop_percent,
			updated_at = NOW()
	`, upsertArgs(s)...)
	if err != nil {
		return fmt.Errorf("upsert strategy %s: %w", s.ID, err)
	}
	return nil
}

func upsertArgs(s *models.Strategy) []any {
	return []any{
		s.ID, s.Name, s.Description, s.IsActive,
		pq.Array(nonNil(s.EntryConditions)), pq.Array(nonNil(s.ExitConditions)),
		s.PositionSizePercent, s.StopLossPercent, s.TakeProfitPercent,
		pq.Array(nonNil(s.TradingPairs)), s.SizingMode,
		s.MultiTimeframeEnabled, s.PrimaryTimeframe, toInt64s(s.ConfirmatoryTimeframes),
		s.RegimeFilterEnabled, fromRegimes(s.AllowedRegimes),
		s.UseVolatilityStops, s.VolatilityStopMultiplier,
		s.TrailingStopEnabled, s.TrailingStopPercent,
		s.TotalTrades, s.WinRate, s.AvgWinPercent, s.AvgLossPercent,
	}
}

// UpdateStatistics stores the trade statistics Kelly sizing reads
func (db *DB) UpdateStatistics(ctx context.Context, id string, totalTrades int, winRate, avgWinPercent, avgLossPercent float64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE strategies
		SET total_trades = $1, win_rate = $2, avg_win_percent = $3, avg_loss_percent = $4, updated_at = NOW()
		WHERE id = $5
	`, totalTrades, winRate, avgWinPercent, avgLossPercent, id)
	if err != nil {
		return fmt.Errorf("update statistics for %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update statistics for %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func toInt64s(values []int) pq.Int64Array {
	out := make(pq.Int64Array, len(values))
	for i, v := range values {
		out[i] = int64(v)
	}
	return out
}

func fromInt64s(values pq.Int64Array) []int {
	if len(values) == 0 {
		return nil
	}
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = int(v)
	}
	return out
}

func fromRegimes(regimes []models.MarketRegime) pq.StringArray {
	out := make(pq.StringArray, len(regimes))
	for i, r := range regimes {
		out[i] = string(r)
	}
	return out
}

func toRegimes(values pq.StringArray) []models.MarketRegime {
	if len(values) == 0 {
		return nil
	}
	out := make([]models.MarketRegime, len(values))
	for i, v := range values {
		out[i] = models.MarketRegime(v)
	}
	return out
}
