package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/toremeling86-cell/crypto-trader/internal/api/kraken"
	"github.com/toremeling86-cell/crypto-trader/internal/candles"
	"github.com/toremeling86-cell/crypto-trader/internal/config"
	"github.com/toremeling86-cell/crypto-trader/internal/database"
	"github.com/toremeling86-cell/crypto-trader/internal/diagnostics"
	"github.com/toremeling86-cell/crypto-trader/internal/engine"
	"github.com/toremeling86-cell/crypto-trader/internal/logger"
	"github.com/toremeling86-cell/crypto-trader/internal/metrics"
	"github.com/toremeling86-cell/crypto-trader/internal/orders"
	"github.com/toremeling86-cell/crypto-trader/internal/strategy"
	"github.com/toremeling86-cell/crypto-trader/internal/trading/backtest"
	"github.com/toremeling86-cell/crypto-trader/internal/trading/risk"
	"github.com/toremeling86-cell/crypto-trader/models"
)

func main() {
	var (
		strategiesPath = flag.String("strategies", "", "strategies YAML file (overrides STRATEGIES_FILE)")
		showDiag       = flag.Bool("diagnostics", false, "print runtime diagnostics as JSON and exit")
		runBacktest    = flag.Bool("backtest", false, "backtest every strategy on historical bars and exit")
		once           = flag.Bool("once", false, "run a single evaluation cycle and exit")
	)
	flag.Parse()

	if *showDiag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diagnostics.Collect()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if _, err := logger.Setup(logger.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Environment: cfg.Environment,
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *strategiesPath != "" {
		cfg.StrategiesFile = *strategiesPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *runBacktest, *once); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Engine stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, backtestMode, once bool) error {
	diagnostics.Collect().Log(log.Logger)

	client := kraken.NewClient(kraken.ClientOptions{
		BaseURL:         cfg.KrakenBaseURL,
		RequestTimeout:  time.Duration(cfg.RequestTimeout) * time.Second,
		RequestsPerSec:  cfg.RequestsPerSec,
		MaxRetries:      cfg.MaxRetries,
		MaxRetryTimeout: time.Duration(cfg.RequestTimeout) * time.Second,
	})

	var db *database.DB
	if cfg.PostgresDSN != "" {
		var err error
		db, err = database.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	strategies, err := loadStrategies(ctx, cfg, db)
	if err != nil {
		return err
	}
	if len(strategies) == 0 {
		return errors.New("no active strategies")
	}

	if backtestMode {
		return backtestAll(ctx, cfg, client, db, strategies)
	}
	return live(ctx, cfg, client, strategies, once)
}

func loadStrategies(ctx context.Context, cfg *config.Config, db *database.DB) ([]*models.Strategy, error) {
	strict := cfg.Flags.IsEnabled(config.FlagStrictConditions, false)

	if db == nil {
		return strategy.LoadFile(cfg.StrategiesFile, strict)
	}

	stored, err := db.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := stored[:0]
	for _, s := range stored {
		if err := strategy.Prepare(s, strict); err != nil {
			log.Warn().Err(err).Str("strategy", s.ID).Msg("Skipping stored strategy")
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func backtestAll(ctx context.Context, cfg *config.Config, client *kraken.Client, db *database.DB, strategies []*models.Strategy) error {
	kelly := risk.NewKelly(risk.KellyConfig{
		Fraction:        cfg.KellyFraction,
		MinPositionSize: cfg.MinPositionSize,
		MaxPositionSize: cfg.MaxPositionSize,
	})
	runner := backtest.NewRunner(nil, risk.NewSizer(kelly))
	runner.SetInitialValue(cfg.PaperBalance)

	for _, s := range strategies {
		for _, pair := range s.TradingPairs {
			bars, err := client.GetHistoricalBars(ctx, pair, s.PrimaryTimeframe, cfg.BacktestDays)
			if err != nil {
				log.Error().Err(err).Str("strategy", s.ID).Str("pair", pair).Msg("Failed to fetch history")
				continue
			}

			res, err := runner.Run(s, bars)
			if err != nil {
				log.Error().Err(err).Str("strategy", s.ID).Str("pair", pair).Msg("Backtest failed")
				continue
			}
			fmt.Printf("%s [%s]%s", s.ID, pair, backtest.FormatResults(res))

			backtest.ApplyStatistics(s, res)
			if db != nil {
				if err := db.UpdateStatistics(ctx, s.ID, s.TotalTrades, s.WinRate, s.AvgWinPercent, s.AvgLossPercent); err != nil {
					log.Error().Err(err).Str("strategy", s.ID).Msg("Failed to store statistics")
				}
			}
		}
	}
	return nil
}

func live(ctx context.Context, cfg *config.Config, client *kraken.Client, strategies []*models.Strategy, once bool) error {
	var opts []candles.Option
	if cfg.Flags.IsEnabled(config.FlagRedisMirror, false) {
		mirror, err := candles.NewRedisMirror(ctx, candles.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Capacity: cfg.StoreCapacity,
		})
		if err != nil {
			return err
		}
		defer mirror.Close()
		opts = append(opts, candles.WithMirror(mirror))
	}
	store := candles.NewStore(cfg.StoreCapacity, opts...)

	tracker := orders.NewTracker()
	recorder := metrics.New(prometheus.DefaultRegisterer)
	eng := engine.New(store, client, engine.Config{
		IntervalMinutes: cfg.IntervalMinutes,
		Kelly: risk.KellyConfig{
			Fraction:        cfg.KellyFraction,
			MinPositionSize: cfg.MinPositionSize,
			MaxPositionSize: cfg.MaxPositionSize,
		},
		Limits: risk.Limits{
			MaxExposurePercent:    cfg.MaxExposurePercent,
			DailyLossLimitPercent: cfg.DailyLossLimitPercent,
		},
	}, engine.WithRecorder(recorder), engine.WithPositions(tracker))

	pairs := tradedPairs(strategies)

	if err := store.Restore(ctx, pairs); err != nil {
		log.Warn().Err(err).Msg("Failed to restore candles from mirror")
	}
	if cfg.Flags.IsEnabled(config.FlagWarmup, true) {
		if err := eng.Warmup(ctx, pairs, cfg.StoreCapacity); err != nil {
			log.Warn().Err(err).Msg("Warmup incomplete")
		}
	}

	srv := serveMetrics(cfg.MetricsAddr)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	account := newPaperAccount(cfg.PaperBalance, tracker)
	tick := func() {
		for _, pair := range pairs {
			ticker, err := client.GetTicker(ctx, pair)
			if err != nil {
				log.Warn().Err(err).Str("pair", pair).Msg("Ticker unavailable")
				continue
			}
			eng.Ingest(ticker)
			tracker.MarkPrice(pair, ticker.Last)
			account.mark(pair, ticker.Last)

			for _, s := range strategies {
				if !s.HasPair(pair) {
					continue
				}
				sig := eng.EvaluateStrategy(ctx, s, ticker, account.portfolio())
				if sig == nil {
					continue
				}
				if err := account.execute(sig); err != nil {
					log.Error().Err(err).Str("strategy", s.ID).Msg("Paper order failed")
				}
			}
		}
	}

	log.Info().Int("strategies", len(strategies)).Strs("pairs", pairs).Dur("interval", cfg.EvalInterval).Msg("Engine started")
	tick()
	if once {
		return nil
	}

	ticker := time.NewTicker(cfg.EvalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutting down")
			return ctx.Err()
		case <-ticker.C:
			tick()
		}
	}
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	return srv
}

func tradedPairs(strategies []*models.Strategy) []string {
	seen := make(map[string]bool)
	var pairs []string
	for _, s := range strategies {
		for _, p := range s.TradingPairs {
			if !seen[p] {
				seen[p] = true
				pairs = append(pairs, p)
			}
		}
	}
	sort.Strings(pairs)
	return pairs
}
