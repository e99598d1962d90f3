// Package kraken reads public market data from the Kraken REST API.
package kraken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	httpClient "github.com/toremeling86-cell/crypto-trader/internal/platform/http"
	"github.com/toremeling86-cell/crypto-trader/models"
)

// DefaultBaseURL is the public Kraken REST endpoint
const DefaultBaseURL = "https://api.kraken.com"

// ErrEmptyResult is returned when Kraken answers without data for the pair
var ErrEmptyResult = errors.New("kraken returned no data")

// Client is the Kraken public API client
type Client struct {
	baseURL    string
	httpClient *httpClient.Client
	logger     zerolog.Logger
}

// ClientOptions holds options for creating a new Kraken client
type ClientOptions struct {
	BaseURL         string
	RequestTimeout  time.Duration
	RequestsPerSec  int
	MaxRetries      int
	MaxRetryTimeout time.Duration
}

// NewClient creates a new Kraken API client
func NewClient(options ClientOptions) *Client {
	baseURL := strings.TrimRight(options.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		baseURL: baseURL,
		httpClient: httpClient.NewClient(httpClient.ClientOptions{
			Timeout:         options.RequestTimeout,
			RequestsPerSec:  options.RequestsPerSec,
			MaxRetries:      options.MaxRetries,
			MaxRetryTimeout: options.MaxRetryTimeout,
		}),
		logger: log.With().Str("component", "kraken_client").Logger(),
	}
}

type envelope struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (map[string]json.RawMessage, error) {
	endpoint := c.baseURL + path + "?" + params.Encode()
	c.logger.Debug().Str("url", endpoint).Msg("Kraken request")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.DoRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.logger.Error().Err(err).Str("response", string(body)).Msg("Error parsing JSON")
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	if len(env.Error) > 0 {
		return nil, fmt.Errorf("kraken API error: %s", strings.Join(env.Error, "; "))
	}
	return env.Result, nil
}

// pairResult picks the pair entry out of a result map. Kraken keys results by
// its canonical pair name, which differs from the requested one.
func pairResult(result map[string]json.RawMessage) (json.RawMessage, bool) {
	for key, value := range result {
		if key == "last" {
			continue
		}
		return value, true
	}
	return nil, false
}

// GetRecentBars fetches the newest count bars, oldest first
func (c *Client) GetRecentBars(ctx context.Context, pair string, intervalMinutes int, count int) ([]models.Candle, error) {
	params := url.Values{}
	params.Set("pair", pair)
	params.Set("interval", strconv.Itoa(intervalMinutes))

	result, err := c.get(ctx, "/0/public/OHLC", params)
	if err != nil {
		return nil, err
	}

	raw, ok := pairResult(result)
	if !ok {
		return nil, fmt.Errorf("%w: OHLC %s", ErrEmptyResult, pair)
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("parsing OHLC rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: OHLC %s", ErrEmptyResult, pair)
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		bar, err := parseOHLCRow(row)
		if err != nil {
			return nil, fmt.Errorf("parsing OHLC row: %w", err)
		}
		candles = append(candles, bar)
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	if count > 0 && len(candles) > count {
		candles = candles[len(candles)-count:]
	}

	c.logger.Debug().Str("pair", pair).Int("interval", intervalMinutes).Int("count", len(candles)).Msg("Fetched candles")
	return candles, nil
}

// GetHistoricalBars fetches enough bars to cover the given number of days.
// Kraken serves at most 720 bars per request.
func (c *Client) GetHistoricalBars(ctx context.Context, pair string, intervalMinutes int, days int) ([]models.Candle, error) {
	return c.GetRecentBars(ctx, pair, intervalMinutes, models.CandlesForDays(intervalMinutes, days))
}

// row layout: [time, open, high, low, close, vwap, volume, count]
func parseOHLCRow(row []json.RawMessage) (models.Candle, error) {
	if len(row) < 7 {
		return models.Candle{}, fmt.Errorf("expected 7+ fields, got %d", len(row))
	}

	var ts int64
	if err := json.Unmarshal(row[0], &ts); err != nil {
		return models.Candle{}, fmt.Errorf("time: %w", err)
	}

	fields := make([]float64, 5)
	for i, idx := range []int{1, 2, 3, 4, 6} {
		v, err := decimal(row[idx])
		if err != nil {
			return models.Candle{}, err
		}
		fields[i] = v
	}

	return models.Candle{
		Timestamp: time.Unix(ts, 0).UTC(),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}, nil
}

// decimal reads a Kraken price, which is sent as a JSON string
func decimal(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("decimal %s: %w", raw, err)
	}
	return strconv.ParseFloat(s, 64)
}

// FetchMultiTimeframeData fetches each timeframe in parallel. Timeframes that
// fail are left out; it errors only when every timeframe failed.
func (c *Client) FetchMultiTimeframeData(ctx context.Context, pair string, timeframes []int) (map[int][]models.Candle, error) {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		out  = make(map[int][]models.Candle, len(timeframes))
		errs []error
	)

	for _, tf := range timeframes {
		wg.Add(1)
		go func(tf int) {
			defer wg.Done()

			bars, err := c.GetRecentBars(ctx, pair, tf, 100)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Warn().Err(err).Str("pair", pair).Int("timeframe", tf).Msg("Failed to fetch timeframe")
				errs = append(errs, fmt.Errorf("timeframe %d: %w", tf, err))
				return
			}
			out[tf] = bars
		}(tf)
	}
	wg.Wait()

	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

type tickerInfo struct {
	Ask    []string `json:"a"`
	Bid    []string `json:"b"`
	Last   []string `json:"c"`
	Volume []string `json:"v"`
	Low    []string `json:"l"`
	High   []string `json:"h"`
	Open   string   `json:"o"`
}

// GetTicker fetches the current quote for a pair
func (c *Client) GetTicker(ctx context.Context, pair string) (models.MarketTicker, error) {
	params := url.Values{}
	params.Set("pair", pair)

	result, err := c.get(ctx, "/0/public/Ticker", params)
	if err != nil {
		return models.MarketTicker{}, err
	}

	raw, ok := pairResult(result)
	if !ok {
		return models.MarketTicker{}, fmt.Errorf("%w: ticker %s", ErrEmptyResult, pair)
	}

	var info tickerInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return models.MarketTicker{}, fmt.Errorf("parsing ticker: %w", err)
	}

	t := models.MarketTicker{
		Pair:      pair,
		Ask:       first(info.Ask, 0),
		Bid:       first(info.Bid, 0),
		Last:      first(info.Last, 0),
		Volume24h: first(info.Volume, 1),
		Low24h:    first(info.Low, 1),
		High24h:   first(info.High, 1),
		Timestamp: time.Now().UTC(),
	}
	if open, err := strconv.ParseFloat(info.Open, 64); err == nil && open > 0 {
		t.Change24h = (t.Last - open) / open * 100
	}
	return t, nil
}

func first(values []string, idx int) float64 {
	if idx >= len(values) {
		return 0
	}
	v, err := strconv.ParseFloat(values[idx], 64)
	if err != nil {
		return 0
	}
	return v
}
