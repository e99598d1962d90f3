package candles

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/toremeling86-cell/crypto-trader/models"
)

// RedisOptions configures the redis mirror
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Capacity int
}

// RedisMirror keeps one sorted set per pair scored by candle unix time
type RedisMirror struct {
	client   *redis.Client
	prefix   string
	capacity int
}

// NewRedisMirror connects and pings the server
func NewRedisMirror(ctx context.Context, opts RedisOptions) (*RedisMirror, error) {
	if opts.Prefix == "" {
		opts.Prefix = "crypto-trader"
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisMirror{client: client, prefix: opts.Prefix, capacity: opts.Capacity}, nil
}

func (m *RedisMirror) key(pair string) string {
	return candleKey(m.prefix, pair)
}

func candleKey(prefix, pair string) string {
	return fmt.Sprintf("%s:candles:%s", prefix, pair)
}

// Save stores the candle in place of any with the same timestamp and trims
// the set to capacity
func (m *RedisMirror) Save(ctx context.Context, pair string, c models.Candle) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal candle: %w", err)
	}

	key := m.key(pair)
	score := float64(c.Timestamp.Unix())
	bound := strconv.FormatInt(c.Timestamp.Unix(), 10)
	pipe := m.client.TxPipeline()
	// a bar still forming is saved once per update
	pipe.ZRemRangeByScore(ctx, key, bound, bound)
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: data})
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-m.capacity-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save %s: %w", key, err)
	}
	return nil
}

// Load returns up to limit newest candles, oldest first
func (m *RedisMirror) Load(ctx context.Context, pair string, limit int) ([]models.Candle, error) {
	key := m.key(pair)
	values, err := m.client.ZRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load %s: %w", key, err)
	}

	out := make([]models.Candle, 0, len(values))
	for _, v := range values {
		var c models.Candle
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			return nil, fmt.Errorf("decode candle from %s: %w", key, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// Close releases the redis connection pool
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
