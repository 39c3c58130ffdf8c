// Package redis provides RedisOutput, a receiver that keeps the latest
// reading of every sensor in a Redis hash and appends all readings to a
// Redis stream.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sensorhub/internal/receivers/format"
	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func init() {
	plugin.Register(plugin.FactoryInfo{
		Name:        "RedisOutput",
		Description: "Stores readings in Redis",
		Kind:        plugin.KindReceiver,
		Priority:    plugin.PriorityDefault,
		Factory:     New,
	})
}

// Defaults for the receiver options.
const (
	DefaultAddr         = "localhost:6379"
	DefaultKeyPrefix    = "sensorhub:"
	DefaultStreamMaxLen = 10000
	DefaultTimeout      = 5 * time.Second
)

// Client is the part of *redis.Client the receiver uses.
type Client interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// Config holds the RedisOutput options.
type Config struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	StreamMaxLen int64
	Timeout      time.Duration
}

func parseConfig(opts component.Options) (Config, error) {
	cfg := Config{
		Addr:      opts.String("addr", DefaultAddr),
		Password:  opts.String("password", ""),
		KeyPrefix: opts.String("key_prefix", DefaultKeyPrefix),
	}

	var errs []error
	var err error
	if cfg.DB, err = opts.Int("db", 0); err != nil {
		errs = append(errs, err)
	}
	maxLen, err := opts.Int("stream_max_len", DefaultStreamMaxLen)
	if err != nil {
		errs = append(errs, err)
	} else if maxLen < 0 {
		errs = append(errs, fmt.Errorf("stream_max_len must be >= 0, got %d", maxLen))
	}
	cfg.StreamMaxLen = int64(maxLen)
	if cfg.Timeout, err = opts.Duration("timeout", DefaultTimeout); err != nil {
		errs = append(errs, err)
	}
	return cfg, errors.Join(errs...)
}

// LatestKey is the hash holding the latest reading of sensor.
func (c Config) LatestKey(sensor string) string { return c.KeyPrefix + "latest:" + sensor }

// StreamKey is the stream every reading is appended to.
func (c Config) StreamKey() string { return c.KeyPrefix + "readings" }

// Receiver writes readings to Redis.
type Receiver struct {
	name   string
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	client Client
}

// New builds a RedisOutput and checks the server is reachable. Options:
// "addr", "password", "db", "key_prefix", "stream_max_len" (0 keeps every
// entry) and "timeout".
func New(ctx *plugin.Context, name string, opts component.Options) (component.Component, error) {
	cfg, err := parseConfig(opts)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger := ctx.ComponentLogger(plugin.KindReceiver, name)
	logger.Info("Redis connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return NewWithClient(name, cfg, client, logger), nil
}

// NewWithClient creates a receiver writing through client.
func NewWithClient(name string, cfg Config, client Client, logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Receiver{name: name, cfg: cfg, client: client, logger: logger}
}

// Name implements component.Receiver.
func (r *Receiver) Name() string { return r.name }

// Update implements component.Receiver.
func (r *Receiver) Update(s *component.Sensor) error {
	r.mu.Lock()
	client := r.client
	r.mu.Unlock()
	if client == nil {
		return nil
	}

	msg := format.NewMessage(r.name, s)
	payload, err := msg.JSON()
	if err != nil {
		return err
	}
	ts := msg.Timestamp.Format(time.RFC3339Nano)

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	if err := client.HSet(ctx, r.cfg.LatestKey(msg.Sensor),
		"value", msg.Value.String(),
		"quantity", msg.Quantity,
		"unit", msg.Unit,
		"timestamp", ts,
	).Err(); err != nil {
		return fmt.Errorf("failed to store latest %s: %w", msg.Sensor, err)
	}

	args := &redis.XAddArgs{
		Stream: r.cfg.StreamKey(),
		Values: map[string]interface{}{"sensor": msg.Sensor, "reading": string(payload)},
	}
	if r.cfg.StreamMaxLen > 0 {
		args.MaxLen = r.cfg.StreamMaxLen
		args.Approx = true
	}
	if err := client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append %s to %s: %w", msg.Sensor, args.Stream, err)
	}
	return nil
}

// Close implements component.Receiver.
func (r *Receiver) Close() error {
	r.mu.Lock()
	client := r.client
	r.client = nil
	r.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}
