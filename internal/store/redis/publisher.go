// Package redis publishes closed candles and accepted signals to Redis
// Streams and Pub/Sub behind a circuit breaker. While the breaker is open
// events are buffered locally and replayed when it closes.
package redis

import (
	"context"
	"sync"
	"time"

	"tradeengine/internal/model"

	goredis "github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultStreamMaxLen = 10000
	defaultLatestTTL    = 30 * time.Minute
	flushTimeout        = 10 * time.Second
)

// Stream and channel names.
func CandleStream(key model.SeriesKey) string    { return "candles:" + key.String() }
func CandleChannel(key model.SeriesKey) string   { return "pub:candle:" + key.String() }
func CandleLatestKey(key model.SeriesKey) string { return "candle:latest:" + key.String() }
func SignalStream(symbol string) string          { return "signals:" + symbol }
func SignalChannel(symbol string) string         { return "pub:signal:" + symbol }

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	StreamMaxLen int64 // approximate XADD trim length
	MaxBuffer    int   // buffered events kept while the breaker is open

	MaxFailures  int
	ResetTimeout time.Duration
}

func (c *Config) defaults() {
	if c.StreamMaxLen <= 0 {
		c.StreamMaxLen = defaultStreamMaxLen
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = 10000
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 10 * time.Second
	}
}

type pendingEvent struct {
	candle *model.Candle
	signal *model.SignalEvent
}

// Publisher implements model.EventPublisher on Redis.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker
	maxLen int64

	mu     sync.Mutex
	buffer []pendingEvent
	maxBuf int

	// Callbacks
	OnBuffer func()          // called when an event is buffered
	OnFlush  func(count int) // called after replaying buffered events
}

var _ model.EventPublisher = (*Publisher)(nil)

// New creates a Publisher and pings the server.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "redis ping")
	}

	log.Info().Str("component", "redis").Str("addr", cfg.Addr).Msg("connected")
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, cfg Config) *Publisher {
	cfg.defaults()
	p := &Publisher{
		client: client,
		cb:     NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		maxLen: cfg.StreamMaxLen,
		buffer: make([]pendingEvent, 0, 64),
		maxBuf: cfg.MaxBuffer,
	}
	p.cb.OnStateChange = func(from, to State) {
		log.Warn().Str("component", "redis").Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker")
		if to == StateClosed {
			go p.flush()
		}
	}
	return p
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker exposes the circuit breaker state for health reporting.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// Ping reports whether Redis is reachable.
func (p *Publisher) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

func (p *Publisher) PublishCandle(ctx context.Context, c model.Candle) error {
	err := p.cb.Execute(func() error { return p.writeCandle(ctx, c) })
	if errors.Is(err, ErrCircuitOpen) {
		p.bufferEvent(pendingEvent{candle: &c})
		return nil
	}
	return err
}

func (p *Publisher) PublishSignal(ctx context.Context, e model.SignalEvent) error {
	err := p.cb.Execute(func() error { return p.writeSignal(ctx, e) })
	if errors.Is(err, ErrCircuitOpen) {
		p.bufferEvent(pendingEvent{signal: &e})
		return nil
	}
	return err
}

// writeCandle batches XADD + SET + PUBLISH into one round trip.
func (p *Publisher) writeCandle(ctx context.Context, c model.Candle) error {
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode candle")
	}
	key := c.Key()
	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: CandleStream(key),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	})
	pipe.Set(ctx, CandleLatestKey(key), data, defaultLatestTTL)
	pipe.Publish(ctx, CandleChannel(key), data)
	_, err = pipe.Exec(ctx)
	return errors.Wrapf(err, "redis candle %s", key)
}

func (p *Publisher) writeSignal(ctx context.Context, e model.SignalEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode signal")
	}
	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: SignalStream(e.Symbol),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	})
	pipe.Publish(ctx, SignalChannel(e.Symbol), data)
	_, err = pipe.Exec(ctx)
	return errors.Wrapf(err, "redis signal %s", e.Symbol)
}

func (p *Publisher) bufferEvent(ev pendingEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buffer) >= p.maxBuf {
		// drop oldest
		p.buffer = p.buffer[1:]
	}
	p.buffer = append(p.buffer, ev)
	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush replays buffered events directly, outside the breaker.
func (p *Publisher) flush() {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	toFlush := p.buffer
	p.buffer = make([]pendingEvent, 0, 64)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	flushed := 0
	for _, ev := range toFlush {
		var err error
		switch {
		case ev.candle != nil:
			err = p.writeCandle(ctx, *ev.candle)
		case ev.signal != nil:
			err = p.writeSignal(ctx, *ev.signal)
		}
		if err != nil {
			log.Warn().Err(err).Str("component", "redis").Msg("replay buffered event")
			continue
		}
		flushed++
	}

	log.Info().Str("component", "redis").Int("count", flushed).Msg("flushed buffered events")
	if p.OnFlush != nil {
		p.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered events waiting to be flushed.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
