// Package kafka publishes closed candles and accepted signals to Kafka
// topics, keyed so every series keeps its order within a partition.
package kafka

import (
	"context"
	"time"

	"tradeengine/internal/model"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// Config configures the publisher.
type Config struct {
	Brokers      []string
	CandleTopic  string
	SignalTopic  string
	BatchTimeout time.Duration
}

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements model.EventPublisher on Kafka.
type Publisher struct {
	w           messageWriter
	candleTopic string
	signalTopic string
}

var _ model.EventPublisher = (*Publisher)(nil)

// NewPublisher creates a publisher writing to both topics through one writer.
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers")
	}
	if cfg.CandleTopic == "" {
		cfg.CandleTopic = "trader.candles"
	}
	if cfg.SignalTopic == "" {
		cfg.SignalTopic = "trader.signals"
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
	}
	return newWithWriter(w, cfg), nil
}

func newWithWriter(w messageWriter, cfg Config) *Publisher {
	return &Publisher{w: w, candleTopic: cfg.CandleTopic, signalTopic: cfg.SignalTopic}
}

func (p *Publisher) PublishCandle(ctx context.Context, c model.Candle) error {
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode candle")
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Topic: p.candleTopic,
		Key:   []byte(c.Key().String()),
		Value: data,
		Time:  c.Time,
	})
	return errors.Wrapf(err, "kafka candle %s", c.Key())
}

func (p *Publisher) PublishSignal(ctx context.Context, e model.SignalEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode signal")
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Topic:   p.signalTopic,
		Key:     []byte(e.Symbol),
		Value:   data,
		Time:    e.Time,
		Headers: []kafka.Header{{Key: "side", Value: []byte(e.Side)}},
	})
	return errors.Wrapf(err, "kafka signal %s", e.Symbol)
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}
