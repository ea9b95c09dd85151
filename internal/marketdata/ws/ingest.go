// Package ws streams ticker messages from the exchange's public WebSocket
// and normalizes them into model.Tick values.
//
// Wire format of one ticker message (all numbers are strings):
//
//	{"channel":"ticker","symbol":"BTC","timestamp":"2024-05-01T01:00:00.123Z",
//	 "ask":"6412346","bid":"6412345","high":"6500000","last":"6412345",
//	 "low":"6300000","volume":"123.45"}
package ws

import (
	"context"
	"net/url"
	"time"

	"tradeengine/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// DefaultPublicURL is the GMO Coin public WebSocket endpoint.
const DefaultPublicURL = "wss://api.coin.z.com/ws/public/v1"

// Config holds configuration for the WS ingest.
type Config struct {
	URL    string
	Symbol string

	// Location ticks are converted into before bucketing. Defaults to UTC.
	Location *time.Location

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = DefaultPublicURL
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

type subscribeRequest struct {
	Command string `json:"command"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
}

type tickerMessage struct {
	Symbol    string `json:"symbol" validate:"required"`
	Timestamp string `json:"timestamp" validate:"required"`
	Ask       string `json:"ask" validate:"required,numeric"`
	Bid       string `json:"bid" validate:"required,numeric"`
	High      string `json:"high" validate:"required,numeric"`
	Last      string `json:"last" validate:"required,numeric"`
	Low       string `json:"low" validate:"required,numeric"`
	Volume    string `json:"volume" validate:"required,numeric"`
}

var validate = validator.New()

// ParseTicker decodes and validates one ticker message. The exchange
// timestamp is converted into loc.
func ParseTicker(raw []byte, loc *time.Location) (model.Tick, error) {
	var m tickerMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return model.Tick{}, errors.Wrap(err, "decode ticker")
	}
	if err := validate.Struct(m); err != nil {
		return model.Tick{}, errors.Wrap(err, "validate ticker")
	}
	ts, err := time.Parse(time.RFC3339Nano, m.Timestamp)
	if err != nil {
		return model.Tick{}, errors.Wrap(err, "ticker timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}

	var nums [6]float64
	for i, s := range []string{m.Ask, m.Bid, m.High, m.Last, m.Low, m.Volume} {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return model.Tick{}, errors.Wrapf(err, "ticker field %q", s)
		}
		nums[i] = d.InexactFloat64()
	}

	return model.Tick{
		Symbol: m.Symbol,
		Time:   ts.In(loc),
		Ask:    nums[0],
		Bid:    nums[1],
		High:   nums[2],
		Last:   nums[3],
		Low:    nums[4],
		Volume: nums[5],
	}, nil
}

// Ingest subscribes to the ticker channel of one symbol and pushes ticks
// into tickCh. It reconnects with exponential backoff.
type Ingest struct {
	cfg Config

	// Optional hooks
	OnConnect   func()
	OnReconnect func(err error)
	OnBadFrame  func(raw []byte, err error)
}

// New creates a new Ingest. Returns an error if the URL is unparseable.
func New(cfg Config) (*Ingest, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, errors.Wrap(err, "ws ingest: url")
	}
	if cfg.Symbol == "" {
		return nil, errors.New("ws ingest: symbol required")
	}
	return &Ingest{cfg: cfg}, nil
}

// Start streams ticks into tickCh until ctx is cancelled.
// Ticks are never dropped: a full tickCh blocks the reader.
func (ing *Ingest) Start(ctx context.Context, tickCh chan<- model.Tick) error {
	delay := ing.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := ing.runOnce(ctx, tickCh)
		if err == nil {
			return nil
		}
		if connected {
			delay = ing.cfg.ReconnectDelay
		}

		log.Warn().Err(err).Str("action", "ws_ingest").Str("status", "disconnected").
			Dur("retry_in", delay).Msg("reconnecting")
		if ing.OnReconnect != nil {
			ing.OnReconnect(err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. connected reports whether the subscription went through.
func (ing *Ingest) runOnce(ctx context.Context, tickCh chan<- model.Tick) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return false, errors.Wrap(err, "dial")
	}
	defer conn.Close()

	sub := subscribeRequest{Command: "subscribe", Channel: "ticker", Symbol: ing.cfg.Symbol}
	if err := conn.WriteJSON(sub); err != nil {
		return false, errors.Wrap(err, "subscribe")
	}
	log.Info().Str("action", "ws_ingest").Str("status", "subscribed").
		Str("url", ing.cfg.URL).Str("symbol", ing.cfg.Symbol).Msg("connected")
	if ing.OnConnect != nil {
		ing.OnConnect()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, errors.Wrap(err, "read")
		}

		tick, err := ParseTicker(raw, ing.cfg.Location)
		if err != nil {
			log.Warn().Err(err).Str("action", "ws_ingest").Bytes("raw", raw).Msg("skipping frame")
			if ing.OnBadFrame != nil {
				ing.OnBadFrame(raw, err)
			}
			continue
		}
		if tick.Symbol != ing.cfg.Symbol {
			continue
		}

		select {
		case tickCh <- tick:
		case <-ctx.Done():
			return true, nil
		}
	}
}
