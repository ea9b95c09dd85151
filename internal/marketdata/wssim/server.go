// Package wssim serves simulated exchange ticker messages over WebSocket so
// the trader can run end-to-end without a live feed.
//
// Clients speak the exchange protocol: they send
//
//	{"command":"subscribe","channel":"ticker","symbol":"BTC"}
//
// and receive ticker messages for the symbols they subscribed to.
package wssim

import (
	"context"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// TimestampLayout is the exchange's ticker timestamp format.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Ticker is one message on the wire. Numbers are decimal strings.
type Ticker struct {
	Channel   string `json:"channel"`
	Symbol    string `json:"symbol"`
	Timestamp string `json:"timestamp"`
	Ask       string `json:"ask"`
	Bid       string `json:"bid"`
	High      string `json:"high"`
	Last      string `json:"last"`
	Low       string `json:"low"`
	Volume    string `json:"volume"`
}

type command struct {
	Command string `json:"command"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
}

// instrument holds per-symbol simulation state.
type instrument struct {
	last, high, low decimal.Decimal
	volume          decimal.Decimal
}

type client struct {
	out  chan []byte
	mu   sync.RWMutex
	subs map[string]bool
}

func (c *client) subscribed(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[symbol]
}

// Server is the simulated ticker hub.
type Server struct {
	mu      sync.RWMutex
	clients map[*client]struct{}

	instMu      sync.Mutex
	instruments map[string]*instrument
	rng         *rand.Rand
	now         func() time.Time

	upgrader websocket.Upgrader
}

// New creates a server simulating the given symbols at their starting prices.
func New(start map[string]float64) *Server {
	s := &Server{
		clients:     make(map[*client]struct{}),
		instruments: make(map[string]*instrument, len(start)),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
		upgrader:    websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	for sym, p := range start {
		d := decimal.NewFromFloat(p)
		s.instruments[sym] = &instrument{last: d, high: d, low: d}
	}
	return s
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Handler upgrades the request and serves one client until it disconnects.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("component", "wssim").Msg("upgrade")
			return
		}
		c := &client{out: make(chan []byte, 256), subs: make(map[string]bool)}
		s.mu.Lock()
		s.clients[c] = struct{}{}
		s.mu.Unlock()
		log.Info().Str("component", "wssim").Str("remote", r.RemoteAddr).Msg("client connected")

		done := make(chan struct{})
		go s.readCommands(conn, c, done)

		defer func() {
			s.mu.Lock()
			delete(s.clients, c)
			s.mu.Unlock()
			conn.Close()
			log.Info().Str("component", "wssim").Str("remote", r.RemoteAddr).Msg("client disconnected")
		}()

		for {
			select {
			case <-done:
				return
			case msg := <-c.out:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}
	})
}

func (s *Server) readCommands(conn *websocket.Conn, c *client, done chan<- struct{}) {
	defer close(done)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil || cmd.Channel != "ticker" {
			continue
		}
		c.mu.Lock()
		switch cmd.Command {
		case "subscribe":
			c.subs[cmd.Symbol] = true
		case "unsubscribe":
			delete(c.subs, cmd.Symbol)
		}
		c.mu.Unlock()
	}
}

// Run emits one ticker per symbol every interval until ctx is done.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Step()
		}
	}
}

// Step advances every symbol by one random-walk step and broadcasts it.
func (s *Server) Step() {
	s.instMu.Lock()
	msgs := make(map[string][]byte, len(s.instruments))
	for sym, inst := range s.instruments {
		msgs[sym] = s.walk(sym, inst)
	}
	s.instMu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		for sym, msg := range msgs {
			if !c.subscribed(sym) {
				continue
			}
			select {
			case c.out <- msg:
			default: // slow client
			}
		}
	}
}

// walk moves inst by up to ±0.1% and encodes the resulting ticker.
// Caller holds instMu.
func (s *Server) walk(symbol string, inst *instrument) []byte {
	pct := decimal.NewFromFloat((s.rng.Float64()*0.2 - 0.1) / 100)
	inst.last = inst.last.Add(inst.last.Mul(pct)).Round(2)
	if inst.last.GreaterThan(inst.high) {
		inst.high = inst.last
	}
	if inst.last.LessThan(inst.low) {
		inst.low = inst.last
	}
	inst.volume = inst.volume.Add(decimal.NewFromFloat(s.rng.Float64()).Round(4))
	spread := inst.last.Mul(decimal.NewFromFloat(0.0001)).Round(2)

	b, _ := json.Marshal(Ticker{
		Channel:   "ticker",
		Symbol:    symbol,
		Timestamp: s.now().UTC().Format(TimestampLayout),
		Ask:       inst.last.Add(spread).String(),
		Bid:       inst.last.Sub(spread).String(),
		High:      inst.high.String(),
		Last:      inst.last.String(),
		Low:       inst.low.String(),
		Volume:    inst.volume.String(),
	})
	return b
}
