// Package ledger keeps the alternating BUY/SELL signal sequence for one
// symbol and computes realized profit from it.
//
// The ledger allows at most one open position: a BUY must follow a SELL (or
// an empty ledger) and a SELL must follow a BUY, each strictly later in time.
package ledger

import (
	"context"
	"sync"
	"time"

	"tradeengine/internal/model"

	"github.com/pkg/errors"
)

// Ledger is the in-memory signal sequence, optionally backed by a store for
// persisted appends. Safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	store   model.SignalStore
	signals []model.SignalEvent

	// OnAppend is called after every accepted event (optional).
	OnAppend func(e model.SignalEvent)
}

// New creates a ledger seeded with signals (oldest first). store may be nil
// when no append is ever persisted (back-testing).
func New(store model.SignalStore, signals []model.SignalEvent) *Ledger {
	cp := make([]model.SignalEvent, len(signals))
	copy(cp, signals)
	return &Ledger{store: store, signals: cp}
}

// LoadLast builds a ledger from the n most recent stored events of symbol.
func LoadLast(ctx context.Context, store model.SignalStore, symbol string, n int) (*Ledger, error) {
	events, err := store.LastSignals(ctx, symbol, n)
	if err != nil {
		return nil, errors.Wrapf(err, "load last %d signals for %s", n, symbol)
	}
	return New(store, events), nil
}

// LoadAfter builds a ledger from stored events of symbol at or after t.
func LoadAfter(ctx context.Context, store model.SignalStore, symbol string, t time.Time) (*Ledger, error) {
	events, err := store.SignalsAfter(ctx, symbol, t)
	if err != nil {
		return nil, errors.Wrapf(err, "load signals for %s after %v", symbol, t)
	}
	return New(store, events), nil
}

// CanBuy reports whether a BUY at t keeps the ledger alternating.
func (l *Ledger) CanBuy(t time.Time) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.canBuy(t)
}

// CanSell reports whether a SELL at t keeps the ledger alternating.
func (l *Ledger) CanSell(t time.Time) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.canSell(t)
}

func (l *Ledger) canBuy(t time.Time) bool {
	if len(l.signals) == 0 {
		return true
	}
	last := l.signals[len(l.signals)-1]
	return last.Side == model.SideSell && last.Time.Before(t)
}

func (l *Ledger) canSell(t time.Time) bool {
	if len(l.signals) == 0 {
		return false
	}
	last := l.signals[len(l.signals)-1]
	return last.Side == model.SideBuy && last.Time.Before(t)
}

// Buy appends a BUY event if allowed. With persist set the event is saved
// first; a save failure leaves the ledger untouched.
func (l *Ledger) Buy(ctx context.Context, t time.Time, symbol string, price, size float64, persist bool) (bool, error) {
	return l.append(ctx, model.SignalEvent{Time: t, Symbol: symbol, Side: model.SideBuy, Price: price, Size: size}, persist)
}

// Sell appends a SELL event if allowed. Same persistence rules as Buy.
func (l *Ledger) Sell(ctx context.Context, t time.Time, symbol string, price, size float64, persist bool) (bool, error) {
	return l.append(ctx, model.SignalEvent{Time: t, Symbol: symbol, Side: model.SideSell, Price: price, Size: size}, persist)
}

func (l *Ledger) append(ctx context.Context, e model.SignalEvent, persist bool) (bool, error) {
	l.mu.Lock()
	ok := l.canSell(e.Time)
	if e.Side == model.SideBuy {
		ok = l.canBuy(e.Time)
	}
	if !ok {
		l.mu.Unlock()
		return false, nil
	}
	if persist {
		if l.store == nil {
			l.mu.Unlock()
			return false, errors.New("ledger has no signal store")
		}
		if err := l.store.SaveSignal(ctx, e); err != nil {
			l.mu.Unlock()
			return false, errors.Wrapf(err, "save %s signal", e.Side)
		}
	}
	l.signals = append(l.signals, e)
	hook := l.OnAppend
	l.mu.Unlock()

	if hook != nil {
		hook(e)
	}
	return true, nil
}

// Profit is the realized profit of the sequence. A leading SELL is ignored;
// an open trailing BUY is excluded by reporting the total as of the last SELL.
func (l *Ledger) Profit() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return profit(l.signals)
}

func profit(signals []model.SignalEvent) float64 {
	var total, beforeSell float64
	holding := false
	for i, s := range signals {
		if i == 0 && s.Side == model.SideSell {
			continue
		}
		switch s.Side {
		case model.SideBuy:
			total -= s.Price * s.Size
			holding = true
		case model.SideSell:
			total += s.Price * s.Size
			holding = false
			beforeSell = total
		}
	}
	if holding {
		return beforeSell
	}
	return total
}

// Signals returns a copy of the sequence, oldest first.
func (l *Ledger) Signals() []model.SignalEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.SignalEvent, len(l.signals))
	copy(out, l.signals)
	return out
}

// Last returns the most recent event, if any.
func (l *Ledger) Last() (model.SignalEvent, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.signals) == 0 {
		return model.SignalEvent{}, false
	}
	return l.signals[len(l.signals)-1], true
}

// Len returns the number of events.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.signals)
}

// Value is the API view of a ledger. Both fields are omitted-as-null when
// there is nothing to report.
type Value struct {
	Signals []model.SignalEvent `json:"signals"`
	Profit  *float64            `json:"profit"`
}

// Value snapshots the ledger for serialization.
func (l *Ledger) Value() Value {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var v Value
	if len(l.signals) > 0 {
		v.Signals = make([]model.SignalEvent, len(l.signals))
		copy(v.Signals, l.signals)
	}
	if p := profit(l.signals); p != 0 {
		v.Profit = &p
	}
	return v
}
