// Package bus fans closed candles and accepted signals out to downstream
// publishers without letting a slow sink block the trading path.
package bus

import (
	"context"
	"errors"
	"sync"

	"tradeengine/internal/model"

	"github.com/rs/zerolog/log"
)

// Event carries exactly one of Candle or Signal.
type Event struct {
	Candle *model.Candle
	Signal *model.SignalEvent
}

// FanOut broadcasts events to N output channels. If an output channel is
// full the event is dropped for that consumer.
// FanOut itself satisfies model.EventPublisher.
type FanOut struct {
	mu      sync.RWMutex
	outputs []chan Event
	sinks   []model.EventPublisher
	bufSize int
	closed  bool
	wg      sync.WaitGroup

	// OnDrop is called when an event is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{bufSize: outputBufferSize}
}

// Subscribe creates and returns a new output channel.
func (f *FanOut) Subscribe() <-chan Event {
	ch := make(chan Event, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.mu.Unlock()
	return ch
}

// Attach subscribes p and forwards every event to it on its own goroutine.
// Publish errors are logged and the event is skipped.
func (f *FanOut) Attach(ctx context.Context, name string, p model.EventPublisher) {
	ch := f.Subscribe()
	f.mu.Lock()
	f.sinks = append(f.sinks, p)
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for ev := range ch {
			var err error
			switch {
			case ev.Candle != nil:
				err = p.PublishCandle(ctx, *ev.Candle)
			case ev.Signal != nil:
				err = p.PublishSignal(ctx, *ev.Signal)
			}
			if err != nil {
				log.Warn().Err(err).Str("action", "publish").Str("sink", name).Msg("publish failed")
			}
		}
	}()
}

func (f *FanOut) PublishCandle(_ context.Context, c model.Candle) error {
	f.broadcast(Event{Candle: &c})
	return nil
}

func (f *FanOut) PublishSignal(_ context.Context, e model.SignalEvent) error {
	f.broadcast(Event{Signal: &e})
	return nil
}

func (f *FanOut) broadcast(ev Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for i, ch := range f.outputs {
		select {
		case ch <- ev:
		default:
			if f.OnDrop != nil {
				f.OnDrop(i)
			} else {
				log.Warn().Int("subscriber", i).Msg("output channel full, dropping event")
			}
		}
	}
}

// Close closes every output channel, waits for attached sinks to drain and
// closes them.
func (f *FanOut) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	for _, ch := range f.outputs {
		close(ch)
	}
	sinks := f.sinks
	f.mu.Unlock()

	f.wg.Wait()
	var errs []error
	for _, s := range sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// ChannelStat is the (length, capacity) of one subscriber channel.
// Used for reporting channel saturation.
type ChannelStat struct {
	Len int
	Cap int
}

func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
