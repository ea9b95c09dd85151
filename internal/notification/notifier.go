// Package notification provides alert delivery to external channels
// (Telegram, webhooks, logs) for trading events.
package notification

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts (useful for development and dry runs).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	ev := log.Info()
	switch alert.Level {
	case AlertWarning:
		ev = log.Warn()
	case AlertCritical:
		ev = log.Error()
	}
	ev.Str("component", "notify").
		Str("level_alert", string(alert.Level)).
		Str("title", alert.Title).
		Msg(alert.Message)
	return nil
}

// Multi sends every alert to all of its notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendQuietly delivers alert through n and logs instead of returning a
// failure. A nil notifier is a no-op.
func SendQuietly(ctx context.Context, n Notifier, alert Alert) {
	if n == nil {
		return
	}
	if err := n.Send(ctx, alert); err != nil {
		log.Warn().Err(err).Str("component", "notify").Str("title", alert.Title).Msg("alert delivery failed")
	}
}
