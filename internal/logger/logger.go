// Package logger provides structured logging using zerolog.
// It sets up a JSON logger with service-level context and carries a
// trade-pass ID through context.Context.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const passIDKey ctxKey = "pass_id"

// Init creates a JSON logger for service writing to stdout and installs it
// as the global zerolog logger. Unknown levels fall back to info.
func Init(service, level string) zerolog.Logger {
	return InitWriter(os.Stdout, service, level)
}

// InitWriter is Init with an explicit sink.
func InitWriter(w io.Writer, service, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	l := zerolog.New(w).Level(lvl).With().
		Timestamp().
		Str("service", service).
		Logger()
	log.Logger = l
	return l
}

// WithPassID stores a pass ID in the context for downstream log lines.
func WithPassID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, passIDKey, id)
}

// PassID extracts the pass ID from context. Returns "" if not set.
func PassID(ctx context.Context) string {
	if v, ok := ctx.Value(passIDKey).(string); ok {
		return v
	}
	return ""
}

// NewPassID returns a fresh random pass ID.
func NewPassID() string {
	return uuid.NewString()
}

// Ctx returns the global logger enriched with the pass ID from ctx, if any.
//
//	logger.Ctx(ctx).Info().Str("action", "buy").Msg("...")
func Ctx(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if id := PassID(ctx); id != "" {
		l = l.With().Str("pass_id", id).Logger()
	}
	return &l
}
