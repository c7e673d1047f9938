package client

import (
	"context"

	"resilient/internal/apierr"
	"resilient/internal/logging"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warning"
	LevelError Level = "error"
)

// Notification is the user-facing message for a call outcome.
type Notification struct {
	Code    apierr.Code
	Message string
	Level   Level
}

// Notifier surfaces notifications to the user, e.g. as a toast.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

func (f NotifierFunc) Notify(ctx context.Context, n Notification) {
	f(ctx, n)
}

// LogNotifier writes notifications to a zerolog logger.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.Component(logger, "notifier")}
}

func (n *LogNotifier) Notify(_ context.Context, note Notification) {
	var ev *zerolog.Event
	switch note.Level {
	case LevelError:
		ev = n.logger.Error()
	case LevelWarn:
		ev = n.logger.Warn()
	default:
		ev = n.logger.Info()
	}
	ev.Str("code", string(note.Code)).Msg(note.Message)
}
