package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes capture events to an slog.Logger.
// Useful for development when you want to see stream activity in the console.
type SlogAdapter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogAdapter creates a SlogAdapter that writes to logger at Debug level.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger, level: slog.LevelDebug}
}

// WithLevel returns a copy of the adapter that logs at level.
func (a *SlogAdapter) WithLevel(level slog.Level) *SlogAdapter {
	return &SlogAdapter{logger: a.logger, level: level}
}

// Log writes the event to the slog logger.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.ConnectionID != "" {
		attrs = append(attrs, slog.String("conn_id", event.ConnectionID))
	}
	if event.Service != "" {
		attrs = append(attrs, slog.String("service", event.Service))
	}
	if event.Key != "" {
		attrs = append(attrs, slog.String("key", event.Key))
	}
	if event.URL != "" {
		attrs = append(attrs, slog.String("url", event.URL))
	}

	switch {
	case event.Message != nil:
		attrs = append(attrs,
			slog.String("event", event.Message.Event),
			slog.String("msg_id", event.Message.ID),
			slog.Int("size", event.Message.Size),
		)
		if event.Message.Truncated {
			attrs = append(attrs, slog.Bool("truncated", true))
		}
	case event.Update != nil:
		attrs = append(attrs,
			slog.String("source", event.Update.Source.String()),
			slog.String("outcome", event.Update.Outcome.String()),
		)
		if event.Update.Attempt > 0 {
			attrs = append(attrs, slog.Int("attempt", event.Update.Attempt))
		}
		if event.Update.Duration != nil {
			attrs = append(attrs, slog.Duration("duration", *event.Update.Duration))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Control != nil:
		attrs = append(attrs, slog.String("ctrl_type", event.Control.Type.String()))
		if event.Control.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.Control.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
		)
		if event.Error.Kind != "" {
			attrs = append(attrs, slog.String("error_kind", event.Error.Kind))
		}
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
		if event.Error.StatusCode != nil {
			attrs = append(attrs, slog.Int("status_code", *event.Error.StatusCode))
		}
	}

	a.logger.LogAttrs(context.Background(), a.level, "stream", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
