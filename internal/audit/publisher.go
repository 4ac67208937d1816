package audit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"dukcapil/pkg/requestcontext"
)

// Sink persists or forwards published events.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// Publisher stamps events and fans them out to every sink. It is
// append-only; sinks decide where events end up so tests can swap them
// easily.
type Publisher struct {
	sinks []Sink
}

func NewPublisher(sinks ...Sink) *Publisher {
	return &Publisher{sinks: sinks}
}

// Emit fills ID, Timestamp and RequestID when unset and writes e to all
// sinks. A failing sink does not stop the others; their errors are joined.
func (p *Publisher) Emit(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = requestcontext.Now(ctx).UTC()
	}
	if e.RequestID == "" {
		e.RequestID = requestcontext.RequestID(ctx)
	}
	var errs []error
	for _, s := range p.sinks {
		if err := s.Write(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to a slog logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(ctx context.Context, e Event) error {
	attrs := []any{
		"audit_id", e.ID,
		"action", string(e.Action),
		"actor", string(e.Actor),
		"request_id", e.RequestID,
	}
	if e.ApplicationID != 0 {
		attrs = append(attrs, "application_id", int64(e.ApplicationID))
	}
	if e.EventType != "" {
		attrs = append(attrs, "event_type", e.EventType)
	}
	if e.To != "" {
		attrs = append(attrs, "from", e.From, "to", e.To, "decision", e.Decision)
	}
	if len(e.Cards) > 0 {
		attrs = append(attrs, "cards", e.Cards, "index_content_id", string(e.IndexContentID))
	}
	s.logger.InfoContext(ctx, "audit", attrs...)
	return nil
}
