package audit

import (
	"context"
	"errors"
	"log/slog"
)

// ErrQueueFull is returned by Queue.Write when the buffer is exhausted.
var ErrQueueFull = errors.New("audit queue full")

// Queue is a Sink that buffers events for a Worker, so a slow downstream
// sink never holds up a request.
type Queue struct {
	ch chan Event
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{ch: make(chan Event, size)}
}

func (q *Queue) Write(_ context.Context, e Event) error {
	select {
	case q.ch <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Worker drains a Queue into a downstream sink.
type Worker struct {
	sink   Sink
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(sink Sink, q *Queue, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{sink: sink, inbox: q.ch, logger: logger}
}

// Run forwards events until ctx is done. Write failures are logged and the
// event is dropped.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.sink.Write(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "failed to forward audit event",
					"error", err,
					"audit_id", event.ID,
					"action", string(event.Action),
				)
			}
		}
	}
}
