package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a Breaker is shedding writes.
var ErrCircuitOpen = errors.New("audit sink circuit open")

// Breaker stops calling a failing sink for a cooldown period after
// threshold consecutive failures. After the cooldown one write is let
// through; success closes the circuit again.
type Breaker struct {
	sink      Sink
	threshold int
	cooldown  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

func NewBreaker(sink Sink, threshold int, cooldown time.Duration, logger *slog.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{sink: sink, threshold: threshold, cooldown: cooldown, logger: logger, now: time.Now}
}

func (b *Breaker) Write(ctx context.Context, e Event) error {
	if !b.allow() {
		return ErrCircuitOpen
	}
	if err := b.sink.Write(ctx, e); err != nil {
		b.recordFailure(ctx)
		return err
	}
	b.recordSuccess(ctx)
	return nil
}

// IsOpen reports whether writes are currently being shed.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.openUntil)
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.now().Before(b.openUntil)
}

func (b *Breaker) recordFailure(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = b.now().Add(b.cooldown)
		b.logger.WarnContext(ctx, "audit sink circuit opened",
			"failures", b.failures,
			"cooldown", b.cooldown.String(),
		)
	}
}

func (b *Breaker) recordSuccess(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures >= b.threshold {
		b.logger.InfoContext(ctx, "audit sink circuit closed")
	}
	b.failures = 0
	b.openUntil = time.Time{}
}
