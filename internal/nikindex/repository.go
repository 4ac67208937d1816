package nikindex

import (
	"context"
	"errors"
	"log/slog"

	id "dukcapil/pkg/domain"
	dErrors "dukcapil/pkg/domain-errors"
	"dukcapil/pkg/platform/sentinel"
)

// DefaultAttempts bounds the optimistic retry loop.
const DefaultAttempts = 5

// Documents persists snapshots as content-store blobs.
type Documents interface {
	Put(ctx context.Context, v any) (id.ContentID, error)
	Get(ctx context.Context, cid id.ContentID, v any) error
}

// Pointer is the ledger's single mutable "current index" field.
type Pointer interface {
	IndexPointer(ctx context.Context) (id.ContentID, error)
	// SetIndexPointer swaps the pointer only when it still equals expected,
	// returning sentinel.ErrPointerMoved otherwise.
	SetIndexPointer(ctx context.Context, expected, next id.ContentID) error
}

// Repository loads and commits index snapshots.
type Repository struct {
	docs     Documents
	pointer  Pointer
	attempts int
	logger   *slog.Logger
}

type Option func(*Repository)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) { r.logger = logger }
}

// WithAttempts sets how many times Update retries after losing a race.
func WithAttempts(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.attempts = n
		}
	}
}

func NewRepository(docs Documents, pointer Pointer, opts ...Option) *Repository {
	r := &Repository{docs: docs, pointer: pointer, attempts: DefaultAttempts, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load reads the current pointer and fetches the snapshot it names.
func (r *Repository) Load(ctx context.Context) (Snapshot, error) {
	ptr, err := r.pointer.IndexPointer(ctx)
	if err != nil {
		return Snapshot{}, dErrors.Wrap(err, dErrors.CodeStorage, "read index pointer")
	}
	return r.LoadAt(ctx, ptr)
}

// LoadAt fetches the snapshot stored at ptr. An empty ptr is the empty index.
func (r *Repository) LoadAt(ctx context.Context, ptr id.ContentID) (Snapshot, error) {
	if ptr.IsNil() {
		return Snapshot{Index: Empty()}, nil
	}
	var idx Index
	if err := r.docs.Get(ctx, ptr, &idx); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Index: idx, ContentID: ptr}, nil
}

// Commit persists idx and returns its ContentID. It does not move the ledger
// pointer; an uncommitted snapshot is an orphan blob and harmless.
func (r *Repository) Commit(ctx context.Context, idx Index) (id.ContentID, error) {
	return r.docs.Put(ctx, idx)
}

// Update runs load, fn, patch, commit and swap, restarting from a fresh load
// whenever the swap reports that another writer committed first.
func (r *Repository) Update(ctx context.Context, fn func(ctx context.Context, snap Snapshot) ([]Change, error)) (Snapshot, error) {
	var out Snapshot
	err := Retry(ctx, r.attempts, r.logger, func(ctx context.Context, _ int) error {
		snap, err := r.Load(ctx)
		if err != nil {
			return err
		}
		changes, err := fn(ctx, snap)
		if err != nil {
			return err
		}
		next := snap.Index.Patch(changes)
		cid, err := r.Commit(ctx, next)
		if err != nil {
			return err
		}
		if err := r.pointer.SetIndexPointer(ctx, snap.ContentID, cid); err != nil {
			return err
		}
		out = Snapshot{Index: next, ContentID: cid}
		return nil
	})
	return out, err
}

// Retry calls fn until it succeeds, fails with something other than
// sentinel.ErrPointerMoved, or attempts are exhausted. Exhaustion surfaces as
// a retryable CodeConcurrency error.
func Retry(ctx context.Context, attempts int, logger *slog.Logger, fn func(ctx context.Context, attempt int) error) error {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "index update cancelled")
		}
		last = fn(ctx, attempt)
		if last == nil {
			return nil
		}
		if !errors.Is(last, sentinel.ErrPointerMoved) {
			return last
		}
		logger.InfoContext(ctx, "index pointer moved, retrying", "attempt", attempt, "max_attempts", attempts)
	}
	return dErrors.Wrap(last, dErrors.CodeConcurrency, "index pointer kept moving")
}
