// Package service is the application workflow: it guards every transition
// of an application and, on registry approval, runs the family-card mutation
// and commits its effects to the ledger.
package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"dukcapil/internal/audit"
	"dukcapil/internal/familycard/event"
	familymodels "dukcapil/internal/familycard/models"
	"dukcapil/internal/familycard/mutation"
	"dukcapil/internal/history"
	"dukcapil/internal/identity"
	"dukcapil/internal/nikindex"
	"dukcapil/internal/workflow/metrics"
	"dukcapil/internal/workflow/models"
	"dukcapil/internal/workflow/store"
	id "dukcapil/pkg/domain"
	dErrors "dukcapil/pkg/domain-errors"
	"dukcapil/pkg/platform/sentinel"
)

// Documents is the encrypted document store.
type Documents interface {
	Put(ctx context.Context, v any) (id.ContentID, error)
	Get(ctx context.Context, cid id.ContentID, v any) error
	PutBytes(ctx context.Context, plain []byte) (id.ContentID, error)
	PutCard(ctx context.Context, card *familymodels.FamilyCard) (id.ContentID, error)
	GetCard(ctx context.Context, cid id.ContentID) (*familymodels.FamilyCard, error)
	PutEnvelope(ctx context.Context, env event.Envelope) (id.ContentID, error)
	GetPayload(ctx context.Context, cid id.ContentID) (event.Metadata, event.Payload, error)
}

// Identity answers who an actor is and binds citizen wallets.
type Identity interface {
	Resolve(ctx context.Context, actor id.ActorID) (identity.Principal, error)
	VillageExists(ctx context.Context, vid id.VillageID) (bool, error)
	RegisterCitizen(ctx context.Context, nik id.NIK, wallet id.ActorID) (identity.Citizen, error)
}

// AuditPublisher receives workflow audit events.
type AuditPublisher interface {
	Emit(ctx context.Context, e audit.Event) error
}

// Service coordinates the ledger, the document store and the mutation engine.
type Service struct {
	store    store.Store
	docs     Documents
	identity Identity
	engine   *mutation.Engine
	index    *nikindex.Repository
	history  *history.Repository

	gate       models.MergeGate
	attempts   int
	historyCap int

	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor AuditPublisher
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

// WithMergeGate selects which step must precede registry approval of a
// merge into an existing card. Default is GateHead.
func WithMergeGate(g models.MergeGate) Option {
	return func(s *Service) { s.gate = g }
}

// WithAttempts bounds how often a registry approval is retried after losing
// the index pointer race.
func WithAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithHistoryCap bounds the retained entries of each card's history.
func WithHistoryCap(n int) Option {
	return func(s *Service) { s.historyCap = n }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func New(st store.Store, docs Documents, ident Identity, engine *mutation.Engine, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("ledger store is required")
	}
	if docs == nil {
		return nil, errors.New("document store is required")
	}
	if ident == nil {
		return nil, errors.New("identity registry is required")
	}
	if engine == nil {
		return nil, errors.New("mutation engine is required")
	}
	s := &Service{
		store:      st,
		docs:       docs,
		identity:   ident,
		engine:     engine,
		gate:       models.GateHead,
		attempts:   nikindex.DefaultAttempts,
		historyCap: history.DefaultCap,
		logger:     slog.Default(),
		tracer:     otel.Tracer("dukcapil/workflow"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.index = nikindex.NewRepository(docs, st, nikindex.WithLogger(s.logger), nikindex.WithAttempts(s.attempts))
	s.history = history.NewRepository(docs, s.historyCap)
	return s, nil
}

// MergeGate reports the configured merge policy.
func (s *Service) MergeGate() models.MergeGate { return s.gate }

func (s *Service) emit(ctx context.Context, e audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, e); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"error", err,
			"action", string(e.Action),
			"application_id", int64(e.ApplicationID),
		)
	}
}

// loadApplication maps a missing application to CodeNotFound.
func (s *Service) loadApplication(ctx context.Context, appID id.ApplicationID) (*models.Application, error) {
	app, err := s.store.FindByID(ctx, appID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "application %d not found", appID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "load application")
	}
	return app, nil
}
