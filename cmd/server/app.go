package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"dukcapil/internal/audit"
	"dukcapil/internal/contentstore"
	"dukcapil/internal/document"
	"dukcapil/internal/familycard/mutation"
	"dukcapil/internal/familycard/validation"
	"dukcapil/internal/history"
	"dukcapil/internal/identity"
	"dukcapil/internal/nikindex"
	"dukcapil/internal/platform/config"
	"dukcapil/internal/platform/logger"
	"dukcapil/internal/platform/postgres"
	platformredis "dukcapil/internal/platform/redis"
	"dukcapil/internal/ratelimit"
	"dukcapil/internal/workflow/metrics"
	"dukcapil/internal/workflow/models"
	"dukcapil/internal/workflow/service"
	"dukcapil/internal/workflow/store"
	id "dukcapil/pkg/domain"
	dErrors "dukcapil/pkg/domain-errors"
	"dukcapil/pkg/platform/httputil"
	"dukcapil/pkg/platform/seal"
	platformstrings "dukcapil/pkg/platform/strings"
)

// app holds every long-lived dependency. Commands build it once and close it
// on exit.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *sql.DB
	redis    *platformredis.Client
	docs     *document.Adapter
	ledger   store.Store
	identity *identity.Service
	closers  []io.Closer
}

// newApp opens storage. It does not start the HTTP server or audit workers.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger.New(cfg.Log)}

	sealer, err := seal.NewPassphrase(cfg.Documents.Passphrase, cfg.Documents.Salt)
	if err != nil {
		return nil, fmt.Errorf("derive document key: %w", err)
	}

	a.redis, err = platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	storeOpts := []contentstore.Option{contentstore.WithLogger(a.logger)}
	if a.redis != nil {
		storeOpts = append(storeOpts, contentstore.WithRedisCache(a.redis.Client, cfg.Redis.CacheTTL))
		a.closers = append(a.closers, a.redis)
	}
	blobs, closer, err := contentstore.Open(ctx, cfg.ContentStore, storeOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closer)
	a.docs = document.New(blobs, sealer, document.WithLogger(a.logger))

	a.db, err = postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.db != nil {
		a.closers = append(a.closers, a.db)
		if err := postgres.Migrate(ctx, a.db); err != nil {
			a.Close()
			return nil, err
		}
		a.ledger = store.NewPostgres(a.db)
		a.identity = identity.NewService(identity.NewPostgres(a.db), identity.WithLogger(a.logger))
		a.logger.InfoContext(ctx, "ledger ready", "backend", "postgres")
	} else {
		a.ledger = store.NewInMemory()
		a.identity = identity.NewService(identity.NewInMemory(), identity.WithLogger(a.logger))
		a.logger.WarnContext(ctx, "no DUKCAPIL_DATABASE_URL; ledger and identity registry are in memory")
	}
	return a, nil
}

// rules converts the workflow configuration.
func (a *app) rules() (validation.Rules, error) {
	policy, err := validation.ParseHeadDeathPolicy(a.cfg.Workflow.HeadDeathPolicy)
	if err != nil {
		return validation.Rules{}, err
	}
	return validation.Rules{
		AdulthoodYears:   a.cfg.Workflow.AdulthoodYears,
		MinMarriageAge:   a.cfg.Workflow.MinMarriageAge,
		StrictReferences: a.cfg.Workflow.StrictReferences,
		HeadDeathPolicy:  policy,
	}, nil
}

// workflow builds the ledger service.
func (a *app) workflow(m *metrics.Metrics, auditor service.AuditPublisher) (*service.Service, error) {
	rules, err := a.rules()
	if err != nil {
		return nil, err
	}
	gate, err := models.ParseMergeGate(a.cfg.Workflow.MergeGate)
	if err != nil {
		return nil, err
	}
	engine := mutation.NewEngine(rules, mutation.WithLogger(a.logger))
	opts := []service.Option{
		service.WithLogger(a.logger),
		service.WithMergeGate(gate),
		service.WithAttempts(a.cfg.Workflow.IndexCommitAttempts),
		service.WithHistoryCap(a.cfg.Workflow.HistoryCap),
	}
	if m != nil {
		opts = append(opts, service.WithMetrics(m))
	}
	if auditor != nil {
		opts = append(opts, service.WithAuditPublisher(auditor))
	}
	return service.New(a.ledger, a.docs, a.identity, engine, opts...)
}

// registerOffices registers the configured registry offices. Offices already
// on record are skipped.
func (a *app) registerOffices(ctx context.Context) error {
	for _, raw := range platformstrings.DedupeAndTrimLower(a.cfg.Server.RegistryOffices) {
		actor, err := id.ParseActorID(raw)
		if err != nil {
			return fmt.Errorf("registry office %q: %w", raw, err)
		}
		err = a.identity.RegisterRegistryOffice(ctx, actor)
		switch {
		case err == nil:
			a.logger.InfoContext(ctx, "registry office registered", "actor", string(actor))
		case dErrors.HasCode(err, dErrors.CodeConflict):
		default:
			return err
		}
	}
	return nil
}

// newAuditPublisher fans audit events out to the log and, when brokers are
// configured, to Kafka through a bounded queue. run drains the queue until
// ctx is cancelled.
func (a *app) newAuditPublisher() (pub *audit.Publisher, run func(ctx context.Context) error, err error) {
	sinks := []audit.Sink{audit.NewLogSink(a.logger)}
	run = func(context.Context) error { return nil }
	if len(a.cfg.Kafka.Brokers) > 0 {
		kafka, err := audit.NewKafkaSink(platformstrings.DedupeAndTrim(a.cfg.Kafka.Brokers), a.cfg.Kafka.Topic)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka audit sink: %w", err)
		}
		queue := audit.NewQueue(1024)
		worker := audit.NewWorker(audit.NewBreaker(kafka, 5, time.Minute, a.logger), queue, a.logger)
		sinks = append(sinks, queue)
		run = func(ctx context.Context) error {
			defer kafka.Close()
			return worker.Run(ctx)
		}
	}
	return audit.NewPublisher(sinks...), run, nil
}

// rateLimitStore shares counters through Redis when it is configured.
func (a *app) rateLimitStore() ratelimit.Store {
	if a.redis != nil {
		return ratelimit.NewRedis(a.redis.Client)
	}
	return ratelimit.NewMemory()
}

func (a *app) indexRepository() *nikindex.Repository {
	return nikindex.NewRepository(a.docs, a.ledger, nikindex.WithLogger(a.logger))
}

func (a *app) historyRepository() *history.Repository {
	return history.NewRepository(a.docs, a.cfg.Workflow.HistoryCap)
}

// handleReady reports whether the ledger database and cache are reachable.
func (a *app) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	checks := map[string]string{"postgres": "ok", "redis": "ok"}
	status := http.StatusOK
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			checks["postgres"], status = err.Error(), http.StatusServiceUnavailable
		}
	}
	if err := a.redis.Health(ctx); err != nil {
		checks["redis"], status = err.Error(), http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, checks)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("close resources", "error", err)
	}
}
