package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	jwttoken "dukcapil/internal/jwt_token"
	"dukcapil/internal/platform/httpserver"
	platformmetrics "dukcapil/internal/platform/metrics"
	"dukcapil/internal/ratelimit"
	"dukcapil/internal/workflow/handler"
	"dukcapil/internal/workflow/metrics"
	"dukcapil/pkg/platform/httputil"
	"dukcapil/pkg/platform/middleware/auth"
	"dukcapil/pkg/platform/middleware/request"
	"dukcapil/pkg/platform/middleware/requesttime"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the workflow, identity and inspection endpoints.

Examples:
  DUKCAPIL_REGISTRY_OFFICES=0xabc dukcapil serve
  DUKCAPIL_DATABASE_URL=postgres://... DUKCAPIL_BLOB_DRIVER=s3 dukcapil serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.registerOffices(ctx); err != nil {
		return err
	}
	auditor, runAudit, err := a.newAuditPublisher()
	if err != nil {
		return err
	}
	svc, err := a.workflow(metrics.New(), auditor)
	if err != nil {
		return err
	}

	tokens := jwttoken.NewJWTService(a.cfg.Server.JWTSigningKey, a.cfg.Server.JWTIssuer)
	h := handler.New(svc, a.identity, a.logger)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recover(a.logger))
	r.Use(request.Logger(a.logger))
	r.Use(requesttime.Middleware(time.Now))
	r.Use(platformmetrics.New().Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", a.handleReady)
	r.Handle("/metrics", promhttp.Handler())
	h.RegisterPublic(r)
	limiter := ratelimit.NewMiddleware(a.rateLimitStore(), a.cfg.RateLimit.Writes, a.cfg.RateLimit.Window, a.logger)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireActor(tokens, a.logger))
		r.Use(limiter.Writes)
		h.Register(r)
	})

	srv := httpserver.New(a.cfg.Server, r)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.InfoContext(gctx, "starting dukcapil", "addr", a.cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := runAudit(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		a.logger.InfoContext(shutdownCtx, "shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
