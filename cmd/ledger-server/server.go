package main

import (
	"context"
	"crypto/rand"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicledger/internal/config"
	"github.com/ehr/clinicledger/internal/domain/audit"
	"github.com/ehr/clinicledger/internal/domain/documents"
	"github.com/ehr/clinicledger/internal/domain/ledger"
	"github.com/ehr/clinicledger/internal/domain/transcription"
	"github.com/ehr/clinicledger/internal/platform/auth"
	"github.com/ehr/clinicledger/internal/platform/db"
	"github.com/ehr/clinicledger/internal/platform/middleware"
	"github.com/ehr/clinicledger/internal/platform/telemetry"
)

// app holds the wired components shared by the HTTP server and the workers.
type app struct {
	ledger        *ledger.Service
	documents     *documents.Service
	transcription *transcription.Service
	river         *river.Client[pgx.Tx]
}

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := openPool(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	key, err := signingKey(cfg, logger)
	if err != nil {
		return err
	}

	var metrics *telemetry.Metrics
	if cfg.MetricsEnabled {
		metrics = telemetry.NewMetrics()
	}

	a, err := wire(pool, cfg, key, metrics, logger)
	if err != nil {
		return err
	}

	// River is stopped explicitly below so in-flight jobs can finish.
	if err := a.river.Start(context.WithoutCancel(ctx)); err != nil {
		return errors.Wrap(err, "start transcription workers")
	}

	e := newEcho(cfg, logger, metrics, pool)
	registerRoutes(e, cfg, a)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := a.river.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("river shutdown")
	}
	logger.Info().Msg("stopped")
	return nil
}

// signingKey returns SIGNATURE_KEY, or a random per-process key outside
// production. Signatures made with a random key stop verifying on restart.
func signingKey(cfg *config.Config, logger zerolog.Logger) ([]byte, error) {
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}
	if key != nil {
		return key, nil
	}
	if cfg.IsProduction() {
		return nil, errors.New("SIGNATURE_KEY is required in production")
	}

	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "generate signing key")
	}
	logger.Warn().Msg("SIGNATURE_KEY not set, using an ephemeral signing key: " +
		"documents signed by this process will report intact=false after a restart")
	return key, nil
}

func gatePolicy(cfg *config.Config) auth.Policy {
	return auth.RequireModule(cfg.AuthRequiredModule, auth.MVPPolicy{})
}

func wire(pool *pgxpool.Pool, cfg *config.Config, key []byte, metrics *telemetry.Metrics, logger zerolog.Logger) (*app, error) {
	tx := db.NewTxManager(pool)
	recorder := audit.NewRecorder(audit.NewRepoPG(pool), metrics)
	guard := audit.NewGuard(auth.NewGate(gatePolicy(cfg)), recorder, metrics)

	payloads, err := ledger.NewPayloadValidator()
	if err != nil {
		return nil, err
	}
	logger.Info().Strs("event_schemas", payloads.KnownTypes()).Msg("event payload schemas loaded")
	ledgerSvc := ledger.NewService(ledger.NewRepoPG(pool), tx, guard, recorder, payloads, metrics)

	signer, err := documents.NewSigner(key, cfg.SignatureIssuer)
	if err != nil {
		return nil, err
	}
	documentSvc := documents.NewService(documents.NewRepoPG(pool), tx, guard, recorder, signer, metrics)

	jobs := transcription.NewRepoPG(pool)
	workers := river.NewWorkers()
	river.AddWorker(workers, transcription.NewWorker(jobs, nil, metrics, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			transcription.QueueName: {MaxWorkers: cfg.TranscriptionWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create river client")
	}

	transcriptionSvc := transcription.NewService(jobs, tx, guard, recorder,
		transcription.NewRiverEnqueuer(riverClient), ledgerSvc, metrics)

	return &app{
		ledger:        ledgerSvc,
		documents:     documentSvc,
		transcription: transcriptionSvc,
		river:         riverClient,
	}, nil
}

func newEcho(cfg *config.Config, logger zerolog.Logger, metrics *telemetry.Metrics, pinger db.Pinger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit("256K", "2M"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pinger))
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}
	return e
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthHMACSecret),
	})
}

func registerRoutes(e *echo.Echo, cfg *config.Config, a *app) {
	api := e.Group("/api/v1", authMiddleware(cfg), auth.RequireAuthenticated(), middleware.RequestTimeout(cfg.RequestTimeout))
	ledger.NewHandler(a.ledger).RegisterRoutes(api)
	documents.NewHandler(a.documents).RegisterRoutes(api)
	transcription.NewHandler(a.transcription).RegisterRoutes(api)
}
