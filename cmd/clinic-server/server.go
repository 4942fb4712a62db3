package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/sunflower/clinic/internal/config"
	"github.com/sunflower/clinic/internal/domain/auditevent"
	"github.com/sunflower/clinic/internal/domain/encounter"
	"github.com/sunflower/clinic/internal/domain/labattachment"
	"github.com/sunflower/clinic/internal/domain/queue"
	"github.com/sunflower/clinic/internal/domain/stationrecord"
	"github.com/sunflower/clinic/internal/domain/workflow"
	"github.com/sunflower/clinic/internal/platform/apperr"
	"github.com/sunflower/clinic/internal/platform/auth"
	"github.com/sunflower/clinic/internal/platform/blobstore"
	"github.com/sunflower/clinic/internal/platform/db"
	"github.com/sunflower/clinic/internal/platform/middleware"
	"github.com/sunflower/clinic/internal/platform/telemetry"
)

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer(migrate bool) error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger = newLogger(cfg.Env)
	if cfg.ResolvedAuthMode() == "development" {
		logger.Warn().Msg("development auth is active: X-Dev-User / X-Dev-Role headers are trusted, unauthenticated requests run as admin")
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("failed to open storage")
	}
	defer st.close()
	logger.Info().Str("driver", st.driver).Msg("storage ready")

	if migrate {
		source, err := migrationSource(cfg.MigrationsDir, st.driver)
		if err == nil {
			err = st.migrate(ctx, source)
		}
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}

	blobs, err := blobstore.Open(ctx, blobstore.Config{
		Driver: cfg.BlobDriver,
		S3: blobstore.S3Config{
			Bucket:          cfg.BlobS3Bucket,
			Region:          cfg.BlobS3Region,
			Endpoint:        cfg.BlobS3Endpoint,
			PathStyle:       cfg.BlobS3PathStyle,
			AccessKeyID:     cfg.BlobS3AccessKeyID,
			SecretAccessKey: cfg.BlobS3SecretAccessKey,
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open blob store")
	}
	logger.Info().Str("driver", blobs.Driver()).Msg("blob store ready")

	tp, err := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceName:    "clinic-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
		JaegerEndpoint: cfg.TracingJaegerEndpoint,
		MetricsEnabled: telemetry.BoolPtr(cfg.MetricsEnabled),
		TracingEnabled: telemetry.BoolPtr(cfg.TracingEnabled),
		SampleRate:     cfg.TracingSampleRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start telemetry")
	}

	e, err := newServer(cfg, logger, st, blobs, tp)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("telemetry shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires services and routes onto a fresh echo instance.
func newServer(cfg *config.Config, logger zerolog.Logger, st *stores, blobs blobstore.Store, tp *telemetry.TelemetryProvider) (*echo.Echo, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Timeout()
	if err != nil {
		return nil, err
	}
	metrics := tp.Metrics()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(logger))
	e.Use(tp.TracingMiddleware())
	e.Use(tp.MetricsMiddleware())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{
		HSTSMaxAge:     365 * 24 * time.Hour,
		DownloadRoutes: []string{"/api/v1" + labattachment.DownloadRoute},
	}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders:  []string{"Authorization", "Content-Type", "If-Match", middleware.RequestIDHeader, "X-Tenant-ID", auth.HeaderDevUser, auth.HeaderDevRole},
		ExposeHeaders: []string{"ETag", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, strconv.FormatInt(cfg.BlobMaxBytes+1<<20, 10)))
	e.Use(middleware.RequestTimeout(timeout))

	switch cfg.ResolvedAuthMode() {
	case "development":
		e.Use(auth.DevAuthMiddleware())
	default:
		jwtCfg := auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}
		if cfg.AuthSigningKey != "" {
			jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
		}
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(st.driver, st.pinger, st.stats))
	if cfg.MetricsEnabled {
		e.GET("/metrics", tp.PrometheusHandler())
	}

	apiV1 := e.Group("/api/v1")
	if st.tenant != nil {
		apiV1.Use(st.tenant)
	}
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg.BurstSize = middleware.DefaultRateLimitConfig().BurstSize
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.Audit(logger))

	auditSvc := auditevent.NewService(st.audit)
	encounterSvc := encounter.NewService(st.encounters, auditSvc, st.tx, loc)
	attachmentSvc := labattachment.NewService(st.attachments, blobs, st.encounters, auditSvc, st.tx, cfg.BlobMaxBytes, logger)
	recordSvc := stationrecord.NewService(st.records, st.encounters, auditSvc, st.tx, metrics).WithAttachments(attachmentSvc)
	engine := workflow.NewEngine(st.encounters, recordSvc, auditSvc, st.tx, metrics, logger)
	projection := queue.NewProjection(st.encounters, encounterSvc, metrics)

	encounter.NewHandler(encounterSvc, projection).RegisterRoutes(apiV1)
	workflow.NewHandler(engine, encounterSvc).RegisterRoutes(apiV1)
	stationrecord.NewHandler(recordSvc).RegisterRoutes(apiV1)
	queue.NewHandler(projection).RegisterRoutes(apiV1)
	auditevent.NewHandler(auditSvc).RegisterRoutes(apiV1)
	labattachment.NewHandler(attachmentSvc).RegisterRoutes(apiV1)

	return e, nil
}
