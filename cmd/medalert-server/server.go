package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/medalert/medalert/internal/config"
	"github.com/medalert/medalert/internal/domain/alert"
	"github.com/medalert/medalert/internal/domain/policy"
	"github.com/medalert/medalert/internal/platform/auth"
	"github.com/medalert/medalert/internal/platform/db"
	"github.com/medalert/medalert/internal/platform/metrics"
	"github.com/medalert/medalert/internal/platform/middleware"
	"github.com/medalert/medalert/internal/platform/realtime"
	"github.com/medalert/medalert/internal/platform/scheduler"
)

const (
	shutdownTimeout = 10 * time.Second
	requestTimeout  = 15 * time.Second
	streamPath      = "/alerts/stream"
)

// app holds the wired components of one replica.
type app struct {
	echo      *echo.Echo
	service   *alert.Service
	scheduler *scheduler.Scheduler
	hub       *realtime.Hub
	relay     *realtime.Relay
}

// buildApp wires the engine around repo. rdb may be nil, in which case live
// events only reach clients connected to this replica.
func buildApp(cfg *config.Config, repo alert.Repository, resolver *policy.Resolver, health db.Pinger, rdb *redis.Client, logger zerolog.Logger) (*app, error) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	hub := realtime.NewHub()
	hub.SetMetrics(m)

	var publisher realtime.Publisher = hub
	var relay *realtime.Relay
	if rdb != nil {
		relay = realtime.NewRelay(hub, rdb, cfg.RedisChannel, logger)
		relay.SetMetrics(m)
		publisher = relay
	}

	svc := alert.NewService(repo, resolver, publisher, logger)
	svc.SetMetrics(m)
	retry := alert.DefaultRetryPolicy
	if cfg.StoreRetryAttempts > 0 {
		retry.Attempts = cfg.StoreRetryAttempts
	}
	svc.SetRetryPolicy(retry)

	sched := scheduler.New(svc, svc, logger)
	sched.SetMetrics(m)
	if cfg.SchedulerPollInterval > 0 {
		sched.PollInterval = cfg.SchedulerPollInterval
	}
	if cfg.SchedulerResyncInterval > 0 {
		sched.ResyncInterval = cfg.SchedulerResyncInterval
	}
	if cfg.SchedulerWorkers > 0 {
		sched.Workers = cfg.SchedulerWorkers
	}
	svc.SetScheduler(sched)

	authMW, err := authMiddleware(cfg)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":            "ok",
			"pending_deadlines": sched.Len(),
			"subscribers":       hub.Count(),
		})
	})
	if health != nil {
		e.GET("/health/db", db.HealthHandler(health, 5*time.Second))
	}
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	rateCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateCfg.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rateCfg.BurstSize = cfg.RateLimitBurst
	}

	api := e.Group("/api/v1",
		authMW,
		middleware.RateLimit(rateCfg),
		middleware.BodyLimit("64K"),
		middleware.RequestTimeout(requestTimeout, streamPath),
	)
	realtime.NewHandler(hub, cfg.WSSendBuffer, cfg.CORSOrigins, logger).RegisterRoutes(api)
	alert.NewHandler(svc).RegisterRoutes(api)

	return &app{echo: e, service: svc, scheduler: sched, hub: hub, relay: relay}, nil
}

func authMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}
	if cfg.IsDev() && key == nil && cfg.AuthJWKSURL == "" {
		return auth.DevAuthMiddleware(), nil
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: key,
	}), nil
}

// run serves HTTP and runs the scheduler and relay until ctx is cancelled,
// then drains connections within shutdownTimeout.
func (a *app) run(ctx context.Context, addr string, logger zerolog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.scheduler.Start(gctx)
	})

	if a.relay != nil {
		g.Go(func() error {
			// the relay reconnects until shutdown; local delivery works meanwhile
			eb := backoff.NewExponentialBackOff()
			eb.MaxElapsedTime = 0
			eb.MaxInterval = 30 * time.Second
			return backoff.RetryNotify(func() error {
				return a.relay.Run(gctx)
			}, backoff.WithContext(eb, gctx), func(err error, wait time.Duration) {
				logger.Warn().Err(err).Dur("retry_in", wait).Msg("relay disconnected")
			})
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := a.echo.Shutdown(shutdownCtx)
		a.hub.Close()
		return err
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolver, err := policy.Load(cfg.EscalationPolicyFile)
	if err != nil {
		return fmt.Errorf("escalation policy: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, 30*time.Second, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
	} else {
		logger.Warn().Msg("REDIS_URL not set, live events stay on this replica")
	}

	a, err := buildApp(cfg, alert.NewRepoPG(pool), resolver, pool, rdb, logger)
	if err != nil {
		return err
	}

	err = a.run(ctx, ":"+cfg.Port, logger)
	logger.Info().Msg("server stopped")
	return err
}
