package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/narenallam/e-commerce-saga/internal/communicator"
	"github.com/narenallam/e-commerce-saga/internal/config"
	"github.com/narenallam/e-commerce-saga/internal/events"
	"github.com/narenallam/e-commerce-saga/internal/handler"
	"github.com/narenallam/e-commerce-saga/internal/journal"
	"github.com/narenallam/e-commerce-saga/internal/metrics"
	"github.com/narenallam/e-commerce-saga/internal/middleware"
	"github.com/narenallam/e-commerce-saga/internal/registry"
	"github.com/narenallam/e-commerce-saga/internal/saga"
	"github.com/narenallam/e-commerce-saga/internal/service"
	"github.com/narenallam/e-commerce-saga/internal/ws"
	"github.com/narenallam/e-commerce-saga/pkg/health"
	"github.com/narenallam/e-commerce-saga/pkg/logger"
	"github.com/narenallam/e-commerce-saga/pkg/tracing"
)

type redisHealthClient struct {
	client *redis.Client
}

func (c redisHealthClient) Ping(ctx context.Context) health.RedisPingCmd {
	return c.client.Ping(ctx)
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger.SetLevel(cfg.LogLevel)
	l := logger.New(cfg.ServiceName, os.Stdout)
	l.Infof("starting coordinator", map[string]interface{}{"port": cfg.HTTPPort})

	tracingShutdown, err := tracing.Init(tracing.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.JaegerEndpoint,
		Enabled:     cfg.TracingEnabled,
		SampleRate:  cfg.TraceSampleRate,
	})
	if err != nil {
		l.WithError(err).Error("tracing init failed")
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracingShutdown(shutdownCtx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthz := health.New()

	// Journal backend and saga event channel.
	var rec saga.Journal = journal.Nop{}
	var redisClient *redis.Client
	var db *sql.DB

	switch cfg.Journal {
	case "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			l.WithError(err).Error("redis connect failed")
			os.Exit(1)
		}
		cancel()
		l.Info("redis journal enabled")
		rec = journal.NewRedisRecorder(redisClient)
		healthz.Register(health.NewRedisChecker(redisHealthClient{client: redisClient}))
	case "postgres":
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			l.WithError(err).Error("postgres open failed")
			os.Exit(1)
		}
		defer db.Close()

		setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pgRec, err := journal.NewPostgresRecorderWithSchema(setupCtx, db)
		cancel()
		if err != nil {
			l.WithError(err).Error("postgres journal init failed")
			os.Exit(1)
		}
		l.Info("postgres journal enabled")
		rec = pgRec
		healthz.Register(health.NewPostgresChecker(db))
	}

	hub := ws.NewHub(l)
	go hub.Run(ctx)

	sinks := events.Fanout{hub}
	if redisClient != nil {
		sinks = append(sinks, events.NewRedisPublisher(redisClient, cfg.EventChannel, l))
	}

	comm := communicator.New(communicator.Config{
		Timeout:       cfg.RequestTimeout,
		HealthTimeout: cfg.HealthTimeout,
		MaxAttempts:   cfg.MaxRetries,
		BackoffBase:   cfg.BackoffBase,
		BackoffMax:    cfg.BackoffMax,
	}, cfg.ParticipantURLs, l)

	engine := saga.NewEngine(comm, l,
		saga.WithJournal(rec),
		saga.WithEventSink(sinks),
	)

	reg := registry.New()
	sweeper, err := registry.NewSweeper(reg, cfg.RetentionCron, cfg.RetentionAge, l)
	if err != nil {
		l.WithError(err).Error("invalid retention cron expression")
		os.Exit(1)
	}
	sweeper.Start()
	defer sweeper.Stop()

	coord := service.New(cfg, comm, engine, reg, l)
	defer coord.Close()

	limiter := middleware.NewRateLimiter(cfg.OrderRate, cfg.OrderBurst)
	h := handler.New(coord, hub, limiter.Middleware, l)

	mux := http.NewServeMux()
	mux.Handle("/", h.Routes())
	mux.Handle("/metrics", metrics.Handler())
	for p, base := range cfg.ParticipantURLs {
		healthz.Register(health.NewHTTPChecker(string(p), base+"/health"))
	}
	healthz.SetReady(true)
	mux.HandleFunc("/health", healthz.HealthHandler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Infof("coordinator listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		l.Info("shutdown signal received")
	case err := <-errCh:
		l.WithError(err).Error("http server failed")
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.WithError(err).Error("graceful shutdown failed")
		os.Exit(1)
	}
	l.Info("coordinator stopped")
}
