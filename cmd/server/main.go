package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"

	"registryd/internal/history"
	"registryd/internal/platform/config"
	"registryd/internal/platform/httpserver"
	"registryd/internal/platform/logger"
	platformmetrics "registryd/internal/platform/metrics"
	"registryd/internal/platform/middleware"
	platformredis "registryd/internal/platform/redis"
	"registryd/internal/poll/handler"
	pollservice "registryd/internal/poll/service"
	"registryd/internal/registry"
	"registryd/internal/resource/store"
	"registryd/internal/transfer"
	transferhandler "registryd/internal/transfer/handler"
	transfermetrics "registryd/internal/transfer/metrics"
	"registryd/internal/transfer/replay"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	policies, err := loadPolicies(cfg.Server.PolicyPath)
	if err != nil {
		log.Error("loading TLD policies", slog.String("error", err.Error()))
		os.Exit(1)
	}

	resourceStore, txRunner, dbClose, err := buildStore(cfg.Postgres)
	if err != nil {
		log.Error("initializing store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer dbClose()

	guard, redisClose, err := buildReplayGuard(cfg.Redis)
	if err != nil {
		log.Error("initializing replay guard", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer redisClose()

	publisher, publisherClose, err := buildPublisher(cfg.Kafka, log)
	if err != nil {
		log.Error("initializing history publisher", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer publisherClose()

	transferService := transfer.NewService(resourceStore, txRunner, policies,
		transfer.WithLogger(log),
		transfer.WithMetrics(transfermetrics.New()),
		transfer.WithReplayGuard(guard),
		transfer.WithHistoryPublisher(publisher),
	)
	pollService := pollservice.NewService(resourceStore, pollservice.WithLogger(log))

	router := chi.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestTime)
	router.Use(middleware.Logger(log))
	router.Use(middleware.Metrics(platformmetrics.New()))

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireRegistrar(log))
		r.Use(middleware.Superuser(cfg.Server.SuperuserToken))
		transferhandler.New(transferService, log).Register(r)
		handler.New(pollService, log).Register(r)
	})

	srv := httpserver.New(cfg.Server, router)

	log.Info("starting registryd", slog.String("addr", cfg.Server.Addr))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// loadPolicies reads the TLD policy file, or falls back to a default zone
// set for local development.
func loadPolicies(path string) (*registry.Policies, error) {
	if path == "" {
		return registry.NewPolicies(registry.DefaultPolicy("example")), nil
	}
	return registry.Load(path)
}

// buildStore selects PostgreSQL when configured and the in-memory store
// otherwise.
func buildStore(cfg config.PostgresConfig) (store.Store, store.Tx, func(), error) {
	if cfg.URL == "" {
		mem := store.NewInMemory()
		return mem, store.NewShardedTx(mem), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return store.NewPostgres(db), newTransferPostgresTx(db), func() { db.Close() }, nil
}

// buildReplayGuard selects Redis when configured and the in-memory guard
// otherwise.
func buildReplayGuard(cfg config.RedisConfig) (replay.Guard, func(), error) {
	client, err := platformredis.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		return replay.NewInMemory(), func() {}, nil
	}
	return replay.NewRedisGuard(client.Client), func() { client.Close() }, nil
}

// buildPublisher streams history entries to Kafka when brokers are
// configured, and to the structured log otherwise.
func buildPublisher(cfg config.KafkaConfig, log *slog.Logger) (*history.Publisher, func(), error) {
	if len(cfg.Brokers) == 0 {
		publisher := history.NewPublisher(history.NewSlogSink(log), history.WithPublisherLogger(log))
		return publisher, func() { publisher.Close() }, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
	)
	if err != nil {
		return nil, nil, err
	}
	sink := history.NewKafkaSink(client, history.WithKafkaTopic(cfg.Topic))
	publisher := history.NewPublisher(sink,
		history.WithPublisherLogger(log),
		history.WithAsyncBuffer(256),
	)
	return publisher, func() {
		publisher.Close()
		client.Close()
	}, nil
}
