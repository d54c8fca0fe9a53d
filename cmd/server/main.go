// Command server runs the key claims service: the HTTP command API, the
// directory callback consumer, and the claim expiry scheduler, all in one
// process supervised by an errgroup.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"keyclaims/internal/keys/consumer"
	"keyclaims/internal/keys/directory"
	"keyclaims/internal/keys/events"
	"keyclaims/internal/keys/handler"
	keymetrics "keyclaims/internal/keys/metrics"
	"keyclaims/internal/keys/orchestrator"
	"keyclaims/internal/keys/scheduler"
	claimstore "keyclaims/internal/keys/store/claim"
	keystore "keyclaims/internal/keys/store/key"
	"keyclaims/internal/platform/config"
	"keyclaims/internal/platform/httpserver"
	"keyclaims/internal/platform/kafka"
	"keyclaims/internal/platform/logger"
	"keyclaims/internal/platform/postgres"
	"keyclaims/internal/platform/redis"
	"keyclaims/pkg/requestcontext"
)

func main() {
	log := logger.New()
	if err := run(log); err != nil {
		log.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()

	db, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	producer, err := kafka.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		return err
	}
	defer producer.Close()

	if err := kafka.EnsureTopics(ctx, producer,
		cfg.Kafka.EventsTopic,
		cfg.Kafka.CallbackTopic,
		cfg.Kafka.CallbackTopic+events.DLQSuffix,
	); err != nil {
		return err
	}

	// The consumer reads both the callback topic and its dead-letter topic, so
	// replayed triggers re-enter the same dispatch table.
	consumerClient, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup,
		cfg.Kafka.CallbackTopic,
		cfg.Kafka.CallbackTopic+events.DLQSuffix,
	)
	if err != nil {
		return err
	}
	defer consumerClient.Close()

	metrics := keymetrics.New()

	orch := orchestrator.New(orchestrator.Config{
		Keys:        keystore.NewPostgres(db),
		Claims:      claimstore.NewPostgres(db),
		Gateway:     directory.NewHTTP(cfg.Directory.BaseURL, cfg.Directory.ISPB, cfg.Directory.AuthSecret, cfg.Directory.Timeout),
		Emitter:     events.NewKafkaEmitter(producer, cfg.Kafka.EventsTopic, log),
		DeadLetters: events.NewKafkaDeadLetter(producer, log),
		Logger:      log,
		Metrics:     metrics,

		CallbackTopic:   cfg.Kafka.CallbackTopic,
		ExpiryThreshold: cfg.Claims.ExpiryThreshold,
	})

	expiry := scheduler.New(
		claimstore.NewPostgres(db),
		orch,
		scheduler.NewRedisLock(redisClient.Client, cfg.Scheduler.LockKey),
		log,
		metrics,
		scheduler.Config{
			Interval:        cfg.Scheduler.Interval,
			ExpiryThreshold: cfg.Claims.ExpiryThreshold,
			LockLease:       cfg.Scheduler.LockLease,
			LockRefresh:     cfg.Scheduler.LockRefresh,
			PageSize:        cfg.Scheduler.BatchPageSize,
		},
	)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(correlate)
	router.Use(middleware.Recoverer)
	router.Get("/healthz", healthz(db, redisClient))
	router.Handle("/metrics", promhttp.Handler())
	handler.New(orch, log).Register(router)

	server := httpserver.New(cfg.Addr, router)
	callbacks := consumer.New(consumerClient, orch.Dispatch(), log)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.InfoContext(groupCtx, "http server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		log.InfoContext(groupCtx, "callback consumer running",
			"topic", cfg.Kafka.CallbackTopic, "group", cfg.Kafka.ConsumerGroup)
		return callbacks.Run(groupCtx)
	})
	group.Go(func() error {
		log.InfoContext(groupCtx, "expiry scheduler running",
			"interval", cfg.Scheduler.Interval.String())
		return expiry.Run(groupCtx)
	})

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// correlate copies chi's request id into the transport-independent context
// slot the rest of the stack reads.
func correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func healthz(db pinger, cache healthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "postgres unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := cache.Health(ctx); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

type pinger interface {
	PingContext(ctx context.Context) error
}

type healthChecker interface {
	Health(ctx context.Context) error
}
