package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/toko-checkout/internal/app"
	"github.com/noah-isme/toko-checkout/internal/config"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/reconcile"
	"github.com/noah-isme/toko-checkout/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, cfg, logger, "toko-checkout-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()
	if cfg.RedisURL == "" {
		logger.Fatal().Msg("REDIS_URL is required for the worker")
	}

	orders, err := deps.Orders()
	if err != nil {
		logger.Fatal().Err(err).Msg("select order backend")
	}

	redisOpt, err := app.TaskRedisOpt(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{reconcile.QueueName: 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return resilience.Backoff(cfg.Resilience.RetryBase*10, n, 0.2)
		},
		Logger:   asynqLogger{logger: logger},
		LogLevel: asynq.WarnLevel,
	})
	worker := reconcile.Worker{Orders: orders, Logger: logger, Timeout: cfg.Checkout.OrderTimeout}

	metricsSrv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics listener")
		}
	}()

	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")
	if err := srv.Start(reconcile.NewServeMux(worker)); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}
	<-ctx.Done()
	srv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	logger.Info().Msg("worker shutdown complete")
}
