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

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/xpense/internal/bootstrap"
	"github.com/kirillkom/xpense/internal/config"
	"github.com/kirillkom/xpense/internal/core/domain"
	"github.com/kirillkom/xpense/internal/observability/logging"
	"github.com/kirillkom/xpense/internal/observability/metrics"
)

const serviceName = "worker"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		logger.Info("worker_subscribed", "subject", cfg.NATSExtractionSubject, "queue_group", cfg.NATSQueueGroup)
		return app.Bus.SubscribeExtractions(groupCtx, func(handlerCtx context.Context, event domain.ExtractionEvent) error {
			handleCtx, cancel := context.WithTimeout(handlerCtx, cfg.WorkerHandlerTimeout)
			defer cancel()

			start := time.Now()
			workerMetrics.StartEvent()
			if !event.Extraction.ReceivedAt.IsZero() {
				workerMetrics.ObserveLag(serviceName, start.Sub(event.Extraction.ReceivedAt))
			}

			claim, err := app.ExtractionsUC.RecordExtraction(handleCtx, event)
			workerMetrics.FinishEvent(serviceName, time.Since(start), err)
			if err != nil {
				return err
			}

			outcome := "ignored"
			switch {
			case claim == nil:
			case claim.Extraction.Failed():
				outcome = "failed"
			default:
				outcome = "succeeded"
			}
			workerMetrics.RecordOutcome(serviceName, outcome)
			logger.Info("extraction_recorded", "claim_id", event.ClaimID, "outcome", outcome)
			return nil
		})
	})

	if err := group.Wait(); err != nil {
		logger.Error("worker_failed", "error", err)
		os.Exit(1)
	}
}
