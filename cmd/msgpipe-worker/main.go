package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zoff-tech/go-msgpipe/pkg/broker"
	"github.com/zoff-tech/go-msgpipe/pkg/config"
	"github.com/zoff-tech/go-msgpipe/pkg/logger"
	"github.com/zoff-tech/go-msgpipe/pkg/metrics"
	"github.com/zoff-tech/go-msgpipe/pkg/pipeline"
	"github.com/zoff-tech/go-msgpipe/pkg/reconciler"
	"github.com/zoff-tech/go-msgpipe/pkg/store"
	"github.com/zoff-tech/go-msgpipe/pkg/telemetry"
	"github.com/zoff-tech/go-msgpipe/pkg/validation"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration from file or environment
	cfg, err := config.LoadFromFile("./cmd/msgpipe-worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Settings, log *zap.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Observability, log)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdownTelemetry(context.Background())

	repo, err := store.NewRepository(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(log),
		pipeline.WithObserver(metrics.NewPrometheusObserver()),
	}
	if cfg.Broker.Type != "" {
		b, err := broker.NewBroker(ctx, cfg.Broker, log)
		if err != nil {
			return fmt.Errorf("failed to initialize broker: %w", err)
		}
		defer func() { _ = b.Close() }()

		publisher := broker.NewDeadLetterPublisher(b, cfg.DeadLetterTopic, broker.DefaultBreakerSettings(), log)
		opts = append(opts, pipeline.WithPublisher(publisher))
	}

	w, err := newWorker(repo, cfg, log, opts...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(w, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.Reconciler.Enabled {
		g.Go(func() error { return w.reconciler.Run(gctx) })
	}

	return g.Wait()
}

// worker bundles the pipeline factory and the reconciler sharing one outbox.
type worker struct {
	factory    *pipeline.Factory
	reconciler *reconciler.Reconciler
	roster     *roster
}

func newWorker(repo store.OutboxRepository, cfg *config.Settings, log *zap.Logger, opts ...pipeline.Option) (*worker, error) {
	validators := validation.NewRegistry()
	handlers := pipeline.NewHandlerRegistry()
	policy := pipeline.RetryPolicy{MaxAttempts: cfg.Pipeline.MaxRetries, BaseDelay: cfg.Pipeline.RetryBackoff}

	steps := pipeline.NewStepRegistry(repo, validators, policy, opts...)
	factory := pipeline.NewFactory(steps, handlers, opts...)

	w := &worker{
		factory:    factory,
		reconciler: reconciler.New(repo, factory, cfg.Reconciler, log),
		roster:     newRoster(),
	}
	if err := registerResidency(validators, handlers, factory, w.reconciler, w.roster); err != nil {
		return nil, fmt.Errorf("failed to register message types: %w", err)
	}
	return w, nil
}
