package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	"github.com/bifrost-ai/bifrost/internal/admission"
	"github.com/bifrost-ai/bifrost/internal/app"
	"github.com/bifrost-ai/bifrost/internal/auth"
	"github.com/bifrost-ai/bifrost/internal/circuitbreaker"
	"github.com/bifrost-ai/bifrost/internal/config"
	"github.com/bifrost-ai/bifrost/internal/provider"
	"github.com/bifrost-ai/bifrost/internal/router"
	"github.com/bifrost-ai/bifrost/internal/server"
	"github.com/bifrost-ai/bifrost/internal/storage/sqlite"
	"github.com/bifrost-ai/bifrost/internal/telemetry"
	"github.com/bifrost-ai/bifrost/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting bifrost", "version", version, "addr", cfg.Server.Addr)

	store, err := sqlite.New(cfg.Database.DSN, cfg.Database.QueueDecay)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	// Tracing
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	// Metrics
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// Generation backends per route class
	adapters := provider.NewRegistry()
	adapters.Register(string(router.ClassExternal), provider.NewSynth())
	adapters.Register(string(router.ClassSelfHosted), provider.NewSynth())
	resolver := &dnscache.Resolver{}
	for _, a := range cfg.Adapters {
		switch a.Type {
		case "remote":
			adapters.Register(a.Class, provider.NewRemote(a.Class, a.BaseURL, a.APIKey, resolver))
		case "", "synth":
			adapters.Register(a.Class, provider.NewSynth())
		default:
			slog.Warn("unknown adapter type, keeping synth", "class", a.Class, "type", a.Type)
		}
	}

	cat, err := cfg.Catalog()
	if err != nil {
		return err
	}

	// Telemetry pipeline: the engine hands events to the async recorder,
	// which batches them into the store.
	recorder := worker.NewUsageRecorder(store)
	breakers := circuitbreaker.NewRegistry(cfg.Breaker)

	engine := app.NewEngine(
		cat,
		admission.NewController(store, cfg.Limits),
		cfg.Routes(),
		adapters,
		breakers,
		recorder,
	)
	if metrics != nil {
		engine.SetMetrics(metrics)
	}

	apiAuth, err := auth.NewAPIKeyAuth(store)
	if err != nil {
		return err
	}
	keys := app.NewKeyManager(store, apiAuth)

	handler := server.New(server.Deps{
		APIAuth:        apiAuth,
		ConsoleAuth:    auth.NewConsoleAuth(store, cfg.Console.Production),
		Engine:         engine,
		Keys:           keys,
		Usage:          store,
		ReadyCheck:     store.Ping,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		ChunkRunes:     cfg.Stream.ChunkRunes,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Background workers run until shutdown; the recorder drains its
	// buffered telemetry when the context is cancelled.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	runner := worker.NewRunner(recorder, worker.NewBreakerJanitor(breakers))
	workerErr := make(chan error, 1)
	go func() {
		workerErr <- runner.Run(workerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("bifrost ready", "addr", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Stop workers after the server so in-flight requests can still record
	// telemetry, then wait for the drain.
	stopWorkers()
	if err := <-workerErr; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker shutdown", "error", err)
	}

	slog.Info("bifrost stopped")
	return nil
}
