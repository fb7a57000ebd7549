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

	"github.com/hperssn/dailypractice/internal/config"
	"github.com/hperssn/dailypractice/internal/domain"
	"github.com/hperssn/dailypractice/internal/http"
	"github.com/hperssn/dailypractice/internal/navigation"
	"github.com/hperssn/dailypractice/internal/notify"
	"github.com/hperssn/dailypractice/internal/runner"
	"github.com/hperssn/dailypractice/internal/storage"
	"github.com/hperssn/dailypractice/internal/tasks"
	"github.com/hperssn/dailypractice/internal/timerstate"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	store, err := storage.Open(cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	catalog, err := domain.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}

	codec, err := timerstate.CodecFor(cfg.RecordCodec)
	if err != nil {
		return err
	}
	records := timerstate.New(store,
		timerstate.WithCodec(codec),
		timerstate.WithLogger(logger),
		timerstate.WithCheckpointInterval(cfg.CheckpointInterval),
	)

	broker := httpapi.NewBroker()
	manager := runner.NewManager(
		runner.WithTickInterval(cfg.TickInterval),
		runner.WithWakeLock(notify.NewWakeLock(logger)),
		runner.WithNotifier(notify.Multi{notify.Log{Logger: logger}, broker}),
		runner.WithLogger(logger),
	)
	defer manager.StopAll()

	bridge := navigation.NewBridge(navigation.Config{
		AutoStart:       cfg.AutoStart,
		ExpiryThreshold: cfg.ExpiryThreshold,
		Platforms:       cfg.Platforms(),
	}, navigation.Deps{
		Catalog:   catalog,
		Records:   records,
		Progress:  store,
		Manager:   manager,
		Queue:     tasks.NewQueue(logger),
		Logger:    logger,
		Publisher: broker,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go bridge.Run(ctx, cfg.SweepInterval)

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Bridge:   bridge,
			Catalog:  catalog,
			Progress: store,
			Broker:   broker,
			Logger:   logger,
			Platform: cfg.Platform,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "store", cfg.StoreDriver, "steps", len(catalog.Steps()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
