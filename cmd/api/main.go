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
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"alliance.ledger/internal/api"
	"alliance.ledger/internal/config"
	"alliance.ledger/internal/logger"
	"alliance.ledger/internal/memstore"
	"alliance.ledger/internal/metrics"
	"alliance.ledger/internal/service"
	"alliance.ledger/internal/store"
	"alliance.ledger/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server_failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalogue, err := config.LoadCatalogue(cfg.CataloguePath)
	if err != nil {
		return err
	}

	var repo service.Repository
	switch cfg.Storage {
	case config.StorageMemory:
		log.Warn("using in-memory storage, data is lost on exit")
		repo = memstore.New(time.Now)
	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		defer pool.Close()
		repo = store.New(pool)
	}

	m := metrics.New()
	svc := service.New(repo, service.Config{
		FeePercent:     cfg.Fee(),
		RefundOnReject: cfg.RefundOnReject,
		OncePerDay:     cfg.OncePerDay,
		Location:       cfg.Location(),
		Catalogue:      catalogue,
	}, log.Named("service"), m)

	sweeper, err := worker.NewMaturitySweeper(cfg.MatureSchedule, svc, log.Named("worker"))
	if err != nil {
		return err
	}
	sweeper.Start()

	srv := api.NewServer(svc, api.Options{
		JWTSecret: cfg.JWTSecret,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	}, log.Named("api"), m)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", httpServer.Addr), zap.String("storage", cfg.Storage))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	sweeper.Stop(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("stopped")
	return nil
}
