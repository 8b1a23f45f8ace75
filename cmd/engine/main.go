package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/padelyzer/tournament-engine/internal/config"
	"github.com/padelyzer/tournament-engine/internal/db"
	"github.com/padelyzer/tournament-engine/internal/jobs"
	"github.com/padelyzer/tournament-engine/internal/notify"
	"github.com/padelyzer/tournament-engine/internal/service"
	"github.com/padelyzer/tournament-engine/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("engine stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.RunMigrations(database, cfg.MigrationsURL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	hub := notify.NewHub(logger)
	deps := service.Deps{
		DB:        database,
		Store:     store.New(database),
		Locks:     service.NewLocker(),
		Publisher: hub,
		Logger:    logger,
		Schedule:  cfg.Schedule,
		MaxTeams:  cfg.MaxTeams,
	}
	app := &api{
		tournaments: service.NewTournamentService(deps),
		matches:     service.NewMatchService(deps),
		reschedules: service.NewRescheduleService(deps),
		hub:         hub,
	}

	confirmJob := jobs.NewScheduler(cfg.ConfirmCron, cfg.ConfirmHorizon, app.tournaments, app.matches, logger)
	if err := confirmJob.Start(); err != nil {
		return err
	}
	defer confirmJob.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           newRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", srv.Addr, "driver", cfg.DatabaseDriver)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Info("server shutting down")
	return srv.Shutdown(shutdownCtx)
}
