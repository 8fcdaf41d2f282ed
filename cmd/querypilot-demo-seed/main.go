package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duckmesh/querypilot/internal/demo/seed"
	"github.com/duckmesh/querypilot/internal/executor"
)

func main() {
	cfg, err := seed.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load demo seed config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	registry, err := executor.Open(openCtx, []executor.ConnectionConfig{
		{ID: "demo", Dialect: cfg.Dialect, DSN: cfg.DSN},
	}, executor.PoolConfig{MaxOpenConns: 1})
	cancel()
	if err != nil {
		logger.Error("failed to open demo database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = registry.Close() }()

	db, _, err := registry.DB("demo")
	if err != nil {
		logger.Error("failed to resolve demo database", slog.Any("error", err))
		os.Exit(1)
	}
	service, err := seed.NewService(cfg, db, logger)
	if err != nil {
		logger.Error("failed to initialize demo seed", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("seeding demo database",
		slog.String("dialect", string(cfg.Dialect)),
		slog.Int("users", cfg.Users),
		slog.Int("max_orders_per_user", cfg.MaxOrdersPerUser),
		slog.Bool("reset", cfg.Reset),
	)
	if _, err := service.Run(ctx); err != nil {
		logger.Error("demo seed failed", slog.Any("error", err))
		os.Exit(1)
	}
}
