package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sqlchat/sqlchat/internal/config"
	"github.com/sqlchat/sqlchat/internal/database"
	"github.com/sqlchat/sqlchat/internal/observability"
	"github.com/sqlchat/sqlchat/internal/seed"
)

func main() {
	cfg, err := config.LoadFromEnv("sqlchat-seed")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	seedCfg, err := seed.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		logger.Error("failed to load seed config", slog.Any("error", err))
		os.Exit(1)
	}
	target, err := database.DatabaseName(cfg.Database.DSN)
	if err != nil {
		logger.Error("invalid database dsn", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seeder := seed.NewSeeder(seedCfg, logger)
	if seedCfg.CreateDatabase {
		admin, err := database.Open(ctx, database.Config{DSN: cfg.Database.DSN, Database: cfg.Database.AdminDatabase})
		if err != nil {
			logger.Error("failed to open admin database", slog.Any("error", err))
			os.Exit(1)
		}
		_, err = seeder.EnsureDatabase(ctx, admin, target)
		_ = admin.Close()
		if err != nil {
			logger.Error("failed to create database", slog.Any("error", err))
			os.Exit(1)
		}
	}

	db, err := database.Open(ctx, database.Config{DSN: cfg.Database.DSN})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	summary, err := seeder.Fill(ctx, db, target)
	if err != nil {
		logger.Error("seed failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("seed finished",
		slog.String("database", target),
		slog.Int("customers", summary.Customers),
		slog.Int("purchases", summary.Purchases),
	)
}
