package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sqlchat/sqlchat/internal/config"
	"github.com/sqlchat/sqlchat/internal/database"
	"github.com/sqlchat/sqlchat/internal/llm"
	"github.com/sqlchat/sqlchat/internal/migrations"
	"github.com/sqlchat/sqlchat/internal/observability"
	pgengine "github.com/sqlchat/sqlchat/internal/query/postgres"
	"github.com/sqlchat/sqlchat/internal/schemaindex"
	vectorpostgres "github.com/sqlchat/sqlchat/internal/vectorstore/postgres"
)

func main() {
	collection := flag.String("collection", "", "vector collection (defaults to SQLCHAT_VECTOR_COLLECTION)")
	dryRun := flag.Bool("dry-run", false, "print the training plan without embedding it")
	flag.Parse()

	cfg, err := config.LoadFromEnv("sqlchat-train")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)
	if *collection == "" {
		*collection = cfg.VectorStore.Collection
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, database.Config{DSN: cfg.Database.DSN})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	columns, err := pgengine.NewEngine(db, cfg.Query.Timeout).Columns(ctx)
	if err != nil {
		logger.Error("failed to read information schema", slog.Any("error", err))
		os.Exit(1)
	}
	plan := schemaindex.TrainingPlan(schemaindex.WithoutTables(columns, migrations.ServiceTables...))
	if *dryRun {
		for _, item := range plan {
			logger.Info("training plan item", slog.String("item", item.Name()), slog.String("document", item.Document))
		}
		return
	}

	embedder, err := llm.NewOpenAIClient(llm.Config{
		Provider:   cfg.Embedding.Provider,
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		APIVersion: cfg.Embedding.APIVersion,
		Model:      cfg.Embedding.Model,
		Timeout:    cfg.AI.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize embedder", slog.Any("error", err))
		os.Exit(1)
	}

	indexer := schemaindex.NewIndexer(embedder, vectorpostgres.NewStore(db), logger)
	summary, err := indexer.Train(ctx, plan, *collection)
	if err != nil {
		logger.Error("training failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("training finished",
		slog.String("collection", summary.Collection),
		slog.Int("tables", len(plan)),
		slog.Int("points", summary.Points),
	)
}
