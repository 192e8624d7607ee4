package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sqlchat/sqlchat/internal/config"
	"github.com/sqlchat/sqlchat/internal/database"
	"github.com/sqlchat/sqlchat/internal/llm"
	"github.com/sqlchat/sqlchat/internal/observability"
	"github.com/sqlchat/sqlchat/internal/schemaindex"
	vectorpostgres "github.com/sqlchat/sqlchat/internal/vectorstore/postgres"
)

func main() {
	file := flag.String("file", "db/schema/sales_db.json", "JSON array of schema description objects")
	collection := flag.String("collection", "", "vector collection (defaults to SQLCHAT_VECTOR_COLLECTION)")
	list := flag.Bool("list", false, "list vector collections and exit")
	flag.Parse()

	cfg, err := config.LoadFromEnv("sqlchat-index")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)
	if *collection == "" {
		*collection = cfg.VectorStore.Collection
	}
	if cfg.VectorStore.Backend != config.VectorBackendPostgres {
		logger.Error("indexing needs the postgres vector backend", slog.String("backend", cfg.VectorStore.Backend))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, database.Config{DSN: cfg.Database.DSN})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	store := vectorpostgres.NewStore(db)

	if *list {
		collections, err := store.ListCollections(ctx)
		if err != nil {
			logger.Error("failed to list collections", slog.Any("error", err))
			os.Exit(1)
		}
		for _, c := range collections {
			fmt.Printf("%s\tdimension=%d\tdistance=%s\tpoints=%d\tcreated_at=%s\n",
				c.Name, c.Dimension, c.Distance, c.Points, c.CreatedAt.Format(time.RFC3339))
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

	input, err := os.Open(*file)
	if err != nil {
		logger.Error("failed to open schema description", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = input.Close() }()

	logger.Info("embedding schema description", slog.String("model", embedder.Model()), slog.String("collection", *collection))
	indexer := schemaindex.NewIndexer(embedder, store, logger)
	summary, err := indexer.IndexJSON(ctx, input, *collection)
	if err != nil {
		logger.Error("indexing failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("schema description indexed",
		slog.String("file", *file),
		slog.String("collection", summary.Collection),
		slog.Int("dimension", summary.Dimension),
		slog.Bool("created", summary.Created),
		slog.Int("points", summary.Points),
	)
}
