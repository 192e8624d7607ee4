package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sqlchat/sqlchat/internal/api"
	"github.com/sqlchat/sqlchat/internal/api/uistatic"
	"github.com/sqlchat/sqlchat/internal/auth"
	"github.com/sqlchat/sqlchat/internal/chat"
	"github.com/sqlchat/sqlchat/internal/config"
	"github.com/sqlchat/sqlchat/internal/database"
	"github.com/sqlchat/sqlchat/internal/export"
	feedbackpostgres "github.com/sqlchat/sqlchat/internal/feedback/postgres"
	"github.com/sqlchat/sqlchat/internal/llm"
	"github.com/sqlchat/sqlchat/internal/migrations"
	"github.com/sqlchat/sqlchat/internal/observability"
	"github.com/sqlchat/sqlchat/internal/prompts"
	"github.com/sqlchat/sqlchat/internal/query"
	duckdbengine "github.com/sqlchat/sqlchat/internal/query/duckdb"
	pgengine "github.com/sqlchat/sqlchat/internal/query/postgres"
	"github.com/sqlchat/sqlchat/internal/schemaindex"
	"github.com/sqlchat/sqlchat/internal/sqlcheck"
	s3store "github.com/sqlchat/sqlchat/internal/storage/s3"
	"github.com/sqlchat/sqlchat/internal/textsql"
	"github.com/sqlchat/sqlchat/internal/vectorstore"
	vectormemory "github.com/sqlchat/sqlchat/internal/vectorstore/memory"
	vectorpostgres "github.com/sqlchat/sqlchat/internal/vectorstore/postgres"
)

func main() {
	cfg, err := config.LoadFromEnv("sqlchat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	db, err := database.Open(context.Background(), database.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	postgresEngine := pgengine.NewEngine(db, cfg.Query.Timeout)
	var engine query.Engine = postgresEngine
	if cfg.Query.Engine == config.QueryEngineDuckDB {
		duck, err := duckdbengine.Open(context.Background(), duckdbengine.Config{
			PostgresDSN: cfg.Database.DSN,
			Timeout:     cfg.Query.Timeout,
		})
		if err != nil {
			logger.Error("failed to open duckdb engine", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = duck.Close() }()
		engine = duck
	}

	promptSet, err := prompts.Load(cfg.Chat.SystemPromptPath, cfg.Chat.SQLCheckPromptPath)
	if err != nil {
		logger.Error("failed to load prompts", slog.Any("error", err))
		os.Exit(1)
	}

	chatDeps := chat.Dependencies{
		Classifier: sqlcheck.Heuristic{},
		Engine:     engine,
		Recorder:   feedbackpostgres.NewRepository(db),
		Logger:     logger,
	}
	if cfg.AI.Enabled {
		if err := wireModels(cfg, db, engine, promptSet, &chatDeps, logger); err != nil {
			logger.Error("failed to initialize language model", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		logger.Warn("language model disabled; prompts will be rejected")
	}

	readiness := []api.ReadinessCheck{api.CheckDatabase(db), api.CheckExportConfig(cfg)}
	apiDeps := api.Dependencies{
		Logger:            logger,
		Schema:            hiddenServiceTables{reader: postgresEngine},
		UI:                uistatic.Handler(),
		DependencyTimeout: time.Second,
	}
	if cfg.Export.Enabled {
		exports, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.Export.Endpoint,
			Region:           cfg.Export.Region,
			Bucket:           cfg.Export.Bucket,
			AccessKeyID:      cfg.Export.AccessKeyID,
			SecretAccessKey:  cfg.Export.SecretAccessKey,
			UseSSL:           cfg.Export.UseSSL,
			Prefix:           cfg.Export.Prefix,
			AutoCreateBucket: cfg.Export.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize export store", slog.Any("error", err))
			os.Exit(1)
		}
		exporter, err := export.NewExporter(exports, logger)
		if err != nil {
			logger.Error("failed to initialize exporter", slog.Any("error", err))
			os.Exit(1)
		}
		chatDeps.Exporter = exporter
		apiDeps.Exports = exports
		readiness = append(readiness, exports.Check)
		logger.Info("result export enabled", slog.String("bucket", exports.Bucket()))
	}
	apiDeps.Readiness = api.CombineReadinessChecks(readiness...)

	service, err := chat.NewService(chat.Config{
		SystemPrompt:  promptSet.System,
		ContextLength: cfg.Chat.ContextLength,
		RowLimit:      cfg.Query.RowLimit,
		DefaultMode:   cfg.Chat.DefaultMode,
	}, chatDeps)
	if err != nil {
		logger.Error("failed to initialize chat service", slog.Any("error", err))
		os.Exit(1)
	}
	apiDeps.Chat = service

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		apiDeps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, apiDeps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address), slog.String("default_mode", service.DefaultMode()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

// wireModels connects both answer modes and, when enabled, the model based
// SQL classifier.
func wireModels(cfg config.Config, db *sql.DB, engine query.Engine, promptSet prompts.Set, deps *chat.Dependencies, logger *slog.Logger) error {
	client, err := llm.NewOpenAIClient(llm.Config{
		Provider:   cfg.AI.Provider,
		BaseURL:    cfg.AI.BaseURL,
		APIKey:     cfg.AI.APIKey,
		APIVersion: cfg.AI.APIVersion,
		Model:      cfg.AI.Model,
		Timeout:    cfg.AI.Timeout,
	})
	if err != nil {
		return err
	}
	options := llm.ChatOptions{
		MaxTokens:   cfg.AI.ChatMaxTokens,
		Temperature: float32(cfg.AI.ChatTemperature),
		TopP:        float32(cfg.AI.ChatTopP),
	}
	if deps.Streamer, err = textsql.NewChatStreamer(client, options); err != nil {
		return err
	}
	logger.Info("language model ready", slog.String("provider", cfg.AI.Provider), slog.String("model", client.Model()))
	if cfg.AI.ClassifierEnabled {
		if deps.Classifier, err = sqlcheck.NewLLMClassifier(client, promptSet.SQLCheck, cfg.AI.ClassifierMaxTokens); err != nil {
			return err
		}
	}

	switch cfg.Chat.LibraryBackend {
	case config.LibraryChain:
		asker, err := textsql.OpenChainAsker(textsql.ChainConfig{
			PostgresDSN:  cfg.Database.DSN,
			Provider:     cfg.AI.Provider,
			BaseURL:      cfg.AI.BaseURL,
			APIKey:       cfg.AI.APIKey,
			APIVersion:   cfg.AI.APIVersion,
			Model:        cfg.AI.Model,
			TopK:         cfg.Chat.ChainTopK,
			IgnoreTables: migrations.ServiceTables,
		})
		if err != nil {
			return err
		}
		deps.Asker = asker
		logger.Info("library mode uses sql database chain", slog.Any("ignored_tables", migrations.ServiceTables))
	default:
		embedder, err := llm.NewOpenAIClient(llm.Config{
			Provider:   cfg.Embedding.Provider,
			BaseURL:    cfg.Embedding.BaseURL,
			APIKey:     cfg.Embedding.APIKey,
			APIVersion: cfg.Embedding.APIVersion,
			Model:      cfg.Embedding.Model,
			Timeout:    cfg.AI.Timeout,
		})
		if err != nil {
			return err
		}
		logger.Info("library mode uses schema retrieval",
			slog.String("collection", cfg.VectorStore.Collection),
			slog.String("embedding_model", embedder.Model()),
		)
		asker, err := textsql.NewRetrievalAsker(client, embedder, openVectorStore(cfg, db), engine, textsql.RetrievalConfig{
			Collection: cfg.VectorStore.Collection,
			TopK:       cfg.VectorStore.TopK,
			RowLimit:   cfg.Query.RowLimit,
		}, logger)
		if err != nil {
			return err
		}
		deps.Asker = asker
	}
	return nil
}

func openVectorStore(cfg config.Config, db *sql.DB) vectorstore.Store {
	if cfg.VectorStore.Backend == config.VectorBackendMemory {
		return vectormemory.NewStore()
	}
	return vectorpostgres.NewStore(db)
}

// hiddenServiceTables keeps the service's own tables out of the schema view.
type hiddenServiceTables struct {
	reader query.SchemaReader
}

func (h hiddenServiceTables) Columns(ctx context.Context) ([]query.Column, error) {
	columns, err := h.reader.Columns(ctx)
	if err != nil {
		return nil, err
	}
	return schemaindex.WithoutTables(columns, migrations.ServiceTables...), nil
}
