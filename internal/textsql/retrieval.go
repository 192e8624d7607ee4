package textsql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sqlchat/sqlchat/internal/llm"
	"github.com/sqlchat/sqlchat/internal/query"
	"github.com/sqlchat/sqlchat/internal/vectorstore"
)

type RetrievalConfig struct {
	Collection string
	TopK       int
	RowLimit   int
	Options    llm.ChatOptions
}

// RetrievalAsker looks up schema documents related to the question, asks the
// model for a query and runs it.
type RetrievalAsker struct {
	client   llm.ChatClient
	embedder llm.Embedder
	store    vectorstore.Store
	engine   query.Engine
	cfg      RetrievalConfig
	logger   *slog.Logger
}

func NewRetrievalAsker(client llm.ChatClient, embedder llm.Embedder, store vectorstore.Store, engine query.Engine, cfg RetrievalConfig, logger *slog.Logger) (*RetrievalAsker, error) {
	if client == nil || embedder == nil || store == nil || engine == nil {
		return nil, fmt.Errorf("chat client, embedder, vector store and query engine are required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.Options.MaxTokens <= 0 {
		cfg.Options.MaxTokens = 512
	}
	return &RetrievalAsker{client: client, embedder: embedder, store: store, engine: engine, cfg: cfg, logger: logger}, nil
}

func (a *RetrievalAsker) Ask(ctx context.Context, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, fmt.Errorf("question is required")
	}

	documents, err := a.relatedDocuments(ctx, question)
	if err != nil {
		return Answer{}, err
	}

	reply, err := a.client.Complete(ctx, buildRetrievalPrompt(documents, question), a.cfg.Options)
	if err != nil {
		return Answer{}, fmt.Errorf("generate sql: %w", err)
	}

	sqlText := ExtractSQL(reply)
	if !query.IsAllowedSQL(sqlText) {
		return Answer{Text: strings.TrimSpace(reply)}, nil
	}

	result, err := a.engine.Execute(ctx, query.Request{SQL: sqlText, RowLimit: a.cfg.RowLimit})
	if err != nil {
		if a.logger != nil {
			a.logger.WarnContext(ctx, "generated sql failed", slog.String("sql", sqlText), slog.Any("error", err))
		}
		return Answer{SQL: sqlText, Text: sqlText}, nil
	}
	return Answer{SQL: sqlText, Text: sqlText, Result: &result}, nil
}

func (a *RetrievalAsker) relatedDocuments(ctx context.Context, question string) ([]string, error) {
	vectors, err := a.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed question: got %d vectors", len(vectors))
	}

	hits, err := a.store.Search(ctx, a.cfg.Collection, vectors[0], a.cfg.TopK)
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		if a.logger != nil {
			a.logger.WarnContext(ctx, "schema collection missing, prompting without context", slog.String("collection", a.cfg.Collection))
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("search schema documents: %w", err)
	}

	documents := make([]string, 0, len(hits))
	for _, hit := range hits {
		if strings.TrimSpace(hit.Document) != "" {
			documents = append(documents, hit.Document)
		}
	}
	return documents, nil
}

func buildRetrievalPrompt(documents []string, question string) []llm.Message {
	var system strings.Builder
	system.WriteString("You are a PostgreSQL expert. Generate a SQL query that answers the question, ")
	system.WriteString("using only the context below.\n")
	if len(documents) > 0 {
		system.WriteString("\n===Tables\n")
		for _, doc := range documents {
			system.WriteString(strings.TrimSpace(doc))
			system.WriteString("\n\n")
		}
	}
	system.WriteString("\n===Response Guidelines\n")
	system.WriteString("1. If the context is sufficient, reply with one read-only SELECT query in a ```sql block and no explanation.\n")
	system.WriteString("2. If the context is insufficient, explain briefly why the query cannot be generated.\n")
	system.WriteString("3. Use the most relevant tables.\n")

	return []llm.Message{
		{Role: llm.RoleSystem, Content: system.String()},
		{Role: llm.RoleUser, Content: question},
	}
}
