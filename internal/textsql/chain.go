package textsql

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/tools/sqldatabase"
	"github.com/tmc/langchaingo/tools/sqldatabase/postgresql"

	"github.com/sqlchat/sqlchat/internal/query"
)

type ChainConfig struct {
	PostgresDSN string
	Provider    string
	BaseURL     string
	APIKey      string
	APIVersion  string
	Model       string
	TopK        int

	// IgnoreTables are left out of the schema and sample rows the chain
	// puts into its prompt.
	IgnoreTables []string
}

// ChainAsker delegates to langchaingo's SQLDatabaseChain, which writes the
// query, runs it and phrases the answer itself. Its answers never carry a
// result table.
type ChainAsker struct {
	chain  chains.Chain
	closer func() error
}

func NewChainAsker(chain chains.Chain) *ChainAsker {
	return &ChainAsker{chain: chain}
}

// NewSQLChainAsker builds a SQLDatabaseChain over engine. Statements the chain
// sends to engine go through query.PrepareSQL first, so anything other than a
// single SELECT/WITH statement is refused.
func NewSQLChainAsker(model llms.Model, engine sqldatabase.Engine, topK int, ignoreTables []string) (*ChainAsker, error) {
	if model == nil {
		return nil, fmt.Errorf("chain model is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("chain database engine is required")
	}
	ignore := make(map[string]struct{}, len(ignoreTables))
	for _, table := range ignoreTables {
		ignore[table] = struct{}{}
	}
	db, err := sqldatabase.NewSQLDatabase(readOnlyEngine{Engine: engine}, ignore)
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("load chain tables: %w", err)
	}
	if topK <= 0 {
		topK = 10
	}
	return &ChainAsker{
		chain:  chains.NewSQLDatabaseChain(model, topK, db),
		closer: db.Close,
	}, nil
}

// OpenChainAsker connects the chain to the target database over a read-only
// session and an OpenAI-compatible model.
func OpenChainAsker(cfg ChainConfig) (*ChainAsker, error) {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	options := []lcopenai.Option{
		lcopenai.WithToken(cfg.APIKey),
		lcopenai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		options = append(options, lcopenai.WithBaseURL(cfg.BaseURL))
	}
	if strings.EqualFold(cfg.Provider, "azure") {
		options = append(options, lcopenai.WithAPIType(lcopenai.APITypeAzure), lcopenai.WithAPIVersion(cfg.APIVersion))
	}
	model, err := lcopenai.New(options...)
	if err != nil {
		return nil, fmt.Errorf("create chain model: %w", err)
	}

	dsn, err := readOnlyDSN(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	engine, err := postgresql.NewPostgreSQL(dsn)
	if err != nil {
		return nil, fmt.Errorf("open chain database: %w", err)
	}
	return NewSQLChainAsker(model, engine, cfg.TopK, cfg.IgnoreTables)
}

// readOnlyDSN sets default_transaction_read_only on the session, for both URL
// and keyword/value connection strings.
func readOnlyDSN(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse chain dsn: %w", err)
		}
		params := parsed.Query()
		params.Set("default_transaction_read_only", "on")
		parsed.RawQuery = params.Encode()
		return parsed.String(), nil
	}
	return dsn + " default_transaction_read_only=on", nil
}

type readOnlyEngine struct {
	sqldatabase.Engine
}

func (e readOnlyEngine) Query(ctx context.Context, sqlText string, args ...any) ([]string, [][]string, error) {
	prepared, err := query.PrepareSQL(sqlText, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("chain query refused: %w", err)
	}
	return e.Engine.Query(ctx, prepared, args...)
}

func (a *ChainAsker) Ask(ctx context.Context, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, fmt.Errorf("question is required")
	}
	out, err := chains.Predict(ctx, a.chain, map[string]any{"query": question})
	if err != nil {
		return Answer{}, fmt.Errorf("run sql database chain: %w", err)
	}
	out = strings.TrimSpace(out)
	answer := Answer{Text: out}
	if strings.Contains(out, "```") {
		answer.SQL = ExtractSQL(out)
	}
	return answer, nil
}

func (a *ChainAsker) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer()
}
