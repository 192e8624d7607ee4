package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/sqlchat/sqlchat/internal/query"
)

type Config struct {
	// PostgresDSN is attached read-only through the postgres extension.
	// Empty leaves the in-memory database bare.
	PostgresDSN string
	Alias       string
	Schema      string
	Timeout     time.Duration
}

// Engine runs generated queries in an embedded DuckDB that reads the target
// Postgres database through ATTACH.
type Engine struct {
	mu      sync.Mutex
	db      *sql.DB
	timeout time.Duration
}

func Open(ctx context.Context, cfg Config) (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// USE is per connection.
	db.SetMaxOpenConns(1)

	if strings.TrimSpace(cfg.PostgresDSN) != "" {
		alias := cfg.Alias
		if alias == "" {
			alias = "pg"
		}
		schema := cfg.Schema
		if schema == "" {
			schema = "public"
		}
		statements := []string{
			"INSTALL postgres",
			"LOAD postgres",
			fmt.Sprintf("ATTACH %s AS %s (TYPE postgres, READ_ONLY)", quoteString(cfg.PostgresDSN), quoteIdent(alias)),
			fmt.Sprintf("USE %s.%s", quoteIdent(alias), quoteIdent(schema)),
		}
		for _, statement := range statements {
			if _, err := db.ExecContext(ctx, statement); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("attach postgres (%s): %w", strings.Fields(statement)[0], err)
			}
		}
	}

	return &Engine{db: db, timeout: cfg.Timeout}, nil
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText, err := query.PrepareSQL(request.SQL, request.RowLimit)
	if err != nil {
		return query.Result{}, err
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, resultRows, err := query.ScanRows(rows)
	if err != nil {
		return query.Result{}, err
	}
	return query.Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
