package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sqlchat/sqlchat/internal/query"
)

// Engine runs generated queries inside read-only transactions.
type Engine struct {
	db      *sql.DB
	timeout time.Duration
}

func NewEngine(db *sql.DB, timeout time.Duration) *Engine {
	return &Engine{db: db, timeout: timeout}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if e.db == nil {
		return query.Result{}, fmt.Errorf("database is required")
	}
	sqlText, err := query.PrepareSQL(request.SQL, request.RowLimit)
	if err != nil {
		return query.Result{}, err
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return query.Result{}, fmt.Errorf("begin read-only tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, sqlText)
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

const columnsQuery = `
SELECT table_catalog, table_schema, table_name, column_name, data_type, ordinal_position, is_nullable
FROM information_schema.columns
WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY table_schema, table_name, ordinal_position`

// Columns lists user-visible columns of the connected database.
func (e *Engine) Columns(ctx context.Context) ([]query.Column, error) {
	if e.db == nil {
		return nil, fmt.Errorf("database is required")
	}
	rows, err := e.db.QueryContext(ctx, columnsQuery)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []query.Column
	for rows.Next() {
		var column query.Column
		var nullable string
		if err := rows.Scan(&column.Database, &column.Schema, &column.Table, &column.Name, &column.DataType, &column.Ordinal, &nullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		column.IsNullable = nullable == "YES"
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}
