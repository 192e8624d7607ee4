package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sqlchat/sqlchat/internal/feedback"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) SaveFeedback(ctx context.Context, record feedback.Record) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO chat_feedback (feedback_id, session_id, message_id, reaction, question, answer, subject, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID,
		record.SessionID,
		record.MessageID,
		string(record.Reaction),
		record.Question,
		record.Answer,
		record.Subject,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	return nil
}

func (r *Repository) SaveQueryRun(ctx context.Context, run feedback.QueryRun) error {
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var runErr any
	if run.Error != "" {
		runErr = run.Error
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO query_audit (session_id, message_id, source, sql_text, row_count, duration_ms, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.SessionID,
		run.MessageID,
		run.Source,
		run.SQL,
		run.RowCount,
		run.Duration.Milliseconds(),
		runErr,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("save query run: %w", err)
	}
	return nil
}
