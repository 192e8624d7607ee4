package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrEmptySQL   = errors.New("sql is required")
	ErrNotAllowed = errors.New("only read-only SELECT/WITH queries are allowed")
)

type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// Column is one row of INFORMATION_SCHEMA.COLUMNS.
type Column struct {
	Database   string `json:"database"`
	Schema     string `json:"schema"`
	Table      string `json:"table"`
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	Ordinal    int    `json:"ordinal"`
	IsNullable bool   `json:"is_nullable"`
}

type SchemaReader interface {
	Columns(ctx context.Context) ([]Column, error)
}

// IsAllowedSQL reports whether the first keyword outside comments is SELECT
// or WITH.
func IsAllowedSQL(sqlText string) bool {
	start := -1
	walkCode(sqlText, func(i int) bool {
		if isSpace(sqlText[i]) {
			return true
		}
		start = i
		return false
	})
	if start < 0 {
		return false
	}
	head := strings.ToLower(sqlText[start:])
	return hasKeyword(head, "select") || hasKeyword(head, "with")
}

// PrepareSQL validates a generated statement and wraps it in an outer LIMIT
// when rowLimit is positive. A semicolon outside literals and comments that is
// followed by more code is rejected as a second statement.
func PrepareSQL(sqlText string, rowLimit int) (string, error) {
	trimmed := StripTrailingSemicolons(sqlText)
	if idx := firstSeparator(trimmed); idx >= 0 {
		if !onlyTrivia(trimmed[idx:]) {
			return "", fmt.Errorf("%w: multiple statements", ErrNotAllowed)
		}
		trimmed = strings.TrimSpace(trimmed[:idx])
	}
	if trimmed == "" || onlyTrivia(trimmed) {
		return "", ErrEmptySQL
	}
	if !IsAllowedSQL(trimmed) {
		return "", ErrNotAllowed
	}
	if rowLimit > 0 {
		// The statement keeps its own lines so a trailing line comment
		// cannot swallow the wrapper.
		trimmed = fmt.Sprintf("SELECT * FROM (\n%s\n) AS q LIMIT %d", trimmed, rowLimit)
	}
	return trimmed, nil
}

func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

func firstSeparator(sqlText string) int {
	idx := -1
	walkCode(sqlText, func(i int) bool {
		if sqlText[i] == ';' {
			idx = i
			return false
		}
		return true
	})
	return idx
}

// onlyTrivia reports whether sqlText holds nothing but whitespace, comments
// and semicolons.
func onlyTrivia(sqlText string) bool {
	trivia := true
	walkCode(sqlText, func(i int) bool {
		if sqlText[i] == ';' || isSpace(sqlText[i]) {
			return true
		}
		trivia = false
		return false
	})
	return trivia
}

// walkCode calls fn with the index of every byte outside comments and outside
// the bodies of string literals, quoted identifiers and dollar-quoted strings,
// until fn returns false. The opening quote of a literal is reported.
func walkCode(sqlText string, fn func(i int) bool) {
	for i := 0; i < len(sqlText); {
		switch {
		case sqlText[i] == '\'' || sqlText[i] == '"':
			if !fn(i) {
				return
			}
			i = skipQuoted(sqlText, i)
		case strings.HasPrefix(sqlText[i:], "--"):
			end := strings.IndexByte(sqlText[i:], '\n')
			if end < 0 {
				return
			}
			i += end + 1
		case strings.HasPrefix(sqlText[i:], "/*"):
			end := strings.Index(sqlText[i+2:], "*/")
			if end < 0 {
				return
			}
			i += end + 4
		case sqlText[i] == '$' && dollarTag(sqlText[i:]) != "":
			if !fn(i) {
				return
			}
			tag := dollarTag(sqlText[i:])
			end := strings.Index(sqlText[i+len(tag):], tag)
			if end < 0 {
				return
			}
			i += 2*len(tag) + end
		default:
			if !fn(i) {
				return
			}
			i++
		}
	}
}

// skipQuoted returns the index after the literal opened at start. A doubled
// quote character is an escaped quote.
func skipQuoted(sqlText string, start int) int {
	quote := sqlText[start]
	for j := start + 1; j < len(sqlText); j++ {
		if sqlText[j] != quote {
			continue
		}
		if j+1 < len(sqlText) && sqlText[j+1] == quote {
			j++
			continue
		}
		return j + 1
	}
	return len(sqlText)
}

// dollarTag returns the opening tag of a dollar-quoted string ($$ or $name$)
// or "" when s does not start one. Positional parameters like $1 are not tags.
func dollarTag(s string) string {
	if len(s) < 2 || s[0] != '$' {
		return ""
	}
	if s[1] >= '0' && s[1] <= '9' {
		return ""
	}
	j := 1
	for j < len(s) && isWordByte(s[j]) {
		j++
	}
	if j < len(s) && s[j] == '$' {
		return s[:j+1]
	}
	return ""
}

func hasKeyword(s, keyword string) bool {
	if !strings.HasPrefix(s, keyword) {
		return false
	}
	return len(s) == len(keyword) || !isWordByte(s[len(keyword)])
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
}

// ScanRows drains rows into column names and normalized values.
func ScanRows(rows *sql.Rows) ([]string, [][]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, NormalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, resultRows, nil
}

func NormalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case time.Time:
			normalized[i] = typed
		case fmt.Stringer:
			normalized[i] = typed.String()
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
