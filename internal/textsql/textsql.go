// Package textsql turns natural language questions into SQL, either by
// streaming chat completions or through a library-style asker that also runs
// the generated query.
package textsql

import (
	"context"
	"regexp"
	"strings"

	"github.com/sqlchat/sqlchat/internal/query"
)

// Answer is what an Asker produced. Result is nil when no query ran, in which
// case Text holds the raw reply.
type Answer struct {
	SQL    string
	Text   string
	Result *query.Result
}

type Asker interface {
	Ask(ctx context.Context, question string) (Answer, error)
}

var fencedBlock = regexp.MustCompile("(?is)```[ \\t]*sql[ \\t]*\\r?\\n?(.*?)```")

// ExtractSQL returns the body of the first fenced sql block, or the trimmed
// text with any surrounding fence removed.
func ExtractSQL(text string) string {
	if match := fencedBlock.FindStringSubmatch(text); match != nil {
		return strings.TrimSpace(match[1])
	}
	return stripMarkdownSQL(text)
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}

// FenceSQL wraps a statement in a fenced sql block.
func FenceSQL(sqlText string) string {
	return "```sql\n" + strings.TrimSpace(sqlText) + "\n```"
}
