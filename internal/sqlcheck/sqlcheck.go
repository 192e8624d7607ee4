// Package sqlcheck decides whether an assistant reply contains an SQL query.
package sqlcheck

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sqlchat/sqlchat/internal/llm"
)

type Classifier interface {
	ContainsSQL(ctx context.Context, text string) (bool, error)
}

// LLMClassifier asks the model for a one word true/false verdict.
type LLMClassifier struct {
	client    llm.ChatClient
	prompt    string
	maxTokens int
}

func NewLLMClassifier(client llm.ChatClient, prompt string, maxTokens int) (*LLMClassifier, error) {
	if client == nil {
		return nil, fmt.Errorf("chat client is required")
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("sql check prompt is required")
	}
	if maxTokens <= 0 {
		maxTokens = 2
	}
	return &LLMClassifier{client: client, prompt: prompt, maxTokens: maxTokens}, nil
}

func (c *LLMClassifier) ContainsSQL(ctx context.Context, text string) (bool, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: c.prompt},
		{Role: llm.RoleUser, Content: "<input>" + text + "</input>"},
	}
	reply, err := c.client.Complete(ctx, messages, llm.ChatOptions{
		MaxTokens:   c.maxTokens,
		Temperature: 0,
		TopP:        1,
		Stop:        []string{"\n"},
	})
	if err != nil {
		return false, fmt.Errorf("classify reply: %w", err)
	}
	return strings.ToLower(strings.TrimSpace(reply)) == "true", nil
}

var (
	fencedSQL    = regexp.MustCompile("(?is)```\\s*sql\\b")
	leadingQuery = regexp.MustCompile(`(?is)^\s*(select\s+\S|with\s+(recursive\s+)?\w+\s*(\([^)]*\)\s*)?as\s*\()`)
)

// Heuristic classifies without a model call: a fenced sql block or a reply
// that starts with a SELECT or WITH statement. FROM is optional.
type Heuristic struct{}

func (Heuristic) ContainsSQL(_ context.Context, text string) (bool, error) {
	if fencedSQL.MatchString(text) {
		return true, nil
	}
	return leadingQuery.MatchString(text), nil
}
