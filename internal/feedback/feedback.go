// Package feedback records reactions to assistant answers and the history of
// executed generated queries.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Reaction string

const (
	ReactionLike    Reaction = "like"
	ReactionDislike Reaction = "dislike"
)

var ErrInvalidReaction = errors.New("reaction must be like or dislike")

func ParseReaction(raw string) (Reaction, error) {
	switch Reaction(strings.ToLower(strings.TrimSpace(raw))) {
	case ReactionLike:
		return ReactionLike, nil
	case ReactionDislike:
		return ReactionDislike, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidReaction, raw)
	}
}

// Record pairs a reaction with the question and the answer it judged.
type Record struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id"`
	Reaction  Reaction  `json:"reaction"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	SourceRun     = "run"
	SourceLibrary = "library"
)

// QueryRun is one execution of a generated statement.
type QueryRun struct {
	SessionID string
	MessageID string
	Source    string
	SQL       string
	RowCount  int
	Duration  time.Duration
	Error     string
	CreatedAt time.Time
}

type Recorder interface {
	SaveFeedback(ctx context.Context, record Record) error
	SaveQueryRun(ctx context.Context, run QueryRun) error
}
