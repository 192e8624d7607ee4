package llm

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	FinishReasonStop = "stop"
)

var ErrEmptyResponse = errors.New("model returned no choices")

type Message struct {
	Role    string
	Content string
}

// ChatOptions are per-call generation settings. Zero values fall back to the
// provider defaults.
type ChatOptions struct {
	MaxTokens   int
	Temperature float32
	TopP        float32
	Stop        []string
}

type ChunkChoice struct {
	Delta        string
	FinishReason string
}

type Chunk struct {
	Choices []ChunkChoice
}

// Stream yields chunks until Recv returns io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

type ChatClient interface {
	StreamChat(ctx context.Context, messages []Message, opts ChatOptions) (Stream, error)
	Complete(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
