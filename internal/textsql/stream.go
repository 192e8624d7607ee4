package textsql

import (
	"context"
	"fmt"

	"github.com/sqlchat/sqlchat/internal/llm"
)

// ChatStreamer generates replies by streaming chat completions with fixed
// generation options.
type ChatStreamer struct {
	client  llm.ChatClient
	options llm.ChatOptions
}

func NewChatStreamer(client llm.ChatClient, options llm.ChatOptions) (*ChatStreamer, error) {
	if client == nil {
		return nil, fmt.Errorf("chat client is required")
	}
	return &ChatStreamer{client: client, options: options}, nil
}

func (s *ChatStreamer) Stream(ctx context.Context, turn []llm.Message) (llm.Stream, error) {
	if len(turn) == 0 {
		return nil, fmt.Errorf("turn messages are required")
	}
	return s.client.StreamChat(ctx, turn, s.options)
}
