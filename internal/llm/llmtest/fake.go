// Package llmtest provides scripted model clients for tests.
package llmtest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sqlchat/sqlchat/internal/llm"
)

// Client replays scripted streams and completions and records every call.
type Client struct {
	mu sync.Mutex

	Streams     [][]llm.Chunk
	StreamErr   error
	Completions []string
	CompleteErr error
	Vectors     map[string][]float32
	Dimension   int
	EmbedErr    error

	StreamCalls   [][]llm.Message
	CompleteCalls [][]llm.Message
	StreamOpts    []llm.ChatOptions
	CompleteOpts  []llm.ChatOptions
	EmbedCalls    [][]string
}

func (c *Client) StreamChat(_ context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StreamCalls = append(c.StreamCalls, append([]llm.Message(nil), messages...))
	c.StreamOpts = append(c.StreamOpts, opts)
	if c.StreamErr != nil {
		return nil, c.StreamErr
	}
	if len(c.Streams) == 0 {
		return nil, errors.New("llmtest: no scripted stream")
	}
	chunks := c.Streams[0]
	c.Streams = c.Streams[1:]
	return &Stream{Chunks: chunks}, nil
}

func (c *Client) Complete(_ context.Context, messages []llm.Message, opts llm.ChatOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CompleteCalls = append(c.CompleteCalls, append([]llm.Message(nil), messages...))
	c.CompleteOpts = append(c.CompleteOpts, opts)
	if c.CompleteErr != nil {
		return "", c.CompleteErr
	}
	if len(c.Completions) == 0 {
		return "", errors.New("llmtest: no scripted completion")
	}
	out := c.Completions[0]
	c.Completions = c.Completions[1:]
	return out, nil
}

// Embed returns Vectors[text] when present and otherwise a deterministic
// vector of Dimension (default 3) derived from the text bytes.
func (c *Client) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EmbedCalls = append(c.EmbedCalls, append([]string(nil), texts...))
	if c.EmbedErr != nil {
		return nil, c.EmbedErr
	}
	dim := c.Dimension
	if dim <= 0 {
		dim = 3
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if vector, ok := c.Vectors[text]; ok {
			out[i] = vector
			continue
		}
		vector := make([]float32, dim)
		for j := 0; j < len(text); j++ {
			vector[j%dim] += float32(text[j]) / 255
		}
		vector[0] += 1
		out[i] = vector
	}
	return out, nil
}

// Stream replays Chunks and then returns Err, or io.EOF when Err is nil.
type Stream struct {
	Chunks []llm.Chunk
	Err    error
	Closed bool
	next   int
}

func (s *Stream) Recv() (llm.Chunk, error) {
	if s.next < len(s.Chunks) {
		chunk := s.Chunks[s.next]
		s.next++
		return chunk, nil
	}
	if s.Err != nil {
		return llm.Chunk{}, s.Err
	}
	return llm.Chunk{}, io.EOF
}

func (s *Stream) Close() error {
	s.Closed = true
	return nil
}

// Deltas builds one chunk per delta followed by a stop chunk.
func Deltas(deltas ...string) []llm.Chunk {
	chunks := make([]llm.Chunk, 0, len(deltas)+1)
	for _, delta := range deltas {
		chunks = append(chunks, llm.Chunk{Choices: []llm.ChunkChoice{{Delta: delta}}})
	}
	return append(chunks, llm.Chunk{Choices: []llm.ChunkChoice{{FinishReason: llm.FinishReasonStop}}})
}
