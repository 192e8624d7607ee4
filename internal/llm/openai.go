package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
)

type Config struct {
	Provider   string
	BaseURL    string
	APIKey     string
	APIVersion string
	// Model is the model name, or the deployment name for azure.
	Model   string
	Timeout time.Duration
}

type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	apiKey := strings.TrimSpace(cfg.APIKey)
	model := strings.TrimSpace(cfg.Model)
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var clientCfg openai.ClientConfig
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("api key is required")
		}
		clientCfg = openai.DefaultConfig(apiKey)
		clientCfg.BaseURL = baseURL
	case ProviderAzure:
		if apiKey == "" {
			return nil, fmt.Errorf("api key is required")
		}
		if strings.TrimSpace(cfg.APIVersion) == "" {
			return nil, fmt.Errorf("api version is required for azure")
		}
		clientCfg = openai.DefaultAzureConfig(apiKey, baseURL)
		clientCfg.APIVersion = strings.TrimSpace(cfg.APIVersion)
		clientCfg.AzureModelMapperFunc = func(string) string { return model }
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

func (c *OpenAIClient) Model() string {
	return c.model
}

func (c *OpenAIClient) StreamChat(ctx context.Context, messages []Message, opts ChatOptions) (Stream, error) {
	req := c.chatRequest(messages, opts)
	req.Stream = true
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("open chat stream: %w", err)
	}
	return &openAIStream{stream: stream}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.chatRequest(messages, opts))
	if err != nil {
		return "", fmt.Errorf("request chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("create embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	vectors := make([][]float32, len(texts))
	for i, item := range resp.Data {
		idx := item.Index
		if idx < 0 || idx >= len(vectors) {
			idx = i
		}
		vectors[idx] = item.Embedding
	}
	return vectors, nil
}

func (c *OpenAIClient) chatRequest(messages []Message, opts ChatOptions) openai.ChatCompletionRequest {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, message := range messages {
		converted = append(converted, openai.ChatCompletionMessage{
			Role:    message.Role,
			Content: message.Content,
		})
	}
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    converted,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Stop:        opts.Stop,
	}
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (Chunk, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Chunk{}, io.EOF
		}
		return Chunk{}, fmt.Errorf("receive chat chunk: %w", err)
	}
	chunk := Chunk{Choices: make([]ChunkChoice, 0, len(resp.Choices))}
	for _, choice := range resp.Choices {
		chunk.Choices = append(chunk.Choices, ChunkChoice{
			Delta:        choice.Delta.Content,
			FinishReason: string(choice.FinishReason),
		})
	}
	return chunk, nil
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}
