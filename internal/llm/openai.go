package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig carries the settings for an OpenAI-compatible endpoint.  Any
// provider that speaks the chat completions API (including Gemini's
// compatibility endpoint) can be reached by setting BaseURL.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Stream      bool
	HTTPClient  *http.Client
}

// OpenAIClient calls the chat completions API.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	stream      bool
}

// NewOpenAIClient constructs an OpenAI-backed client from explicit settings.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		conf.HTTPClient = cfg.HTTPClient
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(conf),
		model:       model,
		temperature: cfg.Temperature,
		stream:      cfg.Stream,
	}
}

// Generate sends the request and returns the response as a Stream.  When
// streaming is disabled the whole completion is delivered as one chunk.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (Stream, error) {
	if c.client == nil {
		return nil, errors.New("openai client not initialized")
	}
	creq := c.buildRequest(req)

	if c.stream {
		creq.Stream = true
		s, err := c.client.CreateChatCompletionStream(ctx, creq)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat completion stream: %w", err)
		}
		return &openaiStream{stream: s}, nil
	}

	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return TextStream(), nil
	}
	return TextStream(resp.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) buildRequest(req Request) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemInstruction != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemInstruction})
	}
	for _, m := range req.Messages {
		role := m.Role
		if role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			// coerce anything unknown to user
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	creq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: c.temperature,
	}
	if req.Schema != nil {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:        req.Schema.Name,
				Description: req.Schema.Description,
				Schema:      *req.Schema,
				Strict:      true,
			},
		}
	}
	return creq
}

type openaiStream struct {
	stream *openai.ChatCompletionStream
}

// Recv skips keep-alive deltas that carry no content.
func (s *openaiStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("chat completion stream: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}
