package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const openAIProvider = "openai"

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
	Dimension      int
}

// OpenAIProvider implements Completer, StreamCompleter and Embedder on the
// OpenAI API.
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Dimension <= 0 {
		cfg.Dimension = EmbeddingDimension
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}
}

func (p *OpenAIProvider) Name() string      { return openAIProvider }
func (p *OpenAIProvider) Dimension() int    { return p.cfg.Dimension }
func (p *OpenAIProvider) ModelName() string { return p.cfg.EmbeddingModel }

func (p *OpenAIProvider) chatRequest(req CompletionRequest, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return openai.ChatCompletionRequest{
		Model:       p.cfg.ChatModel,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stream:      stream,
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, missingKeyError(openAIProvider)
	}
	resp, err := p.client.CreateChatCompletion(ctx, p.chatRequest(req, false))
	if err != nil {
		return nil, wrapOpenAIError(err)
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	return &CompletionResponse{
		Content:      content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (p *OpenAIProvider) StreamComplete(ctx context.Context, req CompletionRequest, onChunk func(string) error) (*CompletionResponse, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, missingKeyError(openAIProvider)
	}
	stream, err := p.client.CreateChatCompletionStream(ctx, p.chatRequest(req, true))
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	defer stream.Close()

	var full strings.Builder
	model := p.cfg.ChatModel
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, wrapOpenAIError(err)
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		text := chunk.Choices[0].Delta.Content
		full.WriteString(text)
		if err := onChunk(text); err != nil {
			return nil, err
		}
	}
	return &CompletionResponse{Content: full.String(), Model: model}, nil
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyEmbeddingInput
	}
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, missingKeyError(openAIProvider)
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.cfg.EmbeddingModel),
	}
	if supportsDimensions(p.cfg.EmbeddingModel) {
		req.Dimensions = p.cfg.Dimension
	}
	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(resp.Data) != 1 {
		return nil, fmt.Errorf("openai returned %d embeddings, expected 1", len(resp.Data))
	}
	vec := resp.Data[0].Embedding
	if err := checkDimension(openAIProvider, vec, p.cfg.Dimension); err != nil {
		return nil, err
	}
	return vec, nil
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return newProviderError(openAIProvider, apiErr.HTTPStatusCode, codeString(apiErr.Code), apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return newProviderError(openAIProvider, reqErr.HTTPStatusCode, "", reqErr.Error(), err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return transportError(openAIProvider, err)
}
