package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const geminiProvider = "gemini"

type GeminiConfig struct {
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	Dimension      int
}

type GeminiProvider struct {
	cfg GeminiConfig
}

func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	if cfg.Dimension <= 0 {
		cfg.Dimension = EmbeddingDimension
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	return &GeminiProvider{cfg: cfg}
}

func (p *GeminiProvider) Name() string      { return geminiProvider }
func (p *GeminiProvider) Dimension() int    { return p.cfg.Dimension }
func (p *GeminiProvider) ModelName() string { return p.cfg.EmbeddingModel }

func (p *GeminiProvider) client(ctx context.Context) (*genai.Client, error) {
	if p.cfg.APIKey == "" {
		return nil, missingKeyError(geminiProvider)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client failed: %w", err)
	}
	return client, nil
}

func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	client, err := p.client(ctx)
	if err != nil {
		return nil, err
	}

	temperature := float32(req.Temperature)
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(req.MaxTokens),
	}
	var contents []*genai.Content
	for _, msg := range req.Messages {
		part := &genai.Part{Text: msg.Content}
		switch msg.Role {
		case RoleSystem:
			config.SystemInstruction = &genai.Content{Parts: []*genai.Part{part}}
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{part}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{part}})
		}
	}

	resp, err := client.Models.GenerateContent(ctx, p.cfg.ChatModel, contents, config)
	if err != nil {
		return nil, wrapGeminiError(err)
	}
	out := &CompletionResponse{
		Content: strings.TrimSpace(resp.Text()),
		Model:   p.cfg.ChatModel,
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyEmbeddingInput
	}
	client, err := p.client(ctx)
	if err != nil {
		return nil, err
	}

	dim := int32(p.cfg.Dimension)
	resp, err := client.Models.EmbedContent(
		ctx,
		p.cfg.EmbeddingModel,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}},
		&genai.EmbedContentConfig{OutputDimensionality: &dim},
	)
	if err != nil {
		return nil, wrapGeminiError(err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embedding values returned")
	}
	vec := resp.Embeddings[0].Values
	if err := checkDimension(geminiProvider, vec, p.cfg.Dimension); err != nil {
		return nil, err
	}
	return vec, nil
}

func wrapGeminiError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var ptr *genai.APIError
		if !errors.As(err, &ptr) || ptr == nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return transportError(geminiProvider, err)
		}
		apiErr = *ptr
	}

	code := apiErr.Status
	// Gemini answers an invalid key with 400 INVALID_ARGUMENT.
	if strings.Contains(strings.ToLower(apiErr.Message), "api key not valid") {
		code = CodeInvalidAPIKey
	}
	return newProviderError(geminiProvider, apiErr.Code, code, apiErr.Message, err)
}
