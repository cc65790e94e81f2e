package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrEmptyEmbeddingInput = errors.New("embedding input is empty")

type embeddingRequestBody struct {
	Model      string `json:"model"`
	Input      any    `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// Embed returns the embedding vector for the given text.
func (c *CompatibleClient) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyEmbeddingInput
	}
	vecs, err := c.embed(ctx, text, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds several texts in one request. Blank texts are rejected
// rather than dropped so the result stays index-aligned with the input.
func (c *CompatibleClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	trimmed := make([]string, len(texts))
	for i, t := range texts {
		trimmed[i] = strings.TrimSpace(t)
		if trimmed[i] == "" {
			return nil, fmt.Errorf("text %d: %w", i, ErrEmptyEmbeddingInput)
		}
	}
	return c.embed(ctx, trimmed, len(trimmed))
}

func (c *CompatibleClient) embed(ctx context.Context, input any, want int) ([][]float32, error) {
	body := embeddingRequestBody{Model: c.cfg.EmbeddingModel, Input: input}
	if supportsDimensions(c.cfg.EmbeddingModel) {
		body.Dimensions = c.cfg.Dimension
	}
	resp, err := c.post(ctx, "/embeddings", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(compatibleProvider, fmt.Errorf("read embedding response failed: %w", err))
	}

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding json failed: %w", err)
	}
	if len(parsed.Data) != want {
		return nil, fmt.Errorf("embedding response has %d vectors, want %d", len(parsed.Data), want)
	}

	result := make([][]float32, want)
	for i, d := range parsed.Data {
		idx := d.Index
		if idx < 0 || idx >= want || result[idx] != nil {
			idx = i
		}
		if err := checkDimension(compatibleProvider, d.Embedding, c.cfg.Dimension); err != nil {
			return nil, err
		}
		result[idx] = d.Embedding
	}
	return result, nil
}

// supportsDimensions reports whether the model accepts an explicit output
// size. ada-002 rejects the parameter.
func supportsDimensions(model string) bool {
	return strings.HasPrefix(model, "text-embedding-3")
}

func checkDimension(provider string, vec []float32, want int) error {
	if len(vec) == want {
		return nil
	}
	return &ProviderError{
		Provider: provider,
		Kind:     KindUnknown,
		Message:  fmt.Sprintf("embedding has %d dimensions, want %d", len(vec), want),
	}
}
