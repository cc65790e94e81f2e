package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const compatibleProvider = "compatible"

// CompatibleConfig points the client at any server speaking the OpenAI
// chat/embeddings wire format (DashScope, vLLM, Ollama, ...).
type CompatibleConfig struct {
	BaseURL        string
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	Dimension      int
	Timeout        time.Duration
}

type CompatibleClient struct {
	cfg        CompatibleConfig
	httpClient *http.Client
}

func NewCompatibleClient(cfg CompatibleConfig) *CompatibleClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = EmbeddingDimension
	}
	return &CompatibleClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *CompatibleClient) Name() string      { return compatibleProvider }
func (c *CompatibleClient) Dimension() int    { return c.cfg.Dimension }
func (c *CompatibleClient) ModelName() string { return c.cfg.EmbeddingModel }

type chatRequestBody struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

func (c *CompatibleClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := c.post(ctx, "/chat/completions", chatRequestBody{
		Model:       c.cfg.ChatModel,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(compatibleProvider, fmt.Errorf("read llm response failed: %w", err))
	}

	var parsed struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse llm json failed: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("empty llm choices")
	}
	return &CompletionResponse{
		Content:      parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}

func (c *CompatibleClient) StreamComplete(
	ctx context.Context,
	req CompletionRequest,
	onChunk func(chunk string) error,
) (*CompletionResponse, error) {
	resp, err := c.post(ctx, "/chat/completions", chatRequestBody{
		Model:       c.cfg.ChatModel,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	var full strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
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
	if err := scanner.Err(); err != nil {
		return nil, transportError(compatibleProvider, fmt.Errorf("scan llm stream failed: %w", err))
	}
	return &CompletionResponse{Content: full.String(), Model: c.cfg.ChatModel}, nil
}

// post sends a JSON body and returns the response only when the upstream
// answered with a 2xx status; every other outcome is a *ProviderError.
func (c *CompatibleClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, missingKeyError(compatibleProvider)
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request failed: %w", path, err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build %s request failed: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(compatibleProvider, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		code, msg := parseErrorBody(raw)
		return nil, newProviderError(compatibleProvider, resp.StatusCode, code, msg, nil)
	}
	return resp, nil
}

// parseErrorBody understands both the OpenAI envelope
// {"error":{"code":..,"message":..}} and the flat {"code":..,"message":..}
// shape some compatible servers use.
func parseErrorBody(raw []byte) (code, message string) {
	var nested struct {
		Error struct {
			Code    any    `json:"code"`
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &nested) == nil && (nested.Error.Message != "" || nested.Error.Code != nil) {
		return codeString(nested.Error.Code), nested.Error.Message
	}

	var flat struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &flat) == nil && (flat.Message != "" || flat.Code != nil) {
		return codeString(flat.Code), flat.Message
	}
	return "", strings.TrimSpace(string(raw))
}

func codeString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return fmt.Sprintf("%d", int(c))
	default:
		return fmt.Sprint(c)
	}
}
