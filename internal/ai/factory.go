package ai

import (
	"fmt"
	"strings"
	"time"
)

const (
	ProviderOpenAI     = "openai"
	ProviderCompatible = "compatible"
	ProviderGemini     = "gemini"
)

type ProviderSettings struct {
	Provider       string
	BaseURL        string
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	Dimension      int
	Timeout        time.Duration
}

func KnownProvider(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProviderOpenAI, ProviderCompatible, ProviderGemini:
		return true
	}
	return false
}

// NewCompleter builds the chat provider named in s. A missing API key is not
// an error here: it surfaces per call as a configuration ProviderError.
func NewCompleter(s ProviderSettings) (Completer, error) {
	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case ProviderOpenAI:
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:    s.APIKey,
			BaseURL:   s.BaseURL,
			ChatModel: s.ChatModel,
		}), nil
	case ProviderCompatible:
		return NewCompatibleClient(CompatibleConfig{
			BaseURL:   s.BaseURL,
			APIKey:    s.APIKey,
			ChatModel: s.ChatModel,
			Timeout:   s.Timeout,
		}), nil
	case ProviderGemini:
		return NewGeminiProvider(GeminiConfig{
			APIKey:    s.APIKey,
			ChatModel: s.ChatModel,
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", s.Provider)
	}
}

func NewEmbedder(s ProviderSettings) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case ProviderOpenAI:
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:         s.APIKey,
			BaseURL:        s.BaseURL,
			EmbeddingModel: s.EmbeddingModel,
			Dimension:      s.Dimension,
		}), nil
	case ProviderCompatible:
		return NewCompatibleClient(CompatibleConfig{
			BaseURL:        s.BaseURL,
			APIKey:         s.APIKey,
			EmbeddingModel: s.EmbeddingModel,
			Dimension:      s.Dimension,
			Timeout:        s.Timeout,
		}), nil
	case ProviderGemini:
		return NewGeminiProvider(GeminiConfig{
			APIKey:         s.APIKey,
			EmbeddingModel: s.EmbeddingModel,
			Dimension:      s.Dimension,
		}), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", s.Provider)
	}
}
