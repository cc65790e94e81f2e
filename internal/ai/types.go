package ai

import "context"

// EmbeddingDimension is the vector size every embedder must produce.
const EmbeddingDimension = 1536

type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type ChatMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

type CompletionRequest struct {
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

type CompletionResponse struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Completer can complete a chat prompt.
type Completer interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// StreamCompleter is implemented by completers that can emit partial output.
type StreamCompleter interface {
	Completer
	StreamComplete(ctx context.Context, req CompletionRequest, onChunk func(string) error) (*CompletionResponse, error)
}

// Embedder converts text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	ModelName() string
}

// Stream uses the completer's streaming mode when it has one and otherwise
// delivers the whole completion as a single chunk.
func Stream(ctx context.Context, c Completer, req CompletionRequest, onChunk func(string) error) (*CompletionResponse, error) {
	if sc, ok := c.(StreamCompleter); ok {
		return sc.StreamComplete(ctx, req, onChunk)
	}
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Content != "" {
		if err := onChunk(resp.Content); err != nil {
			return nil, err
		}
	}
	return resp, nil
}
