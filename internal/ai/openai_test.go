package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAITestProvider(t *testing.T, h http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewOpenAIProvider(OpenAIConfig{
		APIKey:         "sk-test",
		BaseURL:        srv.URL + "/v1",
		ChatModel:      "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		Dimension:      3,
	})
}

func TestOpenAIProviderComplete(t *testing.T) {
	p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"Margins improved."},"finish_reason":"stop"}],"usage":{"prompt_tokens":9,"completion_tokens":3,"total_tokens":12}}`))
	})

	resp, err := p.Complete(context.Background(), CompletionRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "How are margins?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Margins improved.", resp.Content)
	assert.Equal(t, 9, resp.InputTokens)
}

func TestOpenAIProviderEmbed(t *testing.T) {
	p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.5,0.25,0.125]}],"model":"text-embedding-3-small"}`))
	})

	vec, err := p.Embed(context.Background(), "cash flow")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25, 0.125}, vec)
}

func TestOpenAIProviderErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"invalid key", 401, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`, KindConfiguration},
		{"forbidden", 403, `{"error":{"message":"not allowed","type":"permission_error"}}`, KindAuthentication},
		{"rate limited", 429, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`, KindRateLimited},
		{"server error", 500, `{"error":{"message":"internal","type":"server_error"}}`, KindUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := p.Complete(context.Background(), CompletionRequest{
				Messages: []ChatMessage{{Role: RoleUser, Content: "q"}},
			})
			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.want, pe.Kind)
			assert.Equal(t, "openai", pe.Provider)
		})
	}
}

func TestOpenAIProviderMissingKey(t *testing.T) {
	p := NewOpenAIProvider(OpenAIConfig{ChatModel: "m"})
	_, err := p.Complete(context.Background(), CompletionRequest{})
	assert.Equal(t, KindConfiguration, KindOf(err))
}

func TestFactory(t *testing.T) {
	for _, name := range []string{"openai", "compatible", "Gemini"} {
		c, err := NewCompleter(ProviderSettings{Provider: name})
		require.NoError(t, err)
		assert.NotNil(t, c)
		e, err := NewEmbedder(ProviderSettings{Provider: name, Dimension: 8})
		require.NoError(t, err)
		assert.Equal(t, 8, e.Dimension())
		assert.True(t, KnownProvider(name))
	}
	_, err := NewCompleter(ProviderSettings{Provider: "pinecone"})
	assert.Error(t, err)
	assert.False(t, KnownProvider("pinecone"))
}
