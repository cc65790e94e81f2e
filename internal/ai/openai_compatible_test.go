package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCompatibleTestClient(t *testing.T, h http.HandlerFunc, dim int) *CompatibleClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewCompatibleClient(CompatibleConfig{
		BaseURL:        srv.URL + "/v1/",
		APIKey:         "sk-test",
		ChatModel:      "chat-model",
		EmbeddingModel: "text-embedding-3-small",
		Dimension:      dim,
	})
}

func TestCompatibleComplete(t *testing.T) {
	c := newCompatibleTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body chatRequestBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "chat-model", body.Model)
		assert.Equal(t, 2000, body.MaxTokens)
		assert.InDelta(t, 0.7, body.Temperature, 1e-9)
		assert.Len(t, body.Messages, 2)

		_, _ = w.Write([]byte(`{"model":"chat-model","choices":[{"message":{"content":"Revenue is up."}}],"usage":{"prompt_tokens":12,"completion_tokens":4}}`))
	}, 4)

	resp, err := c.Complete(context.Background(), CompletionRequest{
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: "sys"},
			{Role: RoleUser, Content: "hi"},
		},
		MaxTokens:   2000,
		Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "Revenue is up.", resp.Content)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 4, resp.OutputTokens)
}

func TestCompatibleStreamComplete(t *testing.T) {
	c := newCompatibleTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Rev", "enue ", "", "up"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, ": keep-alive\n\ndata: not-json\n\ndata: [DONE]\n\n")
	}, 4)

	var got []string
	resp, err := c.StreamComplete(context.Background(), CompletionRequest{}, func(s string) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Rev", "enue ", "up"}, got)
	assert.Equal(t, "Revenue up", resp.Content)
}

func TestCompatibleStreamStopsOnCallbackError(t *testing.T) {
	c := newCompatibleTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n")
	}, 4)

	stop := errors.New("client gone")
	_, err := c.StreamComplete(context.Background(), CompletionRequest{}, func(string) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestCompatibleEmbed(t *testing.T) {
	c := newCompatibleTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "quarterly revenue", body["input"])
		assert.EqualValues(t, 4, body["dimensions"])
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1,0.2,0.3,0.4]}]}`))
	}, 4)

	vec, err := c.Embed(context.Background(), "  quarterly revenue ")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, vec)

	_, err = c.Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyEmbeddingInput)
}

func TestCompatibleEmbedBatchKeepsOrder(t *testing.T) {
	c := newCompatibleTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[2,2]},{"index":0,"embedding":[1,1]}]}`))
	}, 2)

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 2}}, vecs)

	_, err = c.EmbedBatch(context.Background(), []string{"a", " "})
	assert.ErrorIs(t, err, ErrEmptyEmbeddingInput)
}

func TestCompatibleEmbedRejectsWrongDimension(t *testing.T) {
	c := newCompatibleTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1,0.2]}]}`))
	}, 4)

	_, err := c.Embed(context.Background(), "text")
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Message, "2 dimensions")
}

func TestCompatibleErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"bad key", 401, `{"error":{"message":"Incorrect API key","code":"invalid_api_key"}}`, KindConfiguration},
		{"unauthorized", 401, `{"error":{"message":"no access"}}`, KindAuthentication},
		{"throttled", 429, `{"error":{"message":"Rate limit reached","code":"rate_limit_exceeded"}}`, KindRateLimited},
		{"down", 503, `service unavailable`, KindUnavailable},
		{"bad request", 400, `{"error":{"message":"bad"}}`, KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newCompatibleTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}, 4)

			_, err := c.Complete(context.Background(), CompletionRequest{})
			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.want, pe.Kind)
			assert.Equal(t, tc.status, pe.StatusCode)
		})
	}
}

func TestCompatibleMissingKey(t *testing.T) {
	calls := 0
	c := newCompatibleTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls++ }, 4)
	c.cfg.APIKey = " "

	_, err := c.Complete(context.Background(), CompletionRequest{})
	assert.Equal(t, KindConfiguration, KindOf(err))
	_, err = c.Embed(context.Background(), "x")
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.Zero(t, calls)
}

func TestCompatibleUnreachable(t *testing.T) {
	c := NewCompatibleClient(CompatibleConfig{BaseURL: "http://127.0.0.1:1", APIKey: "k"})
	_, err := c.Complete(context.Background(), CompletionRequest{})
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.True(t, strings.Contains(err.Error(), "unavailable"))
}
