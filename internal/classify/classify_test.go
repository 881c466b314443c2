package classify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordcards/cardsync/internal/schema"
)

func fakeMessagesAPI(t *testing.T, status int, text string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "apple")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"overloaded"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_1",
			"type":          "message",
			"role":          "assistant",
			"model":         DefaultModel,
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content":       []map[string]any{{"type": "text", "text": text}},
			"usage":         map[string]any{"input_tokens": 10, "output_tokens": 5},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnthropicClassify(t *testing.T) {
	srv := fakeMessagesAPI(t, http.StatusOK, "```json\n[\"Food\", \"fruit\", \"food\", \" \"]\n```")
	c, err := NewAnthropic(Config{APIKey: "test-key", BaseURL: srv.URL}, option.WithMaxRetries(0))
	require.NoError(t, err)

	got, err := c.Classify(context.Background(), schema.NewKey("apple", "en", "fr"), "pomme")
	require.NoError(t, err)
	assert.Equal(t, []string{"food", "fruit"}, got)
}

func TestAnthropicAPIError(t *testing.T) {
	srv := fakeMessagesAPI(t, http.StatusInternalServerError, "")
	c, err := NewAnthropic(Config{APIKey: "test-key", BaseURL: srv.URL}, option.WithMaxRetries(0))
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), schema.NewKey("apple", "en", "fr"), "")
	assert.Error(t, err)
}

func TestAnthropicUnparseableAnswer(t *testing.T) {
	srv := fakeMessagesAPI(t, http.StatusOK, "I think it is about food.")
	c, err := NewAnthropic(Config{APIKey: "test-key", BaseURL: srv.URL}, option.WithMaxRetries(0))
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), schema.NewKey("apple", "en", "fr"), "pomme")
	assert.ErrorContains(t, err, "parse categories")
}

func TestNewAnthropicRequiresKey(t *testing.T) {
	_, err := NewAnthropic(Config{})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestNormalizeCapsLength(t *testing.T) {
	got := Normalize([]string{"a", "b", "c", "d", "e", "f"})
	assert.Len(t, got, MaxCategories)
	assert.Equal(t, "a", got[0])
}
