package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type answer struct {
	Summary string   `json:"summary"`
	Topics  []string `json:"topics"`
}

func (a *answer) Validate() error {
	if a.Summary == "" {
		return errors.New("summary is required")
	}
	return nil
}

func completionBody(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message": map[string]any{
				"role":    "assistant",
				"content": content,
			},
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
}

func TestOpenAIComplete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionBody(`{"summary":"ok","topics":["visa"]}`))
	}))
	defer srv.Close()

	client := NewOpenAI(OpenAIConfig{
		APIKey:    "test-key",
		BaseURL:   srv.URL + "/v1",
		Model:     "test-model",
		MaxTokens: 200,
	}, nil)

	var out answer
	err := Call(context.Background(), client, "summarize", Request{System: "sys", Prompt: "hello"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Summary)
	assert.Equal(t, []string{"visa"}, out.Topics)

	assert.Equal(t, "test-model", got["model"])
	format, ok := got["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestOpenAICompleteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewOpenAI(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
		Model:   "test-model",
		Timeout: 50 * time.Millisecond,
	}, nil)

	_, err := client.Complete(context.Background(), Request{Prompt: "hello"})
	var ese *ExternalServiceError
	require.ErrorAs(t, err, &ese)
	assert.True(t, ese.Timeout())
}

func TestOpenAICompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	client := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "m"}, nil)

	_, err := client.Complete(context.Background(), Request{Prompt: "hello"})
	var ese *ExternalServiceError
	require.ErrorAs(t, err, &ese)
	assert.False(t, ese.Timeout())
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "valid", raw: `{"summary":"s"}`},
		{name: "surrounding whitespace", raw: "\n  {\"summary\":\"s\"}\n"},
		{name: "empty", raw: "  ", wantErr: true},
		{name: "not json", raw: "Sure! Here is your summary.", wantErr: true},
		{name: "trailing text", raw: `{"summary":"s"} thanks`, wantErr: true},
		{name: "two objects", raw: `{"summary":"s"}{"summary":"t"}`, wantErr: true},
		{name: "missing field", raw: `{"topics":[]}`, wantErr: true},
		{name: "wrong type", raw: `{"summary":1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out answer
			err := Decode(tt.raw, &out)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCallWrapsPlainErrors(t *testing.T) {
	c := CompleterFunc(func(context.Context, Request) (string, error) {
		return "", errors.New("connection refused")
	})

	var out answer
	err := Call(context.Background(), c, "extract", Request{}, &out)
	var ese *ExternalServiceError
	require.ErrorAs(t, err, &ese)
	assert.Equal(t, "extract", ese.Op)
	assert.EqualError(t, err, "llm extract: connection refused")
}

func TestCallRejectsMalformedAnswer(t *testing.T) {
	c := CompleterFunc(func(context.Context, Request) (string, error) {
		return "not json", nil
	})

	var out answer
	err := Call(context.Background(), c, "extract", Request{}, &out)
	var ese *ExternalServiceError
	assert.ErrorAs(t, err, &ese)
}
