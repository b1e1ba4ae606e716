package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/indoria/guppi/internal/config"
	"github.com/indoria/guppi/internal/llm"
)

func TestChatReturnsText(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		defer r.Body.Close()
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hello"}]}}]}`))
	}))
	t.Cleanup(srv.Close)

	client, err := New(config.GoogleConfig{APIKey: "k", Model: "test-model", BaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	msg, err := client.Chat(context.Background(), []llm.Message{
		{Role: "system", Content: "do"},
		{Role: "user", Content: "hi"},
	}, nil, "")
	require.NoError(t, err)
	require.Equal(t, "hello", msg.Content)
	require.Equal(t, "/v1beta/models/test-model:generateContent", gotPath)
}

func TestChatCarriesThoughtSignatureOnToolCall(t *testing.T) {
	sig := "opaque-signature-bytes"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"candidates": []any{
				map[string]any{
					"content": map[string]any{
						"role": "model",
						"parts": []any{
							map[string]any{
								"functionCall":     map[string]any{"name": "lookup", "args": map[string]any{"x": 2}},
								"thoughtSignature": []byte(sig),
							},
						},
					},
				},
			},
		}
		b, _ := json.Marshal(resp)
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)

	client, err := New(config.GoogleConfig{APIKey: "k", Model: "test-model", BaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	msg, err := client.Chat(context.Background(), []llm.Message{{Role: "user", Content: "go"}}, []llm.ToolSchema{
		{Name: "lookup", Description: "desc", Parameters: map[string]any{"type": "object"}},
	}, "")
	require.NoError(t, err)
	require.Len(t, msg.ToolCalls, 1)
	require.Equal(t, "lookup", msg.ToolCalls[0].Name)
	require.NotEmpty(t, msg.ToolCalls[0].ThoughtSignature)
}

func TestPickModelPrefersRequestOverride(t *testing.T) {
	c, err := New(config.GoogleConfig{APIKey: "k", Model: "default-model"}, http.DefaultClient)
	require.NoError(t, err)
	require.Equal(t, "override-model", c.pickModel("override-model"))
	require.Equal(t, "default-model", c.pickModel(""))
}

func TestShouldIncludeThoughtSummaries(t *testing.T) {
	require.True(t, shouldIncludeThoughtSummaries("gemini-2.5-flash"))
	require.True(t, shouldIncludeThoughtSummaries("models/gemini-3-pro"))
	require.False(t, shouldIncludeThoughtSummaries("gemini-1.5-flash"))
	require.False(t, shouldIncludeThoughtSummaries(""))
}
