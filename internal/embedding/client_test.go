package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/indoria/guppi/internal/config"
)

func TestEmbedTextSendsBearerAuthorization(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		resp := map[string]any{"data": []map[string]any{{"embedding": []float32{0.1, 0.2}}}}
		b, _ := json.Marshal(resp)
		w.Write(b)
	}))
	defer ts.Close()

	cfg := config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m", APIHeader: "Authorization", APIKey: "secret"}
	out, err := EmbedText(context.Background(), cfg, []string{"x"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{0.1, 0.2}}, out)
}

func TestEmbedTextRejectsMismatchedCount(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"data": []map[string]any{{"embedding": []float32{0.1}}}}
		b, _ := json.Marshal(resp)
		w.Write(b)
	}))
	defer ts.Close()

	cfg := config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m"}
	_, err := EmbedText(context.Background(), cfg, []string{"x", "y"})
	require.Error(t, err)
}

func TestEmbedTextRejectsEmptyInput(t *testing.T) {
	_, err := EmbedText(context.Background(), config.EmbeddingConfig{}, nil)
	require.Error(t, err)
}
