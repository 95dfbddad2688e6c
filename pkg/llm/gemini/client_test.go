package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/conserje/pkg/llm"
)

var _ llm.Provider = (*Client)(nil)

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), &llm.Config{})
	assert.Error(t, err)
}

func TestCompleteSendsSystemInstructionAndImage(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-2.0-flash:generateContent"), r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": `{"interpretation":"lavabo tapado"}`}},
				},
			}},
			"usageMetadata": map[string]any{
				"promptTokenCount":     12,
				"candidatesTokenCount": 4,
				"totalTokenCount":      16,
			},
		})
	}))
	defer server.Close()

	client, err := New(context.Background(), &llm.Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "Describe la foto."},
		{Role: llm.RoleUser, Content: "baño", Images: []llm.Image{{Data: []byte{0xff, 0xd8}, MimeType: "image/jpeg"}}},
	}, &llm.Options{JSON: true})
	require.NoError(t, err)

	assert.Equal(t, `{"interpretation":"lavabo tapado"}`, resp.Content)
	assert.Equal(t, 16, resp.Usage.TotalTokens)

	require.NotNil(t, body["systemInstruction"])
	contents := body["contents"].([]any)
	require.Len(t, contents, 1)
	parts := contents[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	assert.Contains(t, parts[1].(map[string]any), "inlineData")
	cfg := body["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", cfg["responseMimeType"])
}
