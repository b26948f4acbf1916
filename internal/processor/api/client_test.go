package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestClient_Process(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/process", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req processRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "https://example.com/story", req.URL)

		json.NewEncoder(w).Encode(map[string]any{
			"success":            true,
			"title":              "Story",
			"content":            "Body",
			"translated_content": "Cuerpo",
			"metadata":           map[string]string{"lang": "es"},
		})
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, APIKey: "test-key"}, testLogger())

	content, err := client.Process(context.Background(), "https://example.com/story")
	require.NoError(t, err)
	assert.Equal(t, "Story", *content.Title)
	assert.Equal(t, "Body", *content.Content)
	assert.Equal(t, "Cuerpo", *content.TranslatedContent)
	assert.JSONEq(t, `{"lang":"es"}`, string(content.Metadata))
}

func TestClient_Process_Unsuccessful(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   "page unreachable",
		})
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL}, testLogger())

	_, err := client.Process(context.Background(), "https://example.com/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page unreachable")
}

func TestClient_Process_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL}, testLogger())

	_, err := client.Process(context.Background(), "https://example.com/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status: 502")
}

func TestClient_Process_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Process(ctx, "https://example.com/x")
	require.Error(t, err)
}
