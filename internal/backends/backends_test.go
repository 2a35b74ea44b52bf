package backends

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsense/shopsense/internal/fallback"
	"github.com/shopsense/shopsense/pkg/errors"
)

func TestStaticCatalog_LookupByKind(t *testing.T) {
	catalog := NewStaticCatalog(map[string]interface{}{
		"orders.get": map[string]string{"status": "unknown"},
	})

	value, ok := catalog.Lookup(&fallback.Request{Kind: "orders.get"})
	require.True(t, ok)
	assert.Equal(t, map[string]string{"status": "unknown"}, value)

	_, ok = catalog.Lookup(&fallback.Request{Kind: "products.list"})
	assert.False(t, ok)
}

func TestStaticCatalog_CatchAll(t *testing.T) {
	catalog := NewStaticCatalog(nil)
	catalog.SetCatchAll("placeholder")

	value, ok := catalog.Lookup(&fallback.Request{Kind: "anything"})
	require.True(t, ok)
	assert.Equal(t, "placeholder", value)
}

func TestStaticCatalog_SetDefault(t *testing.T) {
	catalog := NewStaticCatalog(nil)
	catalog.SetDefault("k", "v")

	value, ok := catalog.Lookup(&fallback.Request{Kind: "k"})
	require.True(t, ok)
	assert.Equal(t, "v", value)
}

func TestHTTPBackend_GetWithParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/orders/get", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("id"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"order": "42"})
	}))
	defer server.Close()

	backend := NewHTTPBackend("test", server.URL)

	value, err := backend.Fetch(context.Background(), &fallback.Request{
		Kind:   "orders.get",
		Params: map[string]string{"id": "42"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"order": "42"}, value)
}

func TestHTTPBackend_PostWithPrompt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "summarize", body["prompt"])

		json.NewEncoder(w).Encode(map[string]string{"answer": "done"})
	}))
	defer server.Close()

	backend := NewHTTPBackend("test", server.URL)

	value, err := backend.Fetch(context.Background(), &fallback.Request{
		Kind:   "assistant.answer",
		Prompt: "summarize",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"answer": "done"}, value)
}

func TestHTTPBackend_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	backend := NewHTTPBackend("test", server.URL)

	_, err := backend.Fetch(context.Background(), &fallback.Request{Kind: "k"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStageFailure))
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPBackend_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	backend := NewHTTPBackend("test", server.URL)

	_, err := backend.Fetch(context.Background(), &fallback.Request{Kind: "k"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStageFailure))
}

func TestHTTPBackend_ContextCancellation(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer server.Close()
	defer close(blocked)

	backend := NewHTTPBackend("test", server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := backend.Fetch(ctx, &fallback.Request{Kind: "k"})
	require.Error(t, err)
}

func TestHTTPBackend_CustomHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode("ok")
	}))
	defer server.Close()

	backend := NewHTTPBackend("test", server.URL, WithHeader("Authorization", "Bearer token"))

	_, err := backend.Fetch(context.Background(), &fallback.Request{Kind: "k"})
	require.NoError(t, err)
}
