package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/quota"
)

type fakeCharger struct {
	units int32
}

func (f *fakeCharger) Charge(_ context.Context, provider string, units int) (*domain.ProviderQuota, error) {
	if provider == domain.ProviderLLM {
		atomic.AddInt32(&f.units, int32(units))
	}
	return nil, nil
}

func writeCompletion(w http.ResponseWriter, content string) {
	resp := openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: content}}},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeAPIError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": msg, "type": code, "code": code},
	})
}

func testClient(t *testing.T, url string, charger Charger, keys ...string) *Client {
	t.Helper()
	cfg := Config{Endpoint: url + "/v1", APIKey: keys[0], Model: "gpt-test", Attempts: 2, RetryBase: time.Millisecond}
	if len(keys) > 1 {
		cfg.APIKey2 = keys[1]
	}
	c, err := NewClient(cfg, quota.NewClassifier().For(domain.ProviderLLM), charger)
	require.NoError(t, err)
	return c
}

func TestClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key1", r.Header.Get("Authorization"))
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		assert.Equal(t, 2000, req.MaxTokens)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "sys", req.Messages[0].Content)
		assert.Equal(t, "hello", req.Messages[1].Content)
		require.NotNil(t, req.ResponseFormat)
		writeCompletion(w, `{"ok": true}`)
	}))
	defer server.Close()

	charger := &fakeCharger{}
	c := testClient(t, server.URL, charger, "key1")
	res, err := c.Complete(context.Background(), Request{System: "sys", Prompt: "hello", JSON: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, res)
	assert.Equal(t, int32(1), atomic.LoadInt32(&charger.units))
}

func TestClient_FailoverOnQuota(t *testing.T) {
	var primary, secondary int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer key1":
			atomic.AddInt32(&primary, 1)
			writeAPIError(w, http.StatusTooManyRequests, "You exceeded your current quota", "insufficient_quota")
		case "Bearer key2":
			atomic.AddInt32(&secondary, 1)
			writeCompletion(w, "from secondary")
		}
	}))
	defer server.Close()

	c := testClient(t, server.URL, nil, "key1", "key2")
	res, err := c.Complete(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "from secondary", res)
	assert.Equal(t, int32(1), atomic.LoadInt32(&primary), "quota errors are not retried on the same key")
	assert.Equal(t, int32(1), atomic.LoadInt32(&secondary))
}

func TestClient_TransientRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			writeAPIError(w, http.StatusServiceUnavailable, "server overloaded", "server_error")
			return
		}
		writeCompletion(w, "ok")
	}))
	defer server.Close()

	c := testClient(t, server.URL, nil, "key1")
	res, err := c.Complete(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_ErrorCategories(t *testing.T) {
	tests := []struct {
		name   string
		status int
		msg    string
		code   string
		cat    domain.Category
		calls  int32
	}{
		{name: "quota", status: 429, msg: "You exceeded your current quota", code: "insufficient_quota",
			cat: domain.CatQuota, calls: 1},
		{name: "auth", status: 401, msg: "Incorrect API key provided", code: "invalid_api_key", cat: domain.CatAuth, calls: 1},
		{name: "rate limited", status: 429, msg: "Rate limit reached for requests", code: "rate_limit_exceeded",
			cat: domain.CatRateLimited, calls: 2},
		{name: "transient", status: 502, msg: "bad gateway", code: "server_error", cat: domain.CatTransient, calls: 2},
		{name: "permanent", status: 400, msg: "model does not exist", code: "model_not_found", cat: "", calls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				writeAPIError(w, tt.status, tt.msg, tt.code)
			}))
			defer server.Close()

			c := testClient(t, server.URL, nil, "key1")
			_, err := c.Complete(context.Background(), Request{Prompt: "hi"})
			require.Error(t, err)
			assert.Equal(t, tt.cat, domain.CategoryOf(err))
			assert.Equal(t, tt.calls, atomic.LoadInt32(&calls))
			if tt.cat == domain.CatQuota {
				assert.ErrorIs(t, err, domain.ErrQuotaExhausted)
			}
		})
	}
}

func TestClient_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(w, "late")
	}))
	defer server.Close()

	c := testClient(t, server.URL, nil, "key1", "key2")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, Request{Prompt: "hi"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestClient_OllamaFailover(t *testing.T) {
	openaiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusUnauthorized, "Incorrect API key provided", "invalid_api_key")
	}))
	defer openaiSrv.Close()

	ollamaSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req["model"])
		assert.Equal(t, "json", req["format"])
		assert.Equal(t, false, req["stream"])
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": "llama3", "response": `{"topic": "local"}`, "done": true})
	}))
	defer ollamaSrv.Close()

	cfg := Config{Endpoint: openaiSrv.URL + "/v1", APIKey: "bad", OllamaURL: ollamaSrv.URL, OllamaModel: "llama3",
		Attempts: 1, RetryBase: time.Millisecond}
	c, err := NewClient(cfg, quota.NewClassifier().For(domain.ProviderLLM), nil)
	require.NoError(t, err)
	res, err := c.Complete(context.Background(), Request{Prompt: "hi", JSON: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic": "local"}`, res)
}

func TestNewClient_NoBackend(t *testing.T) {
	_, err := NewClient(Config{}, nil, nil)
	require.Error(t, err)
}
