package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/testpilot/pkg/types"
)

func completionServer(t *testing.T, capture *map[string]any, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization header = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if capture != nil {
			_ = json.Unmarshal(body, capture)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
}

func TestComplete(t *testing.T) {
	var req map[string]any
	srv := completionServer(t, &req, `{"type":"done"}`)
	defer srv.Close()

	p, err := NewProvider("test-key", WithBaseURL(srv.URL+"/v1/"), WithModel("gpt-4o"), WithTemperature(0.1))
	require.NoError(t, err)

	msg, err := p.Complete(context.Background(), []*types.Message{
		types.NewSystemMessage("sys"),
		types.NewUserMessage("hi"),
	})
	require.NoError(t, err)

	assert.Equal(t, types.RoleAssistant, msg.Role)
	assert.Equal(t, `{"type":"done"}`, msg.Content)

	assert.Equal(t, "gpt-4o", req["model"])
	assert.Equal(t, 0.1, req["temperature"])
	assert.Equal(t, map[string]any{"type": "json_object"}, req["response_format"])
	messages, ok := req["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	first := messages[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
}

func TestCompleteWithoutJSONMode(t *testing.T) {
	var req map[string]any
	srv := completionServer(t, &req, "ok")
	defer srv.Close()

	p, err := NewProvider("test-key", WithBaseURL(srv.URL+"/v1"), WithJSONMode(false))
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), []*types.Message{types.NewUserMessage("hi")})
	require.NoError(t, err)
	assert.NotContains(t, req, "response_format")
	assert.NotContains(t, req, "temperature")
}

func TestCompleteHTTPError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limited","type":"rate_limit"}}`)
	}))
	defer srv.Close()

	p, err := NewProvider("test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), []*types.Message{types.NewUserMessage("hi")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.Equal(t, 1, calls, "transport must not retry")
}

func TestCompleteHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	// Unblock the handler before Close waits on it.
	defer srv.Close()
	defer srv.CloseClientConnections()
	defer close(release)

	p, err := NewProvider("test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = p.Complete(ctx, []*types.Message{types.NewUserMessage("hi")})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNewProviderRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewProvider("")
	assert.Error(t, err)

	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("OPENAI_BASE_URL", "http://env.local/v1/")
	p, err := NewProvider("")
	require.NoError(t, err)
	assert.Equal(t, "http://env.local/v1", p.BaseURL())
	assert.Equal(t, DefaultModel, p.Model())
}
