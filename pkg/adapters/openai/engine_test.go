package openai_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labwire/orderdesk/internal/retry"
	"github.com/labwire/orderdesk/pkg/adapters/openai"
	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func newEngine(t *testing.T, handler http.HandlerFunc) *openai.Engine {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	e, err := openai.New(openai.Config{APIKey: "test-key", BaseURL: srv.URL + "/v1", Model: "test-model"},
		openai.WithRetry(fastRetry))
	require.NoError(t, err)
	return e
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

const textResponse = `{"id":"1","object":"chat.completion","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Which tooth?"}}],"usage":{"prompt_tokens":10,"completion_tokens":3}}`

func TestEngine_RequestShape(t *testing.T) {
	var got map[string]any
	e := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, textResponse)
	})

	resp, err := e.Complete(context.Background(), ports.ChatRequest{
		System: "You are a dental order assistant.",
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "I need a crown"},
			{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "c1", Name: "store_restoration_type", Arguments: `{"restoration_type":"crown"}`}}},
			{Role: domain.RoleTool, ToolCallID: "c1", ToolName: "store_restoration_type", Content: `{"valid":true}`},
		},
		Tools:       []domain.ToolSpec{{Name: "store_tooth_positions", Description: "Record teeth"}},
		ToolChoice:  ports.ToolChoiceAuto,
		Temperature: 0.3,
		MaxTokens:   500,
	})
	require.NoError(t, err)
	assert.Equal(t, "Which tooth?", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)

	assert.Equal(t, "test-model", got["model"])
	assert.Equal(t, "auto", got["tool_choice"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assistant := msgs[2].(map[string]any)
	calls := assistant["tool_calls"].([]any)
	assert.Equal(t, "store_restoration_type", calls[0].(map[string]any)["function"].(map[string]any)["name"])
	assert.Equal(t, "c1", msgs[3].(map[string]any)["tool_call_id"])

	tools := got["tools"].([]any)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "store_tooth_positions", fn["name"])
	assert.Equal(t, "object", fn["parameters"].(map[string]any)["type"])
}

func TestEngine_NoToolsOmitsToolChoice(t *testing.T) {
	var got map[string]any
	e := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, textResponse)
	})
	_, err := e.Complete(context.Background(), ports.ChatRequest{
		Messages:   []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		ToolChoice: ports.ToolChoiceNone,
	})
	require.NoError(t, err)
	_, has := got["tool_choice"]
	assert.False(t, has)
}

func TestEngine_ToolCalls(t *testing.T) {
	e := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"choices":[{"finish_reason":"tool_calls","message":{"role":"assistant","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"validate_bridge","arguments":"{\"tooth_positions\":\"14,15,16\"}"}}]}}]}`)
	})
	resp, err := e.Complete(context.Background(), ports.ChatRequest{})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, domain.ToolCall{ID: "call_1", Name: "validate_bridge", Arguments: `{"tooth_positions":"14,15,16"}`}, resp.ToolCalls[0])
}

func TestEngine_ContentFilter(t *testing.T) {
	t.Run("error response", func(t *testing.T) {
		var calls atomic.Int32
		e := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			writeJSON(w, http.StatusBadRequest, `{"error":{"message":"The response was filtered","type":null,"code":"content_filter"}}`)
		})
		_, err := e.Complete(context.Background(), ports.ChatRequest{})
		assert.ErrorIs(t, err, domain.ErrContentFiltered)
		assert.Equal(t, int32(1), calls.Load(), "filtered requests are not retried")
	})

	t.Run("finish reason", func(t *testing.T) {
		e := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"choices":[{"finish_reason":"content_filter","message":{"role":"assistant","content":""}}]}`)
		})
		_, err := e.Complete(context.Background(), ports.ChatRequest{})
		assert.ErrorIs(t, err, domain.ErrContentFiltered)
	})
}

func TestEngine_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	e := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit","code":"rate_limit_exceeded"}}`)
			return
		}
		writeJSON(w, http.StatusOK, textResponse)
	})
	resp, err := e.Complete(context.Background(), ports.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Which tooth?", resp.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEngine_Failures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
		wantErr   []error
	}{
		{"rate limit exhausted", http.StatusTooManyRequests, 3, []error{domain.ErrEngineUnavailable, domain.ErrRateLimited}},
		{"server error retried", http.StatusBadGateway, 3, []error{domain.ErrEngineUnavailable}},
		{"bad request not retried", http.StatusBadRequest, 1, []error{domain.ErrEngineUnavailable}},
		{"unauthorized not retried", http.StatusUnauthorized, 1, []error{domain.ErrEngineUnavailable}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			e := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				writeJSON(w, tt.status, `{"error":{"message":"nope","type":"error","code":"x"}}`)
			})
			_, err := e.Complete(context.Background(), ports.ChatRequest{})
			for _, want := range tt.wantErr {
				assert.ErrorIs(t, err, want)
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestEngine_Timeout(t *testing.T) {
	e := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Complete(ctx, ports.ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrEngineUnavailable)
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := openai.New(openai.Config{})
	assert.Error(t, err)

	e, err := openai.New(openai.Config{APIKey: "k", AzureEndpoint: "https://example.openai.azure.com", Model: "gpt-4o-deploy"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-deploy", e.Model())
}
