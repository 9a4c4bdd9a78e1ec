package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pserrors "github.com/pulseshrine/pulseshrine-go-rewrite/internal/errors"
)

func TestAnthropicChat(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(anthropicResponse{
			ID:    "msg-1",
			Model: gotReq.Model,
			Content: []anthropicContent{
				{Type: "text", Text: "TITLE: "},
				{Type: "text", Text: "Deep Focus"},
			},
			StopReason: "end_turn",
			Usage:      anthropicUsage{InputTokens: 42, OutputTokens: 7},
		})
	}))
	defer srv.Close()

	client := NewAnthropicClient("test-key", srv.URL)
	resp, err := client.Chat(context.Background(), ChatRequest{
		Model: "claude-3-5-haiku-20241022",
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "title please"},
		},
		System:    "be brief",
		MaxTokens: 150,
	})
	require.NoError(t, err)

	// Text blocks are concatenated, system turns stay out of messages.
	assert.Equal(t, "TITLE: Deep Focus", resp.Content)
	assert.Equal(t, 42, resp.InputTokens)
	assert.Equal(t, 7, resp.OutputTokens)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
	assert.Equal(t, "be brief", gotReq.System)
}

func TestAnthropicChatNonRetryableStatus(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"type":  "error",
			"error": map[string]string{"type": "not_found_error", "message": "model not found"},
		})
	}))
	defer srv.Close()

	client := NewAnthropicClient("test-key", srv.URL)
	_, err := client.Chat(context.Background(), ChatRequest{
		Model:    "claude-nonexistent",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, pserrors.KindModelUnavailable, pserrors.KindOf(err))
	// 4xx other than 429 must not be retried.
	assert.Equal(t, 1, calls)
}

func TestOpenAIChat(t *testing.T) {
	var gotReq openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "cmpl-1",
			"model": gotReq.Model,
			"choices": []map[string]interface{}{
				{
					"message":       map[string]string{"role": "assistant", "content": "🏆 Flow Master"},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{"prompt_tokens": 30, "completion_tokens": 5},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient("test-key", srv.URL)
	resp, err := client.Chat(context.Background(), ChatRequest{
		Model:     "us.amazon.nova-lite-v1:0",
		Messages:  []Message{{Role: "user", Content: "badge please"}},
		System:    "be brief",
		MaxTokens: 60,
	})
	require.NoError(t, err)

	assert.Equal(t, "🏆 Flow Master", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, 30, resp.InputTokens)
	assert.Equal(t, 5, resp.OutputTokens)
	// The system prompt is prepended as a system message.
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
}

func TestProbeSendsOneTokenCall(t *testing.T) {
	var gotReq openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model": gotReq.Model,
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "Hi"}, "finish_reason": "length"},
			},
			"usage": map[string]int{"prompt_tokens": 1, "completion_tokens": 1},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient("test-key", srv.URL)
	require.NoError(t, client.Probe(context.Background(), "us.amazon.nova-lite-v1:0"))
	assert.Equal(t, 1, gotReq.MaxTokens)
}

func TestRouterDialectSelection(t *testing.T) {
	anthropic := NewAnthropicClient("a", "")
	openai := NewOpenAIClient("o", "")
	router := NewRouterWith(anthropic, openai)

	cases := []struct {
		modelID string
		want    string
	}{
		{"claude-3-5-haiku-20241022", "anthropic"},
		{"us.anthropic.claude-3-5-sonnet-20241022-v2:0", "anthropic"},
		{"us.amazon.nova-lite-v1:0", "openai"},
		{"gpt-4o-mini", "openai"},
	}
	for _, tc := range cases {
		p, err := router.For(tc.modelID)
		require.NoError(t, err, tc.modelID)
		assert.Equal(t, tc.want, p.Name(), tc.modelID)
	}

	_, err := router.For("")
	require.Error(t, err)
	assert.Equal(t, pserrors.KindValidation, pserrors.KindOf(err))
}
