package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/safeclaw/safeclaw/internal/safeclaw/provider"
)

func TestCatalog(t *testing.T) {
	for _, name := range provider.Names() {
		if !provider.Known(name) {
			t.Errorf("Known(%q) = false for a listed provider", name)
		}
		if provider.DefaultModel(name) == "" {
			t.Errorf("DefaultModel(%q) is empty", name)
		}
		if len(provider.Models(name)) == 0 {
			t.Errorf("Models(%q) is empty", name)
		}
	}
	if provider.Known("palm") {
		t.Error("Known(palm) = true, want false")
	}
	if _, err := provider.New("palm", "k"); err == nil {
		t.Error("New(palm) should fail")
	}
}

func TestOpenAIChatText(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "hello there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13}
		}`))
	}))
	defer srv.Close()

	p := provider.NewOpenAI(provider.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	resp, err := p.Chat(context.Background(), provider.ChatRequest{
		Model: "gpt-4o",
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "be brief"},
			{Role: provider.RoleUser, Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Text != "hello there" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 13 {
		t.Errorf("TotalTokens = %d", resp.Usage.TotalTokens)
	}

	msgs := captured["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	if role := msgs[0].(map[string]any)["role"]; role != "system" {
		t.Errorf("first message role = %v, want system", role)
	}
}

func TestOpenAIToolCallDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": null, "tool_calls": [
				{"id": "call_abc", "type": "function", "function": {"name": "read_file", "arguments": "{\"path\": \"a.txt\"}"}},
				{"id": "", "type": "function", "function": {"name": "list_dir", "arguments": "{path: '.'}"}}
			]}, "finish_reason": "tool_calls"}]
		}`))
	}))
	defer srv.Close()

	p := provider.NewOpenAI(provider.OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	resp, err := p.Chat(context.Background(), provider.ChatRequest{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("ToolCalls = %d, want 2", len(resp.ToolCalls))
	}

	first := resp.ToolCalls[0]
	if first.ID != "call_abc" || first.Name != "read_file" {
		t.Errorf("first call = %+v", first)
	}
	if first.Input["path"] != "a.txt" {
		t.Errorf("first call input = %v", first.Input)
	}

	// Second call: vendor omitted the id and produced sloppy JSON. The id is
	// synthesized and the arguments repaired.
	second := resp.ToolCalls[1]
	if second.ID == "" {
		t.Error("missing tool-call id was not synthesized")
	}
	if second.Input["path"] != "." {
		t.Errorf("repaired input = %v, want path=.", second.Input)
	}
}

func TestOpenAIReplaysToolHistory(t *testing.T) {
	var captured struct {
		Messages []map[string]any `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "done"}, "finish_reason": "stop"}]}`))
	}))
	defer srv.Close()

	p := provider.NewOpenAI(provider.OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Chat(context.Background(), provider.ChatRequest{
		Model: "gpt-4o",
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: "read a.txt"},
			{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{
				{ID: "call_1", Name: "read_file", Input: map[string]any{"path": "a.txt"}},
			}},
			{Role: provider.RoleToolResult, ToolCallID: "call_1", ToolName: "read_file", Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(captured.Messages) != 3 {
		t.Fatalf("sent %d messages, want 3", len(captured.Messages))
	}

	assistant := captured.Messages[1]
	calls, ok := assistant["tool_calls"].([]any)
	if !ok || len(calls) != 1 {
		t.Fatalf("assistant tool_calls = %v", assistant["tool_calls"])
	}
	fn := calls[0].(map[string]any)["function"].(map[string]any)
	if fn["name"] != "read_file" || !strings.Contains(fn["arguments"].(string), "a.txt") {
		t.Errorf("replayed function = %v", fn)
	}

	result := captured.Messages[2]
	if result["role"] != "tool" || result["tool_call_id"] != "call_1" || result["content"] != "hi" {
		t.Errorf("replayed tool result = %v", result)
	}
}

func TestOpenAIRetriesRateLimit(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": {"message": "rate limited", "type": "rate_limit_error"}}`))
			return
		}
		w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}]}`))
	}))
	defer srv.Close()

	p := provider.NewOpenAI(provider.OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	resp, err := p.Chat(context.Background(), provider.ChatRequest{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("Chat after retry: %v", err)
	}
	if resp.Text != "ok" || attempts != 2 {
		t.Errorf("Text = %q after %d attempts", resp.Text, attempts)
	}
}

func TestOpenAIRateLimitExhaustion(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "still limited", "type": "rate_limit_error"}}`))
	}))
	defer srv.Close()

	p := provider.NewOpenAI(provider.OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Chat(context.Background(), provider.ChatRequest{Model: "gpt-4o"})
	if err == nil {
		t.Fatal("Chat should fail after exhausting retries")
	}
	if attempts != 4 {
		t.Errorf("attempts = %d, want 4 (initial + 3 retries)", attempts)
	}
	if !strings.Contains(err.Error(), "still limited") {
		t.Errorf("final vendor message lost: %v", err)
	}
}

func TestAnthropicChat(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "sk-ant" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Error("anthropic-version header missing")
		}
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(`{
			"content": [
				{"type": "text", "text": "let me check"},
				{"type": "tool_use", "id": "toolu_1", "name": "read_file", "input": {"path": "a.txt"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 20, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	p := provider.NewAnthropic(provider.AnthropicConfig{APIKey: "sk-ant", BaseURL: srv.URL})
	resp, err := p.Chat(context.Background(), provider.ChatRequest{
		Model: "claude-sonnet-4-20250514",
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "you are terse"},
			{Role: provider.RoleUser, Content: "read a.txt"},
		},
		Tools: []provider.ToolSchema{{Name: "read_file", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if captured["system"] != "you are terse" {
		t.Errorf("system slot = %v", captured["system"])
	}
	msgs := captured["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1 (system moved out-of-band)", len(msgs))
	}
	if captured["max_tokens"].(float64) == 0 {
		t.Error("max_tokens must always be set")
	}

	if resp.Text != "let me check" {
		t.Errorf("Text = %q", resp.Text)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "toolu_1" || resp.ToolCalls[0].Input["path"] != "a.txt" {
		t.Errorf("ToolCalls = %+v", resp.ToolCalls)
	}
	if resp.Usage.TotalTokens != 25 {
		t.Errorf("TotalTokens = %d, want 25", resp.Usage.TotalTokens)
	}
}

func TestAnthropicMergesToolResults(t *testing.T) {
	var captured struct {
		Messages []struct {
			Role    string           `json:"role"`
			Content []map[string]any `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(`{"content": [{"type": "text", "text": "done"}], "stop_reason": "end_turn", "usage": {"input_tokens": 1, "output_tokens": 1}}`))
	}))
	defer srv.Close()

	p := provider.NewAnthropic(provider.AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Chat(context.Background(), provider.ChatRequest{
		Model: "claude-sonnet-4-20250514",
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: "go"},
			{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{
				{ID: "t1", Name: "read_file", Input: map[string]any{"path": "a"}},
				{ID: "t2", Name: "read_file", Input: map[string]any{"path": "b"}},
			}},
			{Role: provider.RoleToolResult, ToolCallID: "t1", Content: "A"},
			{Role: provider.RoleToolResult, ToolCallID: "t2", Content: "B"},
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if len(captured.Messages) != 3 {
		t.Fatalf("sent %d messages, want 3 (two results merged)", len(captured.Messages))
	}
	last := captured.Messages[2]
	if last.Role != "user" || len(last.Content) != 2 {
		t.Fatalf("merged result message = %+v", last)
	}
	if last.Content[0]["tool_use_id"] != "t1" || last.Content[1]["tool_use_id"] != "t2" {
		t.Errorf("tool_use_ids = %v, %v", last.Content[0]["tool_use_id"], last.Content[1]["tool_use_id"])
	}

	assistant := captured.Messages[1]
	uses := 0
	for _, block := range assistant.Content {
		if block["type"] == "tool_use" {
			uses++
		}
	}
	if uses != 2 {
		t.Errorf("assistant turn replayed %d tool_use blocks, want 2", uses)
	}
}

func TestAnthropicErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type": "error", "error": {"type": "invalid_request_error", "message": "max_tokens required"}}`))
	}))
	defer srv.Close()

	p := provider.NewAnthropic(provider.AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Chat(context.Background(), provider.ChatRequest{Model: "claude-sonnet-4-20250514"})
	if err == nil || !strings.Contains(err.Error(), "max_tokens required") {
		t.Errorf("error = %v, want vendor message surfaced", err)
	}
}
