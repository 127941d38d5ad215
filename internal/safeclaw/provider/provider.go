// Package provider abstracts the LLM vendors behind one neutral chat
// contract. A Provider is stateless apart from its credential; the agent
// loop resolves one per turn and never looks inside.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Role classifies a conversation message.
type Role string

const (
	RoleSystem     Role = "system"
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// Message is the neutral conversation unit. Assistant messages may carry
// ToolCalls; tool_result messages answer one of them via ToolCallID.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

// ToolSchema describes one callable tool to the model.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatRequest is one turn's worth of context. System-role messages are
// conveyed however the vendor wants them; everything else is replayed in
// order, including prior tool calls and their results.
type ChatRequest struct {
	Model     string
	Messages  []Message
	Tools     []ToolSchema
	MaxTokens int
}

// TokenUsage reports what the vendor billed for a call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResponse is the model's reply: text, tool calls, or both.
type ChatResponse struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	Usage      TokenUsage
}

// Provider is implemented once per vendor protocol.
type Provider interface {
	// Name returns the catalog name ("openai", "anthropic", "deepseek").
	Name() string
	// Chat sends the conversation and returns the model's next turn.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ErrUnknown is returned by New for a provider name outside the catalog.
var ErrUnknown = errors.New("unknown provider")

// New constructs the named provider with the given credential.
func New(name, apiKey string) (Provider, error) {
	switch name {
	case "openai":
		return NewOpenAI(OpenAIConfig{APIKey: apiKey}), nil
	case "deepseek":
		return NewOpenAI(OpenAIConfig{
			Vendor:  "deepseek",
			APIKey:  apiKey,
			BaseURL: deepseekBase,
		}), nil
	case "anthropic":
		return NewAnthropic(AnthropicConfig{APIKey: apiKey}), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
}

// catalog is the static model list per provider. First entry is the default.
var catalog = map[string][]string{
	"openai":    {"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini", "o3-mini"},
	"anthropic": {"claude-sonnet-4-20250514", "claude-opus-4-20250514", "claude-3-5-haiku-20241022"},
	"deepseek":  {"deepseek-chat", "deepseek-reasoner"},
}

// Names lists the supported provider names in display order.
func Names() []string {
	return []string{"openai", "anthropic", "deepseek"}
}

// Known reports whether name is a supported provider.
func Known(name string) bool {
	_, ok := catalog[name]
	return ok
}

// Models returns the model catalog for a provider, default first.
func Models(name string) []string {
	return append([]string(nil), catalog[name]...)
}

// DefaultModel returns the model used when the owner has not picked one.
func DefaultModel(name string) string {
	models := catalog[name]
	if len(models) == 0 {
		return ""
	}
	return models[0]
}
