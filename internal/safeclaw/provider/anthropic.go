package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAnthropicBase = "https://api.anthropic.com"
	anthropicVersion     = "2023-06-01"

	// The messages API requires max_tokens; this is the fallback when the
	// caller does not set one.
	anthropicDefaultMaxTokens = 4096
)

// AnthropicConfig configures the Anthropic messages adapter.
type AnthropicConfig struct {
	// APIKey is sent in the x-api-key header.
	APIKey string
	// BaseURL overrides the API endpoint. Defaults to api.anthropic.com.
	BaseURL string
	// Timeout for each HTTP request. Defaults to 120s.
	Timeout time.Duration
}

type anthropicProvider struct {
	cfg    AnthropicConfig
	client *http.Client
}

// NewAnthropic returns a Provider backed by the Anthropic messages API.
func NewAnthropic(cfg AnthropicConfig) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBase
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &anthropicProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *anthropicProvider) Name() string { return "anthropic" }

// --- wire types (subset of the messages API) ---

type antRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Messages  []antMessage `json:"messages"`
	Tools     []antTool    `json:"tools,omitempty"`
}

type antMessage struct {
	Role    string     `json:"role"`
	Content []antBlock `json:"content"`
}

type antBlock struct {
	Type string `json:"type"`
	// type=text
	Text string `json:"text,omitempty"`
	// type=tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
	// type=tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type antTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type antResponse struct {
	Content    []antBlock `json:"content"`
	StopReason string     `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat sends the conversation over the messages protocol. System messages
// move to the dedicated system slot; consecutive tool results collapse into
// one user message, which is how the API expects a multi-tool turn answered.
func (p *anthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var system []string
	var messages []antMessage
	var pendingResults []antBlock

	flushResults := func() {
		if len(pendingResults) > 0 {
			messages = append(messages, antMessage{Role: "user", Content: pendingResults})
			pendingResults = nil
		}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			flushResults()
			system = append(system, m.Content)
		case RoleUser:
			flushResults()
			messages = append(messages, antMessage{
				Role:    "user",
				Content: []antBlock{{Type: "text", Text: m.Content}},
			})
		case RoleAssistant:
			flushResults()
			var blocks []antBlock
			if m.Content != "" {
				blocks = append(blocks, antBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Input
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, antBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			if len(blocks) == 0 {
				blocks = []antBlock{{Type: "text", Text: ""}}
			}
			messages = append(messages, antMessage{Role: "assistant", Content: blocks})
		case RoleToolResult:
			pendingResults = append(pendingResults, antBlock{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
			})
		}
	}
	flushResults()

	tools := make([]antTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		tools = append(tools, antTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	body := antRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
		System:    strings.Join(system, "\n\n"),
		Messages:  messages,
		Tools:     tools,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	status, respBody, err := sendWithRetry(ctx, p.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			p.cfg.BaseURL+"/v1/messages", bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", p.cfg.APIKey)
		httpReq.Header.Set("anthropic-version", anthropicVersion)
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}

	var antResp antResponse
	if err := json.Unmarshal(respBody, &antResp); err != nil {
		return nil, fmt.Errorf("anthropic: decode response (status %d): %w", status, err)
	}
	if antResp.Error != nil {
		return nil, fmt.Errorf("anthropic error %s: %s", antResp.Error.Type, antResp.Error.Message)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("anthropic: status %d: %s", status, truncateBody(respBody))
	}

	out := &ChatResponse{
		StopReason: antResp.StopReason,
		Usage: TokenUsage{
			PromptTokens:     antResp.Usage.InputTokens,
			CompletionTokens: antResp.Usage.OutputTokens,
			TotalTokens:      antResp.Usage.InputTokens + antResp.Usage.OutputTokens,
		},
	}
	var text []string
	for _, block := range antResp.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			input := block.Input
			if input == nil {
				input = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:    ensureCallID(block.ID),
				Name:  block.Name,
				Input: input,
			})
		}
	}
	out.Text = strings.Join(text, "")
	return out, nil
}
