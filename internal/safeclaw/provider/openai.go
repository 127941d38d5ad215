package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"
)

const (
	defaultOpenAIBase = "https://api.openai.com/v1"
	deepseekBase      = "https://api.deepseek.com/v1"
)

// OpenAIConfig configures the OpenAI-compatible adapter. DeepSeek speaks the
// same protocol and shares this implementation.
type OpenAIConfig struct {
	// Vendor is the catalog name reported by Name(). Defaults to "openai".
	Vendor string
	// APIKey is the bearer token for the API.
	APIKey string
	// BaseURL overrides the API endpoint. Defaults to api.openai.com.
	BaseURL string
	// Timeout for each HTTP request. Defaults to 120s.
	Timeout time.Duration
}

type openAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI returns a Provider backed by an OpenAI-compatible chat API.
func NewOpenAI(cfg OpenAIConfig) Provider {
	if cfg.Vendor == "" {
		cfg.Vendor = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBase
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &openAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *openAIProvider) Name() string { return p.cfg.Vendor }

// --- wire types (subset of the chat completions API) ---

type oaiRequest struct {
	Model     string       `json:"model"`
	Messages  []oaiMessage `json:"messages"`
	Tools     []oaiTool    `json:"tools,omitempty"`
	MaxTokens int          `json:"max_tokens,omitempty"`
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    interface{}   `json:"content"` // string or null
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

type oaiToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function oaiFunctionCall `json:"function"`
}

type oaiFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaiTool struct {
	Type     string         `json:"type"`
	Function oaiFunctionDef `json:"function"`
}

type oaiFunctionDef struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters,omitempty"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

// Chat sends the conversation over the chat completions protocol.
func (p *openAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	messages := make([]oaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		om := oaiMessage{Role: wireRole(m.Role)}
		if m.Content != "" {
			om.Content = m.Content
		}
		if m.Role == RoleToolResult {
			om.ToolCallID = m.ToolCallID
			om.Name = m.ToolName
			om.Content = m.Content // tool messages always carry content
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, oaiToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: oaiFunctionCall{
					Name:      tc.Name,
					Arguments: marshalInput(tc.Input),
				},
			})
		}
		messages = append(messages, om)
	}

	tools := make([]oaiTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, oaiTool{
			Type: "function",
			Function: oaiFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	body := oaiRequest{
		Model:     req.Model,
		Messages:  messages,
		Tools:     tools,
		MaxTokens: req.MaxTokens,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	status, respBody, err := sendWithRetry(ctx, p.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			p.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("%s: decode response (status %d): %w", p.cfg.Vendor, status, err)
	}
	if oaiResp.Error != nil {
		return nil, fmt.Errorf("%s error %s: %s", p.cfg.Vendor, oaiResp.Error.Type, oaiResp.Error.Message)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("%s: status %d: %s", p.cfg.Vendor, status, truncateBody(respBody))
	}
	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("%s: no choices in response (status %d)", p.cfg.Vendor, status)
	}

	choice := oaiResp.Choices[0]
	out := &ChatResponse{
		StopReason: choice.FinishReason,
		Usage: TokenUsage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
	}
	if s, ok := choice.Message.Content.(string); ok {
		out.Text = s
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:    ensureCallID(tc.ID),
			Name:  tc.Function.Name,
			Input: decodeArguments(tc.Function.Arguments),
		})
	}
	return out, nil
}

// wireRole maps the neutral roles onto the chat completions role names.
func wireRole(r Role) string {
	if r == RoleToolResult {
		return "tool"
	}
	return string(r)
}

// marshalInput serializes a tool-call input map back to the arguments string
// the protocol expects when replaying history.
func marshalInput(input map[string]any) string {
	if len(input) == 0 {
		return "{}"
	}
	data, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// decodeArguments parses a tool-call arguments string into a map. Models
// sometimes emit almost-JSON; run it through jsonrepair before giving up,
// and as a last resort hand the raw text to the tool under "_raw".
func decodeArguments(args string) map[string]any {
	if args == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(args), &m); err == nil {
		return m
	}
	if fixed, err := jsonrepair.JSONRepair(args); err == nil {
		if err := json.Unmarshal([]byte(fixed), &m); err == nil {
			return m
		}
	}
	return map[string]any{"_raw": args}
}

// ensureCallID keeps vendor-issued tool-call ids and synthesizes one when
// the vendor omitted it, so results can always be matched back.
func ensureCallID(id string) string {
	if id != "" {
		return id
	}
	return "call_" + uuid.NewString()[:8]
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "…"
	}
	return string(b)
}
