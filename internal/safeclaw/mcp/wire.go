// Package mcp connects SafeClaw to remote tool servers speaking the Model
// Context Protocol over stdio (JSON-RPC 2.0, newline-delimited).
//
// Servers come from the mcp.json config under the storage directory. The
// manager starts each configured process, performs the initialize handshake,
// lists the server's tools and classifies every tool as safe or dangerous
// before it is offered to the model. Classification is deliberately
// pessimistic: a tool whose name and description say nothing recognisable is
// treated as dangerous.
package mcp

// jrpcRequest is an outbound JSON-RPC 2.0 request.
type jrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// jrpcResponse is an inbound JSON-RPC 2.0 response.
type jrpcResponse struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      int64      `json:"id"`
	Result  any        `json:"result,omitempty"`
	Error   *jrpcError `json:"error,omitempty"`
}

type jrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *jrpcError) Error() string { return e.Message }

type initializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    clientCaps `json:"capabilities"`
	ClientInfo      clientInfo `json:"clientInfo"`
}

type clientCaps struct{}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      serverInfo `json:"serverInfo"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type listToolsResult struct {
	Tools []wireTool `json:"tools"`
}

// wireTool is a tool description as the server reports it.
type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type callToolResult struct {
	Content []contentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// contentItem is a single piece of content returned by a tool call.
type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"`
	MIME string `json:"mimeType,omitempty"`
}
