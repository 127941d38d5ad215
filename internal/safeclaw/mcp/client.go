package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/safeclaw/safeclaw/common/version"
)

const protocolVersion = "2024-11-05"

// closeGrace is how long Close waits for the server process to exit after
// stdin is closed before killing it.
const closeGrace = 3 * time.Second

// client speaks JSON-RPC 2.0 to one MCP server process over stdin/stdout.
type client struct {
	server string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	mu     sync.Mutex
	nextID atomic.Int64

	pending map[int64]chan *jrpcResponse
	pendMu  sync.Mutex
}

// connect starts the server process and performs the MCP handshake. The
// returned client is ready for listTools and callTool.
func connect(ctx context.Context, server string, spec ServerSpec) (*client, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = spec.environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}

	c := &client{
		server:  server,
		cmd:     cmd,
		stdin:   stdin,
		pending: make(map[int64]chan *jrpcResponse),
	}
	go c.readLoop(stdout)

	var initRes initializeResult
	err = c.call(ctx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    clientCaps{},
		ClientInfo:      clientInfo{Name: "safeclaw", Version: version.Version},
	}, &initRes)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	c.notify("notifications/initialized")

	slog.Info("mcp server connected",
		"server", server,
		"reports", initRes.ServerInfo.Name,
		"version", initRes.ServerInfo.Version,
	)
	return c, nil
}

func (c *client) listTools(ctx context.Context) ([]wireTool, error) {
	var res listToolsResult
	if err := c.call(ctx, "tools/list", nil, &res); err != nil {
		return nil, err
	}
	return res.Tools, nil
}

// callTool invokes a tool and flattens the result's content parts into text.
// A result the server flags as an error comes back as a Go error carrying
// the same text.
func (c *client) callTool(ctx context.Context, tool string, args map[string]any) (string, error) {
	var res callToolResult
	if err := c.call(ctx, "tools/call", callToolParams{Name: tool, Arguments: args}, &res); err != nil {
		return "", err
	}
	text := flattenContent(res.Content)
	if res.IsError {
		return "", fmt.Errorf("%s", text)
	}
	return text, nil
}

// close shuts the server down: stdin close signals exit, and a stubborn
// process is killed after the grace period.
func (c *client) close() {
	c.stdin.Close()
	done := make(chan struct{})
	go func() {
		c.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeGrace):
		c.cmd.Process.Kill()
		<-done
	}
}

func (c *client) call(ctx context.Context, method string, params, result any) error {
	id := c.nextID.Add(1)
	data, err := json.Marshal(jrpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	ch := make(chan *jrpcResponse, 1)
	c.pendMu.Lock()
	c.pending[id] = ch
	c.pendMu.Unlock()

	c.mu.Lock()
	_, err = fmt.Fprintf(c.stdin, "%s\n", data)
	c.mu.Unlock()
	if err != nil {
		c.forget(id)
		return fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil {
			return nil
		}
		raw, err := json.Marshal(resp.Result)
		if err != nil {
			return fmt.Errorf("re-marshal result: %w", err)
		}
		return json.Unmarshal(raw, result)
	}
}

func (c *client) notify(method string) {
	data, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": method})
	c.mu.Lock()
	fmt.Fprintf(c.stdin, "%s\n", data)
	c.mu.Unlock()
}

func (c *client) forget(id int64) {
	c.pendMu.Lock()
	delete(c.pending, id)
	c.pendMu.Unlock()
}

func (c *client) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp jrpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			slog.Warn("mcp: unparseable response line", "server", c.server, "error", err)
			continue
		}
		c.pendMu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pendMu.Unlock()
		if ok {
			ch <- &resp
		}
	}

	// EOF: fail everything still waiting.
	c.pendMu.Lock()
	for id, ch := range c.pending {
		ch <- &jrpcResponse{ID: id, Error: &jrpcError{Code: -32000, Message: "mcp server closed the connection"}}
	}
	c.pending = make(map[int64]chan *jrpcResponse)
	c.pendMu.Unlock()
}

func flattenContent(items []contentItem) string {
	var parts []string
	for _, it := range items {
		switch it.Type {
		case "text":
			parts = append(parts, it.Text)
		case "image":
			parts = append(parts, fmt.Sprintf("[image %s]", it.MIME))
		default:
			if it.Text != "" {
				parts = append(parts, it.Text)
			}
		}
	}
	return strings.Join(parts, "\n")
}
