package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/safeclaw/safeclaw/common/retry"
)

// ToolInfo is a remote tool ready for registration: server-qualified
// provenance, the server's schema and the computed danger flag.
type ToolInfo struct {
	Server      string
	Name        string
	Description string
	Schema      map[string]any
	Dangerous   bool
}

// ServerStatus summarises one server's connection attempt for the wake report.
type ServerStatus struct {
	Server    string
	ToolCount int
	Err       error
}

// Manager owns the connected MCP server processes for one awake phase.
// The gateway serializes all access to it.
type Manager struct {
	clients map[string]*client
	tools   []ToolInfo
}

// NewManager returns a Manager with no connections.
func NewManager() *Manager {
	return &Manager{clients: make(map[string]*client)}
}

// ConnectAll starts every configured stdio server concurrently, with one
// retry on a failed connection, and collects each server's tool list.
// Failures are reported per server and never abort the others. Non-stdio
// transports are configuration errors for now.
func (m *Manager) ConnectAll(ctx context.Context, specs map[string]ServerSpec) []ServerStatus {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	type outcome struct {
		status ServerStatus
		client *client
		tools  []wireTool
	}
	outcomes := make([]outcome, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string, spec ServerSpec) {
			defer wg.Done()
			out := &outcomes[i]
			out.status = ServerStatus{Server: name}

			if spec.Transport != "stdio" {
				out.status.Err = fmt.Errorf("transport %q not supported, only stdio", spec.Transport)
				return
			}
			var c *client
			err := retry.Do(ctx, retry.Config{MaxAttempts: 2, InitialDelay: time.Second}, func() error {
				var connErr error
				c, connErr = connect(ctx, name, spec)
				return connErr
			})
			if err != nil {
				out.status.Err = err
				slog.Warn("mcp server failed to connect", "server", name, "error", err)
				return
			}
			wire, err := c.listTools(ctx)
			if err != nil {
				out.status.Err = fmt.Errorf("list tools: %w", err)
				c.close()
				return
			}
			out.client = c
			out.tools = wire
			out.status.ToolCount = len(wire)
		}(i, name, specs[name])
	}
	wg.Wait()

	statuses := make([]ServerStatus, 0, len(names))
	for i, name := range names {
		out := outcomes[i]
		if out.client != nil {
			m.clients[name] = out.client
			kept := 0
			for _, t := range out.tools {
				if err := checkSchema(t.InputSchema); err != nil {
					slog.Warn("mcp tool schema rejected", "server", name, "tool", t.Name, "error", err)
					continue
				}
				m.tools = append(m.tools, ToolInfo{
					Server:      name,
					Name:        t.Name,
					Description: t.Description,
					Schema:      t.InputSchema,
					Dangerous:   Dangerous(t.Name, t.Description),
				})
				kept++
			}
			out.status.ToolCount = kept
		}
		statuses = append(statuses, out.status)
	}
	return statuses
}

// checkSchema compiles a server-announced input schema. Tools whose schema
// does not compile are skipped at registration.
func checkSchema(schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	_, err = jsonschema.CompileString("tool-schema.json", string(raw))
	return err
}

// Tools returns every tool discovered by ConnectAll.
func (m *Manager) Tools() []ToolInfo {
	out := make([]ToolInfo, len(m.tools))
	copy(out, m.tools)
	return out
}

// Connected returns the names of the connected servers, sorted.
func (m *Manager) Connected() []string {
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call dispatches a tool call to the named server.
func (m *Manager) Call(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	c, ok := m.clients[server]
	if !ok {
		return "", fmt.Errorf("mcp server %q is not connected", server)
	}
	return c.callTool(ctx, tool, args)
}

// DisconnectAll shuts every server down and forgets the discovered tools.
// Idempotent; runs whenever the gateway leaves the awake state.
func (m *Manager) DisconnectAll() {
	for name, c := range m.clients {
		c.close()
		slog.Debug("mcp server disconnected", "server", name)
	}
	m.clients = make(map[string]*client)
	m.tools = nil
}
