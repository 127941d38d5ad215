package mcp_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/safeclaw/safeclaw/internal/safeclaw/mcp"
)

// fakeServerScript emulates an MCP server well enough for one handshake, one
// tools/list and two tools/call exchanges. Requests arrive in a fixed order
// with sequential ids, so the responses can be canned.
const fakeServerScript = `#!/bin/sh
read line
echo '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05","serverInfo":{"name":"fake-docs","version":"1.0"}}}'
read line
read line
echo '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"search_docs","description":"Search the documentation"},{"name":"purge_cache","description":"Remove all cached entries"}]}}'
read line
echo '{"jsonrpc":"2.0","id":3,"result":{"content":[{"type":"text","text":"found 2 results"},{"type":"text","text":"query took 3ms"}]}}'
read line
echo '{"jsonrpc":"2.0","id":4,"result":{"content":[{"type":"text","text":"bad arguments"}],"isError":true}}'
cat > /dev/null
`

func writeFakeServer(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-mcp.sh")
	if err := os.WriteFile(path, []byte(fakeServerScript), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestManagerLifecycle(t *testing.T) {
	script := writeFakeServer(t)
	m := mcp.NewManager()
	t.Cleanup(m.DisconnectAll)

	statuses := m.ConnectAll(context.Background(), map[string]mcp.ServerSpec{
		"docs": {Command: "/bin/sh", Args: []string{script}, Transport: "stdio"},
	})
	if len(statuses) != 1 {
		t.Fatalf("statuses = %+v", statuses)
	}
	if statuses[0].Err != nil {
		t.Fatalf("connect: %v", statuses[0].Err)
	}
	if statuses[0].ToolCount != 2 {
		t.Errorf("tool count = %d, want 2", statuses[0].ToolCount)
	}

	tools := m.Tools()
	if len(tools) != 2 {
		t.Fatalf("tools = %+v", tools)
	}
	byName := map[string]mcp.ToolInfo{}
	for _, ti := range tools {
		byName[ti.Name] = ti
	}
	if ti := byName["search_docs"]; ti.Dangerous || ti.Server != "docs" {
		t.Errorf("search_docs = %+v", ti)
	}
	if ti := byName["purge_cache"]; !ti.Dangerous {
		t.Errorf("purge_cache should be dangerous: %+v", ti)
	}

	out, err := m.Call(context.Background(), "docs", "search_docs", map[string]any{"q": "approval"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out != "found 2 results\nquery took 3ms" {
		t.Errorf("call result = %q", out)
	}

	if _, err := m.Call(context.Background(), "docs", "purge_cache", nil); err == nil ||
		!strings.Contains(err.Error(), "bad arguments") {
		t.Errorf("isError result should surface as error, got %v", err)
	}

	if _, err := m.Call(context.Background(), "ghost", "x", nil); err == nil {
		t.Error("call to unknown server should fail")
	}

	m.DisconnectAll()
	if len(m.Connected()) != 0 || len(m.Tools()) != 0 {
		t.Error("DisconnectAll should forget servers and tools")
	}
}

func TestConnectAllReportsFailures(t *testing.T) {
	m := mcp.NewManager()
	t.Cleanup(m.DisconnectAll)

	statuses := m.ConnectAll(context.Background(), map[string]mcp.ServerSpec{
		"broken": {Command: "/nonexistent-binary-xyz", Transport: "stdio"},
		"future": {Command: "irrelevant", Transport: "sse"},
	})
	if len(statuses) != 2 {
		t.Fatalf("statuses = %+v", statuses)
	}
	for _, st := range statuses {
		if st.Err == nil {
			t.Errorf("server %s should have failed", st.Server)
		}
	}
	if len(m.Connected()) != 0 {
		t.Errorf("connected = %v", m.Connected())
	}
}

// schemaServerScript announces one tool with a valid input schema and one
// whose schema is not compilable.
const schemaServerScript = `#!/bin/sh
read line
echo '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05","serverInfo":{"name":"schemas","version":"1.0"}}}'
read line
read line
echo '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"lookup_entry","description":"Find an entry","inputSchema":{"type":"object","properties":{"q":{"type":"string"}}}},{"name":"broken_tool","description":"Bad schema","inputSchema":{"type":"banana"}}]}}'
cat > /dev/null
`

func TestConnectAllSkipsInvalidSchemas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema-mcp.sh")
	if err := os.WriteFile(path, []byte(schemaServerScript), 0o755); err != nil {
		t.Fatal(err)
	}
	m := mcp.NewManager()
	t.Cleanup(m.DisconnectAll)

	statuses := m.ConnectAll(context.Background(), map[string]mcp.ServerSpec{
		"schemas": {Command: "/bin/sh", Args: []string{path}, Transport: "stdio"},
	})
	if len(statuses) != 1 || statuses[0].Err != nil {
		t.Fatalf("statuses = %+v", statuses)
	}
	if statuses[0].ToolCount != 1 {
		t.Errorf("tool count = %d, want 1", statuses[0].ToolCount)
	}
	tools := m.Tools()
	if len(tools) != 1 || tools[0].Name != "lookup_entry" {
		t.Errorf("tools = %+v", tools)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("DOCS_TOKEN", "tok-123")
	path := filepath.Join(t.TempDir(), "mcp.json")
	cfg := `{
  "mcpServers": {
    "docs": {
      "command": "npx",
      "args": ["-y", "@example/docs-server"],
      "env": {"DOCS_TOKEN": "${DOCS_TOKEN}"}
    }
  }
}`
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	specs, err := mcp.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	spec, ok := specs["docs"]
	if !ok {
		t.Fatalf("specs = %+v", specs)
	}
	if spec.Env["DOCS_TOKEN"] != "tok-123" {
		t.Errorf("env not expanded: %+v", spec.Env)
	}
	if spec.Transport != "stdio" {
		t.Errorf("default transport = %q", spec.Transport)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	specs, err := mcp.LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil || len(specs) != 0 {
		t.Errorf("missing file: %v, %v", specs, err)
	}
}

func TestLoadConfigRejectsEmptyCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	if err := os.WriteFile(path, []byte(`{"mcpServers":{"bad":{}}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := mcp.LoadConfig(path); err == nil {
		t.Error("empty command should be rejected")
	}
}

func TestDangerClassification(t *testing.T) {
	cases := []struct {
		name, desc string
		want       bool
	}{
		{"search_docs", "Search the documentation", false},
		{"list_issues", "List open issues", false},
		{"get_weather", "", false},
		{"create_issue", "Create a new issue", true},
		{"deploy", "Deploys the site", true},
		{"updates_config", "", true},
		{"frobnicate", "Does something to the flux capacitor", true},
		{"", "", true},
		{"fetch_page", "Fetch and delete the page", true},
	}
	for _, tc := range cases {
		if got := mcp.Dangerous(tc.name, tc.desc); got != tc.want {
			t.Errorf("Dangerous(%q, %q) = %v, want %v", tc.name, tc.desc, got, tc.want)
		}
	}
}
