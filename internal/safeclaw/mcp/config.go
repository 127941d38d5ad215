package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ServerSpec describes one configured MCP server.
type ServerSpec struct {
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Transport string            `json:"transport,omitempty"` // "stdio" (default), "http", "sse"
}

// environ merges the process environment with the spec's env entries.
func (s ServerSpec) environ() []string {
	env := os.Environ()
	for k, v := range s.Env {
		env = append(env, k+"="+v)
	}
	return env
}

type configFile struct {
	Servers map[string]ServerSpec `json:"mcpServers"`
}

// LoadConfig reads an mcp.json file. Command, args and env values may carry
// ${VAR} placeholders resolved from the environment at load time. A missing
// file yields an empty configuration.
func LoadConfig(path string) (map[string]ServerSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]ServerSpec{}, nil
		}
		return nil, fmt.Errorf("mcp config: %w", err)
	}

	var cfg configFile
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("mcp config %s: %w", path, err)
	}

	out := make(map[string]ServerSpec, len(cfg.Servers))
	for name, spec := range cfg.Servers {
		if spec.Command == "" {
			return nil, fmt.Errorf("mcp config: server %q has no command", name)
		}
		spec.Command = os.ExpandEnv(spec.Command)
		for i, a := range spec.Args {
			spec.Args[i] = os.ExpandEnv(a)
		}
		expanded := make(map[string]string, len(spec.Env))
		for k, v := range spec.Env {
			expanded[k] = os.ExpandEnv(v)
		}
		spec.Env = expanded
		if spec.Transport == "" {
			spec.Transport = "stdio"
		}
		out[name] = spec
	}
	return out, nil
}
