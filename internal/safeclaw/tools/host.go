package tools

import (
	"context"

	"github.com/safeclaw/safeclaw/internal/safeclaw/skills"
)

// The runner doubles as the privileged surface handed to dynamic skills.
// Skill code goes through the same workspace sandbox, secret guard and
// output redaction as the built-in tools.
var _ skills.Host = (*Runner)(nil)

// Shell runs a command the way exec_shell does.
func (r *Runner) Shell(ctx context.Context, command string) (string, error) {
	return r.Execute(ctx, "exec_shell", map[string]any{"command": command})
}

// ReadFile reads a workspace file the way read_file does.
func (r *Runner) ReadFile(path string) (string, error) {
	return r.Execute(context.Background(), "read_file", map[string]any{"path": path})
}

// WriteFile writes a workspace file the way write_file does.
func (r *Runner) WriteFile(path, content string) error {
	_, err := r.Execute(context.Background(), "write_file", map[string]any{"path": path, "content": content})
	return err
}
