// Package tools executes the built-in tool actions exposed to the model:
// filesystem access, web browsing, shell execution, persistent memory and
// patch application.
//
// Every filesystem-touching action funnels through the same three steps, in
// order: lexical resolution against the workspace root (pure string work),
// the SecretGuard policy check, then physical resolution with symlink
// containment. A path the guard denies therefore never reaches a syscall.
// Guard denials surface as errors wrapping secretguard.ErrProtected so the
// caller can substitute the fixed denial message and audit the attempt.
//
// The Runner holds no per-conversation state. Whether an action may run at
// all (enabled, approved) is decided by the caller; the Runner only executes.
package tools

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/safeclaw/safeclaw/internal/safeclaw/memstore"
	"github.com/safeclaw/safeclaw/internal/safeclaw/procs"
	"github.com/safeclaw/safeclaw/internal/safeclaw/secretguard"
	"github.com/safeclaw/safeclaw/internal/safeclaw/workspace"
)

// MaxResultChars caps the size of a single tool result fed back to the
// provider. Longer results are cut and marked.
const MaxResultChars = 8000

// Runner executes built-in tool actions against the host.
type Runner struct {
	ws    *workspace.Root
	guard *secretguard.Guard
	procs *procs.Registry
	mem   *memstore.Store
	http  *http.Client
}

// New builds a Runner over the given workspace, guard, process registry and
// memory store.
func New(ws *workspace.Root, guard *secretguard.Guard, pr *procs.Registry, mem *memstore.Store) *Runner {
	return &Runner{
		ws:    ws,
		guard: guard,
		procs: pr,
		mem:   mem,
		http: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
	}
}

// Execute runs one built-in action with the model-supplied parameters and
// returns the tool result text. Errors carry diagnostic detail; guard
// denials wrap secretguard.ErrProtected.
func (r *Runner) Execute(ctx context.Context, action string, params map[string]any) (string, error) {
	switch action {
	case "read_file":
		return r.readFile(params)
	case "list_dir":
		return r.listDir(params)
	case "write_file":
		return r.writeFile(params)
	case "delete_file":
		return r.deleteFile(params)
	case "move_file":
		return r.moveFile(params)
	case "browse_web":
		return r.browseWeb(ctx, params)
	case "exec_shell":
		return r.execShell(ctx, params)
	case "exec_shell_bg":
		return r.execShellBg(params)
	case "process_poll":
		return r.processPoll(params)
	case "process_write":
		return r.processWrite(params)
	case "process_kill":
		return r.processKill(params)
	case "process_list":
		return r.processList()
	case "memory_read":
		return r.memoryRead(params)
	case "memory_write":
		return r.memoryWrite(params)
	case "memory_list":
		return r.memoryList()
	case "memory_delete":
		return r.memoryDelete(params)
	case "apply_patch":
		return r.applyPatch(params)
	default:
		return "", fmt.Errorf("unknown tool action %q", action)
	}
}

// guardedResolve runs the lexical-guard-physical-guard pipeline for a path
// about to be touched. The guard sees the lexical form first, before any
// syscall, and again after symlink resolution: a link inside the workspace
// can rename a protected file, so the physical path it lands on must pass
// the same check.
func (r *Runner) guardedResolve(path string) (string, error) {
	lex, err := r.ws.Lexical(path)
	if err != nil {
		return "", err
	}
	if err := r.guard.CheckPath(lex); err != nil {
		return "", err
	}
	resolved, err := r.ws.Resolve(path)
	if err != nil {
		return "", err
	}
	if err := r.guard.CheckPath(resolved); err != nil {
		return "", err
	}
	return resolved, nil
}

// Truncate enforces the per-result ceiling on a tool result.
func Truncate(s string) string {
	if len(s) <= MaxResultChars {
		return s
	}
	return s[:MaxResultChars] + fmt.Sprintf("\n\n[Result truncated to %d characters]", MaxResultChars)
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// requireString fetches a mandatory string parameter.
func requireString(args map[string]any, key string) (string, error) {
	s, ok := stringArg(args, key)
	if !ok || s == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return s, nil
}

// optionalString fetches an optional string parameter, empty when absent.
func optionalString(args map[string]any, key string) string {
	s, _ := stringArg(args, key)
	return s
}

// numberArg fetches a numeric parameter, tolerating both float64 (JSON) and
// int (tests, repaired payloads).
func numberArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
