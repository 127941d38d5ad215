// Package secretguard blocks the assistant from reading or leaking the
// operator's secrets through its own tools.
//
// # Threat model
//
// The LLM chooses tool calls, and a prompt-injected or simply curious model
// may try to read credential files directly (read_file on .env), indirectly
// (cat ~/.safeclaw/auth.json through the shell), or to exfiltrate values that
// leak into command output. The guard is consulted before every filesystem
// operation and every shell command, and redacts sensitive assignments from
// tool output before it reaches the model.
//
// The guard is a denylist, not a sandbox: it stops the obvious paths, and the
// approval workflow covers the rest.
package secretguard

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/safeclaw/safeclaw/common/redact"
)

// DenialMessage is the fixed tool-result returned to the model when the guard
// blocks an operation. It is deliberately uniform so repeated probing reveals
// nothing about what exists behind the denial.
const DenialMessage = "⛔ SecretGuard: access denied. This path or command touches protected credentials."

// ErrProtected is returned by the Check functions when an operation targets
// protected material. The wrapped detail is for audit logs only and must not
// be sent back to the model.
var ErrProtected = errors.New("protected by secretguard")

// sensitiveNameFragments are matched case-insensitively against file names.
var sensitiveNameFragments = []string{"secret", "password", "credential", "token"}

// viewers are shell utilities that print file contents; a command that points
// one of these at a protected file is denied outright rather than relying on
// output redaction.
var viewers = map[string]bool{
	"cat":  true,
	"type": true,
	"more": true,
	"less": true,
	"head": true,
	"tail": true,
}

// Guard decides whether a path or shell command may touch secret material.
type Guard struct {
	storageDir string
	home       string
}

// New creates a Guard protecting the given storage directory. Both paths
// should already be absolute and cleaned; home is used to expand ~ in shell
// command arguments.
func New(storageDir, home string) *Guard {
	return &Guard{storageDir: filepath.Clean(storageDir), home: filepath.Clean(home)}
}

// CheckPath reports whether a filesystem operation on the resolved absolute
// path is allowed. The rules are:
//
//   - any file named .env or .env.* is protected
//   - any .json file inside the storage directory is protected (auth.json,
//     memory.json, mcp.json and friends live there)
//   - any file whose name contains "secret", "password", "credential" or
//     "token" (case-insensitive) is protected
func (g *Guard) CheckPath(path string) error {
	base := filepath.Base(path)
	lower := strings.ToLower(base)

	if lower == ".env" || strings.HasPrefix(lower, ".env.") {
		return fmt.Errorf("%w: %s", ErrProtected, base)
	}

	if strings.HasSuffix(lower, ".json") && g.inStorageDir(path) {
		return fmt.Errorf("%w: %s is inside the storage directory", ErrProtected, base)
	}

	for _, frag := range sensitiveNameFragments {
		if strings.Contains(lower, frag) {
			return fmt.Errorf("%w: name contains %q", ErrProtected, frag)
		}
	}
	return nil
}

// CheckCommand scans a shell command line for viewer utilities pointed at
// protected files. Tokenisation is deliberately crude: the guard cares about
// the common case (`cat .env`, `head -n5 ~/.safeclaw/auth.json`), not about
// defeating a determined adversary with exotic quoting.
func (g *Guard) CheckCommand(command string) error {
	fields := strings.Fields(command)
	viewing := false
	for _, f := range fields {
		switch f {
		case "|", "||", "&&", ";":
			viewing = false
			continue
		}
		name := filepath.Base(f)
		if viewers[name] {
			viewing = true
			continue
		}
		if !viewing || strings.HasPrefix(f, "-") {
			continue
		}
		if g.protectedTarget(f) {
			return fmt.Errorf("%w: %s %s", ErrProtected, "viewer targets", filepath.Base(f))
		}
	}
	return nil
}

// RedactOutput removes secret values from tool output line by line. Anything
// shaped like KEY=VALUE where KEY looks like a credential is rewritten to
// KEY=[REDACTED] before the text reaches the model.
func (g *Guard) RedactOutput(s string) string {
	return redact.Lines(s)
}

// protectedTarget reports whether a single shell token names a protected file.
func (g *Guard) protectedTarget(tok string) bool {
	tok = strings.Trim(tok, `"'`)
	base := strings.ToLower(filepath.Base(tok))

	if base == ".env" || strings.HasPrefix(base, ".env.") {
		return true
	}
	if base == "auth.json" {
		return true
	}

	// Paths that reach into the storage directory, including via ~.
	expanded := tok
	if strings.HasPrefix(tok, "~/") {
		expanded = filepath.Join(g.home, tok[2:])
	}
	return g.inStorageDir(expanded)
}

func (g *Guard) inStorageDir(path string) bool {
	clean := filepath.Clean(path)
	if clean == g.storageDir {
		return true
	}
	return strings.HasPrefix(clean, g.storageDir+string(filepath.Separator))
}
