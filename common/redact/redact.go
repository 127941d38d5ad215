// Package redact provides helpers for stripping sensitive values from log
// output, audit payloads, and tool results before they leave the process
// boundary.
//
// # Threat model
//
// Secrets (API keys, the transport access token, credentials surfaced by shell
// commands) must never appear in:
//   - Log lines emitted by the gateway
//   - Audit events appended to audit.jsonl
//   - Tool results fed back to the LLM or echoed to the owner's room
//
// Redaction is best-effort: it operates on string representations and relies
// on callers to pass the right set of sensitive terms.  It is NOT a substitute
// for keeping secrets out of log call-sites in the first place.
package redact

import (
	"regexp"
	"strings"
)

// Placeholder is the replacement text for every redacted value.
const Placeholder = "[REDACTED]"

// envAssignment matches KEY=VALUE lines as printed by `env`, `set`, dotenv
// dumps, or shell scripts, with an optional leading "export ".
var envAssignment = regexp.MustCompile(`^(\s*(?:export\s+)?)([A-Za-z_][A-Za-z0-9_]*)=(.*)$`)

// String replaces every occurrence of each sensitive value in s with
// [REDACTED].  Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
//
// Example:
//
//	safe := redact.String(logLine, apiKey, accessToken)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, Placeholder)
	}
	return s
}

// Map returns a shallow copy of m with values replaced by [REDACTED] for
// every key whose name suggests it contains a secret (password, token, key,
// secret, credential, auth).  Non-string values are left unchanged.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			if str, ok := v.(string); ok && str != "" {
				out[k] = Placeholder
				continue
			}
		}
		out[k] = v
	}
	return out
}

// Lines scans s line by line and blanks the value of every KEY=VALUE
// assignment whose key contains SECRET, PASSWORD, TOKEN, KEY, or CREDENTIAL
// (case-insensitive).  Everything else passes through untouched.  This is the
// filter applied to shell tool output before it reaches the model.
func Lines(s string) string {
	if !strings.Contains(s, "=") {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		m := envAssignment.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if !isSensitiveEnvKey(m[2]) {
			continue
		}
		if m[3] == "" {
			continue
		}
		lines[i] = m[1] + m[2] + "=" + Placeholder
	}
	return strings.Join(lines, "\n")
}

// isSensitiveEnvKey matches the env-style key set used by Lines.
func isSensitiveEnvKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, word := range []string{"SECRET", "PASSWORD", "TOKEN", "KEY", "CREDENTIAL"} {
		if strings.Contains(upper, word) {
			return true
		}
	}
	return false
}

// isSensitiveKey returns true when the key name suggests it holds a secret.
// Broader than isSensitiveEnvKey; used for audit payload scrubbing.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "passwd", "token", "secret", "key", "credential", "auth", "apikey"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
