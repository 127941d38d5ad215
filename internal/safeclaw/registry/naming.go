package registry

import "strings"

// Builtin families and the LLM-visible action names each one exposes.
// These names are part of the model-facing contract and never change.
var builtinActions = map[string][]string{
	"filesystem": {"read_file", "list_dir", "write_file", "delete_file", "move_file"},
	"browser":    {"browse_web"},
	"shell":      {"exec_shell", "exec_shell_bg", "process_poll", "process_write", "process_kill", "process_list"},
	"memory":     {"memory_read", "memory_write", "memory_list", "memory_delete"},
	"patch":      {"apply_patch"},
}

var builtinOrder = []string{"filesystem", "browser", "shell", "memory", "patch"}

var builtinDescriptions = map[string]string{
	"filesystem": "Read, list, write, delete and move files inside the workspace",
	"browser":    "Fetch a web page and return its readable text",
	"shell":      "Run shell commands, foreground or as managed background sessions",
	"memory":     "Persistent key/value notes that survive across sessions",
	"patch":      "Apply a multi-file patch in a single call",
}

// safeActions execute without owner approval. Everything not listed here is
// dangerous.
var safeActions = map[string]bool{
	"read_file":    true,
	"list_dir":     true,
	"browse_web":   true,
	"process_poll": true,
	"process_list": true,
	"memory_read":  true,
	"memory_list":  true,
}

// actionFamily maps each builtin action back to its family.
var actionFamily = func() map[string]string {
	m := make(map[string]string)
	for family, actions := range builtinActions {
		for _, a := range actions {
			m[a] = family
		}
	}
	return m
}()

// MCPPrefix and SkillPrefix mark the two non-builtin namespaces.
const (
	MCPPrefix   = "mcp__"
	SkillPrefix = "skill__"
)

// Resolve parses an LLM-visible tool name into the (toolName, action) pair
// used for dispatch, approval tickets and audit events. Unknown names
// resolve to two empty strings.
func Resolve(llmName string) (toolName, action string) {
	if family, ok := actionFamily[llmName]; ok {
		return family, llmName
	}
	if strings.HasPrefix(llmName, MCPPrefix) {
		return llmName, "mcp_call"
	}
	if strings.HasPrefix(llmName, SkillPrefix) {
		return llmName, "skill_call"
	}
	return "", ""
}

// MCPName builds the server-qualified LLM-visible name for a remote tool.
// Non-alphanumeric runes in either segment become underscores so the result
// survives every vendor's tool-name validation.
func MCPName(server, tool string) string {
	return MCPPrefix + sanitizeSegment(server) + "__" + sanitizeSegment(tool)
}

// SkillLLMName builds the LLM-visible name for a dynamic skill.
func SkillLLMName(skillName string) string {
	return SkillPrefix + sanitizeSegment(skillName)
}

func sanitizeSegment(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// BuiltinFamilies returns the family names in display order.
func BuiltinFamilies() []string {
	return append([]string(nil), builtinOrder...)
}

// FamilyActions returns the action names of a builtin family.
func FamilyActions(family string) []string {
	return append([]string(nil), builtinActions[family]...)
}

// SafeAction reports whether a builtin action executes without approval.
func SafeAction(action string) bool {
	return safeActions[action]
}
