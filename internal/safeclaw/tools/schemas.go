package tools

import "github.com/safeclaw/safeclaw/internal/safeclaw/provider"

// ActionSchema returns the LLM-facing schema for a built-in action.
func ActionSchema(action string) (provider.ToolSchema, bool) {
	s, ok := actionSchemas[action]
	return s, ok
}

func objectSchema(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

var actionSchemas = map[string]provider.ToolSchema{
	"read_file": {
		Name:        "read_file",
		Description: "Read a file from the workspace and return its contents.",
		Parameters: objectSchema([]string{"path"}, map[string]any{
			"path": strProp("File path, relative to the workspace root or starting with ~."),
		}),
	},
	"list_dir": {
		Name:        "list_dir",
		Description: "List the entries of a workspace directory.",
		Parameters: objectSchema(nil, map[string]any{
			"path": strProp("Directory path. Defaults to the workspace root."),
		}),
	},
	"write_file": {
		Name:        "write_file",
		Description: "Write content to a file, creating it and any missing parent directories.",
		Parameters: objectSchema([]string{"path", "content"}, map[string]any{
			"path":    strProp("Destination file path."),
			"content": strProp("Full new content of the file."),
		}),
	},
	"delete_file": {
		Name:        "delete_file",
		Description: "Delete a file from the workspace.",
		Parameters: objectSchema([]string{"path"}, map[string]any{
			"path": strProp("File path to delete."),
		}),
	},
	"move_file": {
		Name:        "move_file",
		Description: "Move or rename a file inside the workspace.",
		Parameters: objectSchema([]string{"source", "destination"}, map[string]any{
			"source":      strProp("Current file path."),
			"destination": strProp("New file path."),
		}),
	},
	"browse_web": {
		Name:        "browse_web",
		Description: "Fetch a web page and return its readable text content (title, headings, paragraphs, lists).",
		Parameters: objectSchema([]string{"url"}, map[string]any{
			"url": strProp("Full http or https URL to fetch."),
		}),
	},
	"exec_shell": {
		Name:        "exec_shell",
		Description: "Run a shell command in the workspace and return its combined output. Blocks until the command exits or times out.",
		Parameters: objectSchema([]string{"command"}, map[string]any{
			"command":         strProp("Shell command line to run with sh -c."),
			"cwd":             strProp("Working directory inside the workspace. Defaults to the workspace root."),
			"timeout_seconds": map[string]any{"type": "number", "description": "Maximum runtime in seconds. Defaults to 60."},
		}),
	},
	"exec_shell_bg": {
		Name:        "exec_shell_bg",
		Description: "Start a long-running shell command as a background session and return its session id.",
		Parameters: objectSchema([]string{"command"}, map[string]any{
			"command": strProp("Shell command line to run with sh -c."),
			"cwd":     strProp("Working directory inside the workspace. Defaults to the workspace root."),
		}),
	},
	"process_poll": {
		Name:        "process_poll",
		Description: "Read the accumulated output and status of a background session without consuming it.",
		Parameters: objectSchema([]string{"process_id"}, map[string]any{
			"process_id": strProp("Session id returned by exec_shell_bg."),
		}),
	},
	"process_write": {
		Name:        "process_write",
		Description: "Send a line of input to a running background session's stdin.",
		Parameters: objectSchema([]string{"process_id", "input"}, map[string]any{
			"process_id": strProp("Session id returned by exec_shell_bg."),
			"input":      strProp("Text to send. A trailing newline is added when missing."),
		}),
	},
	"process_kill": {
		Name:        "process_kill",
		Description: "Terminate a running background session.",
		Parameters: objectSchema([]string{"process_id"}, map[string]any{
			"process_id": strProp("Session id returned by exec_shell_bg."),
		}),
	},
	"process_list": {
		Name:        "process_list",
		Description: "List all background sessions with their status and age.",
		Parameters:  objectSchema(nil, map[string]any{}),
	},
	"memory_read": {
		Name:        "memory_read",
		Description: "Read a value from persistent memory.",
		Parameters: objectSchema([]string{"key"}, map[string]any{
			"key": strProp("Memory key."),
		}),
	},
	"memory_write": {
		Name:        "memory_write",
		Description: "Store a value in persistent memory. Survives sleep and restarts.",
		Parameters: objectSchema([]string{"key", "value"}, map[string]any{
			"key":   strProp("Memory key."),
			"value": strProp("Value to store."),
		}),
	},
	"memory_list": {
		Name:        "memory_list",
		Description: "List all persistent memory keys.",
		Parameters:  objectSchema(nil, map[string]any{}),
	},
	"memory_delete": {
		Name:        "memory_delete",
		Description: "Delete a key from persistent memory.",
		Parameters: objectSchema([]string{"key"}, map[string]any{
			"key": strProp("Memory key to delete."),
		}),
	},
	"apply_patch": {
		Name: "apply_patch",
		Description: "Apply a multi-file patch to the workspace. The patch starts with '*** Begin Patch' and ends with " +
			"'*** End Patch', with '*** Add File:', '*** Update File:' (optionally followed by '*** Move to:') and " +
			"'*** Delete File:' directives. Update hunks use ' ' context, '-' removal and '+' addition prefixes, " +
			"separated by '@@' markers.",
		Parameters: objectSchema([]string{"patch"}, map[string]any{
			"patch": strProp("The full patch text, including the Begin/End envelope."),
		}),
	},
}
