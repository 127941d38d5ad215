package tools

import (
	"fmt"
	"strings"
)

func (r *Runner) memoryRead(params map[string]any) (string, error) {
	key, err := requireString(params, "key")
	if err != nil {
		return "", err
	}
	value, ok := r.mem.Read(key)
	if !ok {
		return fmt.Sprintf("No memory stored under %q.", key), nil
	}
	return value, nil
}

func (r *Runner) memoryWrite(params map[string]any) (string, error) {
	key, err := requireString(params, "key")
	if err != nil {
		return "", err
	}
	value, ok := stringArg(params, "value")
	if !ok {
		return "", fmt.Errorf("missing required parameter %q", "value")
	}
	if err := r.mem.Write(key, value); err != nil {
		return "", fmt.Errorf("store memory %q: %w", key, err)
	}
	return fmt.Sprintf("Stored %d bytes under %q.", len(value), key), nil
}

func (r *Runner) memoryList() (string, error) {
	keys := r.mem.Keys()
	if len(keys) == 0 {
		return "(no memories stored)", nil
	}
	var sb strings.Builder
	for _, k := range keys {
		v, _ := r.mem.Read(k)
		fmt.Fprintf(&sb, "%s (%d bytes)\n", k, len(v))
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (r *Runner) memoryDelete(params map[string]any) (string, error) {
	key, err := requireString(params, "key")
	if err != nil {
		return "", err
	}
	removed, err := r.mem.Delete(key)
	if err != nil {
		return "", fmt.Errorf("delete memory %q: %w", key, err)
	}
	if !removed {
		return fmt.Sprintf("No memory stored under %q.", key), nil
	}
	return fmt.Sprintf("Deleted memory %q.", key), nil
}
