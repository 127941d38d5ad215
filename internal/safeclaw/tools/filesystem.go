package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (r *Runner) readFile(params map[string]any) (string, error) {
	path, err := requireString(params, "path")
	if err != nil {
		return "", err
	}
	abs, err := r.guardedResolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func (r *Runner) listDir(params map[string]any) (string, error) {
	path := optionalString(params, "path")
	if path == "" {
		path = "."
	}
	abs, err := r.guardedResolve(path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", path, err)
	}
	if len(entries) == 0 {
		return "(empty directory)", nil
	}
	var sb strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			sb.WriteString(e.Name() + "/\n")
			continue
		}
		if info, err := e.Info(); err == nil {
			fmt.Fprintf(&sb, "%s (%d bytes)\n", e.Name(), info.Size())
		} else {
			sb.WriteString(e.Name() + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (r *Runner) writeFile(params map[string]any) (string, error) {
	path, err := requireString(params, "path")
	if err != nil {
		return "", err
	}
	content, ok := stringArg(params, "content")
	if !ok {
		return "", fmt.Errorf("missing required parameter %q", "content")
	}
	abs, err := r.guardedResolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create parent of %s: %w", path, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

func (r *Runner) deleteFile(params map[string]any) (string, error) {
	path, err := requireString(params, "path")
	if err != nil {
		return "", err
	}
	abs, err := r.guardedResolve(path)
	if err != nil {
		return "", err
	}
	if err := os.Remove(abs); err != nil {
		return "", fmt.Errorf("delete %s: %w", path, err)
	}
	return fmt.Sprintf("Deleted %s", path), nil
}

func (r *Runner) moveFile(params map[string]any) (string, error) {
	src, err := requireString(params, "source")
	if err != nil {
		return "", err
	}
	dst, err := requireString(params, "destination")
	if err != nil {
		return "", err
	}
	absSrc, err := r.guardedResolve(src)
	if err != nil {
		return "", err
	}
	absDst, err := r.guardedResolve(dst)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(absDst), 0o755); err != nil {
		return "", fmt.Errorf("create parent of %s: %w", dst, err)
	}
	if err := os.Rename(absSrc, absDst); err != nil {
		return "", fmt.Errorf("move %s: %w", src, err)
	}
	return fmt.Sprintf("Moved %s to %s", src, dst), nil
}
