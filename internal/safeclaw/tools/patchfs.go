package tools

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/safeclaw/safeclaw/internal/safeclaw/patch"
)

func (r *Runner) applyPatch(params map[string]any) (string, error) {
	text, err := requireString(params, "patch")
	if err != nil {
		return "", err
	}
	results, err := patch.Apply(guardedFS{r}, text)
	if err != nil {
		return "", fmt.Errorf("apply patch: %w", err)
	}
	return patch.Summary(results), nil
}

// guardedFS adapts the Runner's sandbox and guard into the patch engine's
// filesystem. Every path a patch directive names goes through the same
// pipeline as the direct filesystem actions.
type guardedFS struct {
	r *Runner
}

var _ patch.FS = guardedFS{}

func (g guardedFS) ReadFile(path string) (string, error) {
	abs, err := g.r.guardedResolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (g guardedFS) WriteFile(path, content string) error {
	abs, err := g.r.guardedResolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return os.WriteFile(abs, []byte(content), 0o644)
}

func (g guardedFS) DeleteFile(path string) error {
	abs, err := g.r.guardedResolve(path)
	if err != nil {
		return err
	}
	return os.Remove(abs)
}

func (g guardedFS) Exists(path string) (bool, error) {
	abs, err := g.r.guardedResolve(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
