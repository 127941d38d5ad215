// Package workspace confines filesystem tool operations to a single root
// directory.
//
// Every user- or model-supplied path is resolved against the workspace root
// before any syscall is made. Relative paths join the root, "~" expands to the
// process home, and the resolved path must stay inside the root both lexically
// (no ".." traversal) and physically (no symlink pointing outside). When no
// explicit workspace directory is configured the root is the process home, so
// "~/notes.txt" style paths keep working.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrEscapesRoot is returned when a path resolves outside the workspace root.
var ErrEscapesRoot = errors.New("path escapes the workspace root")

// Root is a resolved workspace sandbox.
type Root struct {
	dir  string // absolute, symlink-resolved
	home string // for ~ expansion
}

// New creates (if needed) and resolves the workspace root. When dir is empty
// the home directory becomes the root.
func New(dir, home string) (*Root, error) {
	if dir == "" {
		dir = home
	}
	if dir == "" {
		return nil, errors.New("workspace: no directory and no home to fall back to")
	}
	if strings.HasPrefix(dir, "~") {
		dir = filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(dir, "~"), string(filepath.Separator)))
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve %q: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create %q: %w", abs, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve symlinks for %q: %w", abs, err)
	}
	return &Root{dir: resolved, home: home}, nil
}

// Dir returns the absolute workspace root.
func (r *Root) Dir() string {
	return r.dir
}

// Lexical maps a user-supplied path to its absolute cleaned form inside the
// root without touching the filesystem: "~" expansion, root join and ".."
// rejection only. Callers use it to run policy checks before any syscall;
// Resolve adds the physical symlink check on top.
func (r *Root) Lexical(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("workspace: empty path")
	}
	orig := p
	if p == "~" {
		p = r.home
	} else if strings.HasPrefix(p, "~/") {
		p = filepath.Join(r.home, p[2:])
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.dir, p)
	}
	p = filepath.Clean(p)

	if !r.contains(p) {
		return "", fmt.Errorf("workspace: %q: %w", orig, ErrEscapesRoot)
	}
	return p, nil
}

// Resolve maps a user-supplied path to the absolute physical path inside the
// root, with symlinks on every existing ancestor evaluated. It returns
// ErrEscapesRoot (wrapped) when the path lands outside, whether by "..", by
// an absolute prefix, or through a symlink. Returning the physical rather
// than the lexical path means policy checks and syscalls both see the file a
// symlink actually lands on.
func (r *Root) Resolve(p string) (string, error) {
	abs, err := r.Lexical(p)
	if err != nil {
		return "", err
	}

	// Lexical containment is not enough: a symlink inside the root can point
	// anywhere. Resolve the deepest existing prefix and re-check.
	real, err := resolveExistingPrefix(abs)
	if err != nil {
		return "", fmt.Errorf("workspace: resolve %q: %w", p, err)
	}
	if !r.contains(real) {
		return "", fmt.Errorf("workspace: %q: %w", p, ErrEscapesRoot)
	}
	return real, nil
}

// contains reports whether p equals the root or lies beneath it.
func (r *Root) contains(p string) bool {
	if p == r.dir {
		return true
	}
	return strings.HasPrefix(p, r.dir+string(filepath.Separator))
}

// resolveExistingPrefix evaluates symlinks on the longest existing ancestor of
// p and rejoins the non-existing remainder, so that paths about to be created
// are still checked through any symlinked parents.
func resolveExistingPrefix(p string) (string, error) {
	remainder := ""
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			if remainder == "" {
				return resolved, nil
			}
			return filepath.Join(resolved, remainder), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		remainder = filepath.Join(filepath.Base(cur), remainder)
		parent := filepath.Dir(cur)
		if parent == cur {
			return filepath.Join(cur, remainder), nil
		}
		cur = parent
	}
}
