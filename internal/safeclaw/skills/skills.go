// Package skills manages dynamic skills: JavaScript blobs the assistant
// proposes for itself, which the owner approves before they become callable
// tools.
//
// A skill persists as two files under the skills directory: <name>.js holds
// the code and <name>.json holds the metadata (description, danger flag,
// parameter schema). Loading a skill compiles the code and requires a global
// `run(params)` function as the export shape. Execution happens in a fresh
// runtime per call, with the host functions `shell`, `read_file` and
// `write_file` bound, and is interrupted after ExecTimeout.
//
// The manager is not safe for concurrent use; the gateway serializes all
// access to it.
package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ExecTimeout bounds a single skill execution.
const ExecTimeout = 30 * time.Second

var (
	// ErrNotFound is returned when no skill with the given name is installed.
	ErrNotFound = errors.New("skill not installed")
	// ErrDuplicate is returned when installing over an existing skill name.
	ErrDuplicate = errors.New("skill already installed")
)

// Host is the privileged surface a skill can reach from JavaScript. It is
// satisfied by the built-in tool runner and can be replaced with a recording
// stub in tests.
type Host interface {
	Shell(ctx context.Context, command string) (string, error)
	ReadFile(path string) (string, error)
	WriteFile(path, content string) error
}

// Skill is the persisted metadata of an installed skill.
type Skill struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Dangerous   bool           `json:"dangerous"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	InstalledAt time.Time      `json:"installed_at"`
}

// Proposal is the validated input to Install, normally assembled from a
// request_capability tool call after owner approval.
type Proposal struct {
	Name        string
	Description string
	Dangerous   bool
	Parameters  map[string]any
	Code        string
}

type loaded struct {
	meta   Skill
	prog   *goja.Program
	schema *jsonschema.Schema
}

// Manager owns the skills directory and the in-memory set of loaded skills.
type Manager struct {
	dir    string
	host   Host
	skills map[string]*loaded
}

// NewManager creates the skills directory when missing and loads every
// persisted skill. Skills that no longer compile are skipped with a warning
// rather than failing startup.
func NewManager(dir string, host Host) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("skills: create %s: %w", dir, err)
	}
	m := &Manager{dir: dir, host: host, skills: make(map[string]*loaded)}
	if err := m.loadAll(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadAll() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("skills: read %s: %w", m.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".js") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".js")
		if err := m.loadOne(name); err != nil {
			slog.Warn("skipping unloadable skill", "skill", name, "error", err)
		}
	}
	return nil
}

func (m *Manager) loadOne(name string) error {
	code, err := os.ReadFile(m.jsPath(name))
	if err != nil {
		return err
	}
	meta := Skill{Name: name, Description: "dynamic skill " + name, Dangerous: true}
	if raw, err := os.ReadFile(m.metaPath(name)); err == nil {
		if err := json.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("metadata: %w", err)
		}
		meta.Name = name
	}

	l := &loaded{meta: meta}
	l.prog, err = compile(name, string(code))
	if err != nil {
		return err
	}
	if len(meta.Parameters) > 0 {
		l.schema, err = compileSchema(meta.Parameters)
		if err != nil {
			slog.Warn("skill parameter schema rejected, continuing without validation", "skill", name, "error", err)
			l.schema = nil
		}
	}
	m.skills[name] = l
	return nil
}

// Install persists and loads a new skill. The proposal name must already be
// in canonical form (see SanitizeName) and unused.
func (m *Manager) Install(p Proposal) (*Skill, error) {
	if !nameRe.MatchString(p.Name) {
		return nil, fmt.Errorf("invalid skill name %q", p.Name)
	}
	if strings.TrimSpace(p.Code) == "" {
		return nil, errors.New("skill code is empty")
	}
	if _, exists := m.skills[p.Name]; exists {
		return nil, fmt.Errorf("%q: %w", p.Name, ErrDuplicate)
	}

	prog, err := compile(p.Name, p.Code)
	if err != nil {
		return nil, fmt.Errorf("skill does not compile: %w", err)
	}
	if err := checkExportShape(prog); err != nil {
		return nil, err
	}
	var schema *jsonschema.Schema
	if len(p.Parameters) > 0 {
		schema, err = compileSchema(p.Parameters)
		if err != nil {
			return nil, fmt.Errorf("invalid parameters schema: %w", err)
		}
	}

	meta := Skill{
		Name:        p.Name,
		Description: p.Description,
		Dangerous:   p.Dangerous,
		Parameters:  p.Parameters,
		InstalledAt: time.Now().UTC(),
	}
	if err := m.persist(meta, p.Code); err != nil {
		return nil, err
	}
	m.skills[p.Name] = &loaded{meta: meta, prog: prog, schema: schema}
	copied := meta
	return &copied, nil
}

func (m *Manager) persist(meta Skill, code string) error {
	if err := os.WriteFile(m.jsPath(meta.Name), []byte(code), 0o600); err != nil {
		return fmt.Errorf("persist skill code: %w", err)
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode skill metadata: %w", err)
	}
	if err := os.WriteFile(m.metaPath(meta.Name), raw, 0o600); err != nil {
		return fmt.Errorf("persist skill metadata: %w", err)
	}
	return nil
}

// Remove deletes a skill's files and forgets it.
func (m *Manager) Remove(name string) error {
	if _, ok := m.skills[name]; !ok {
		return fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	delete(m.skills, name)
	if err := os.Remove(m.jsPath(name)); err != nil {
		return fmt.Errorf("remove skill code: %w", err)
	}
	if err := os.Remove(m.metaPath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove skill metadata: %w", err)
	}
	return nil
}

// Get returns the metadata of an installed skill.
func (m *Manager) Get(name string) (*Skill, bool) {
	l, ok := m.skills[name]
	if !ok {
		return nil, false
	}
	copied := l.meta
	return &copied, true
}

// List returns all installed skills sorted by name.
func (m *Manager) List() []*Skill {
	out := make([]*Skill, 0, len(m.skills))
	for _, l := range m.skills {
		copied := l.meta
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs an installed skill with the given parameters and returns its
// result as text. Runs are bounded by ExecTimeout and by ctx.
func (m *Manager) Execute(ctx context.Context, name string, params map[string]any) (string, error) {
	l, ok := m.skills[name]
	if !ok {
		return "", fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	if l.schema != nil {
		if err := l.schema.Validate(normalizeParams(params)); err != nil {
			return "", fmt.Errorf("parameters rejected by skill schema: %w", err)
		}
	}
	return run(ctx, l.prog, m.host, params)
}

var nameRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// SanitizeName maps an arbitrary proposed name to the canonical skill-name
// form: lowercase, with every run of other characters collapsed to "_".
// Returns "" when nothing usable remains.
func SanitizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var sb strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			sb.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				sb.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(sb.String(), "_")
}

func (m *Manager) jsPath(name string) string {
	return filepath.Join(m.dir, name+".js")
}

func (m *Manager) metaPath(name string) string {
	return filepath.Join(m.dir, name+".json")
}

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return jsonschema.CompileString("schema.json", string(raw))
}

// normalizeParams round-trips params through JSON so the validator sees the
// value shapes it expects (float64 numbers, no Go ints).
func normalizeParams(params map[string]any) any {
	if params == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return params
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return params
	}
	return v
}
