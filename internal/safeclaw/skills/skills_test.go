package skills_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/safeclaw/safeclaw/internal/safeclaw/skills"
)

// stubHost records host calls and serves an in-memory filesystem.
type stubHost struct {
	shellCalls []string
	shellOut   string
	shellErr   error
	files      map[string]string
}

func newStubHost() *stubHost {
	return &stubHost{files: make(map[string]string), shellOut: "ok\n"}
}

func (h *stubHost) Shell(_ context.Context, command string) (string, error) {
	h.shellCalls = append(h.shellCalls, command)
	return h.shellOut, h.shellErr
}

func (h *stubHost) ReadFile(path string) (string, error) {
	content, ok := h.files[path]
	if !ok {
		return "", fmt.Errorf("no such file: %s", path)
	}
	return content, nil
}

func (h *stubHost) WriteFile(path, content string) error {
	h.files[path] = content
	return nil
}

func newManager(t *testing.T, host skills.Host) *skills.Manager {
	t.Helper()
	m, err := skills.NewManager(filepath.Join(t.TempDir(), "skills"), host)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestInstallAndExecute(t *testing.T) {
	m := newManager(t, newStubHost())

	skill, err := m.Install(skills.Proposal{
		Name:        "greeter",
		Description: "greets people",
		Code:        `function run(params) { return "hello " + params.who; }`,
	})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if skill.Name != "greeter" || skill.InstalledAt.IsZero() {
		t.Errorf("skill metadata = %+v", skill)
	}

	out, err := m.Execute(context.Background(), "greeter", map[string]any{"who": "world"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "hello world" {
		t.Errorf("result = %q", out)
	}
}

func TestInstallRejections(t *testing.T) {
	m := newManager(t, newStubHost())

	cases := []struct {
		name     string
		proposal skills.Proposal
		want     string
	}{
		{"empty code", skills.Proposal{Name: "x", Code: "  "}, "empty"},
		{"bad name", skills.Proposal{Name: "My Skill", Code: "function run(p){}"}, "invalid skill name"},
		{"no run export", skills.Proposal{Name: "norun", Code: "var a = 1;"}, "must define a global run"},
		{"syntax error", skills.Proposal{Name: "broken", Code: "function run( {"}, "does not compile"},
		{"bad schema", skills.Proposal{Name: "badschema", Code: "function run(p){}",
			Parameters: map[string]any{"type": 42}}, "invalid parameters schema"},
	}
	for _, tc := range cases {
		_, err := m.Install(tc.proposal)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: err = %v, want containing %q", tc.name, err, tc.want)
		}
	}

	if _, err := m.Install(skills.Proposal{Name: "dup", Code: "function run(p){}"}); err != nil {
		t.Fatalf("first install: %v", err)
	}
	if _, err := m.Install(skills.Proposal{Name: "dup", Code: "function run(p){}"}); !errors.Is(err, skills.ErrDuplicate) {
		t.Errorf("duplicate install err = %v", err)
	}
}

func TestSchemaValidatesParameters(t *testing.T) {
	m := newManager(t, newStubHost())

	_, err := m.Install(skills.Proposal{
		Name: "adder",
		Code: `function run(p) { return String(p.n + 1); }`,
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"n": map[string]any{"type": "number"}},
			"required":   []any{"n"},
		},
	})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	if _, err := m.Execute(context.Background(), "adder", map[string]any{}); err == nil ||
		!strings.Contains(err.Error(), "rejected by skill schema") {
		t.Errorf("missing required param: err = %v", err)
	}
	out, err := m.Execute(context.Background(), "adder", map[string]any{"n": 41.0})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "42" {
		t.Errorf("result = %q", out)
	}
}

func TestHostBindings(t *testing.T) {
	host := newStubHost()
	host.shellOut = "hi from shell\n"
	m := newManager(t, host)

	_, err := m.Install(skills.Proposal{
		Name: "pipeline",
		Code: `function run(p) {
	var out = shell("echo hi");
	write_file("out.txt", out);
	return read_file("out.txt");
}`,
	})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	out, err := m.Execute(context.Background(), "pipeline", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "hi from shell\n" {
		t.Errorf("result = %q", out)
	}
	if len(host.shellCalls) != 1 || host.shellCalls[0] != "echo hi" {
		t.Errorf("shell calls = %v", host.shellCalls)
	}
}

func TestHostErrorBecomesException(t *testing.T) {
	host := newStubHost()
	host.shellErr = errors.New("command blocked")
	m := newManager(t, host)

	if _, err := m.Install(skills.Proposal{Name: "boom", Code: `function run(p) { return shell("x"); }`}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	_, err := m.Execute(context.Background(), "boom", nil)
	if err == nil || !strings.Contains(err.Error(), "skill threw") {
		t.Errorf("err = %v, want thrown exception", err)
	}
}

func TestResultShapes(t *testing.T) {
	m := newManager(t, newStubHost())

	if _, err := m.Install(skills.Proposal{Name: "obj", Code: `function run(p) { return {ok: true, n: 2}; }`}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Install(skills.Proposal{Name: "silent", Code: `function run(p) {}`}); err != nil {
		t.Fatal(err)
	}

	out, err := m.Execute(context.Background(), "obj", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"n":2,"ok":true}` {
		t.Errorf("object result = %q", out)
	}

	out, err = m.Execute(context.Background(), "silent", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "(skill returned no output)" {
		t.Errorf("undefined result = %q", out)
	}
}

func TestExecutionInterrupted(t *testing.T) {
	m := newManager(t, newStubHost())
	if _, err := m.Install(skills.Proposal{Name: "spin", Code: `function run(p) { while (true) {} }`}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err := m.Execute(ctx, "spin", nil)
	if err == nil || !strings.Contains(err.Error(), "interrupted") {
		t.Errorf("err = %v, want interruption", err)
	}
}

func TestPersistAndReload(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "skills")
	m, err := skills.NewManager(dir, newStubHost())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Install(skills.Proposal{
		Name:        "keeper",
		Description: "kept across restarts",
		Dangerous:   true,
		Code:        `function run(p) { return "still here"; }`,
	}); err != nil {
		t.Fatal(err)
	}

	reloaded, err := skills.NewManager(dir, newStubHost())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	skill, ok := reloaded.Get("keeper")
	if !ok {
		t.Fatal("skill lost across reload")
	}
	if skill.Description != "kept across restarts" || !skill.Dangerous {
		t.Errorf("metadata lost: %+v", skill)
	}
	out, err := reloaded.Execute(context.Background(), "keeper", nil)
	if err != nil || out != "still here" {
		t.Errorf("Execute after reload = %q, %v", out, err)
	}
}

func TestReloadSkipsBrokenSkill(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "skills")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.js"), []byte("function run( {"), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := skills.NewManager(dir, newStubHost())
	if err != nil {
		t.Fatalf("NewManager should tolerate broken skills: %v", err)
	}
	if _, ok := m.Get("broken"); ok {
		t.Error("broken skill should not be loaded")
	}
}

func TestRemove(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "skills")
	m, err := skills.NewManager(dir, newStubHost())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Install(skills.Proposal{Name: "gone", Code: "function run(p){}"}); err != nil {
		t.Fatal(err)
	}

	if err := m.Remove("gone"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "gone.js")); !errors.Is(err, os.ErrNotExist) {
		t.Error("skill code still on disk")
	}
	if err := m.Remove("gone"); !errors.Is(err, skills.ErrNotFound) {
		t.Errorf("second Remove err = %v", err)
	}
}

func TestList(t *testing.T) {
	m := newManager(t, newStubHost())
	for _, name := range []string{"zeta", "alpha"} {
		if _, err := m.Install(skills.Proposal{Name: name, Code: "function run(p){}"}); err != nil {
			t.Fatal(err)
		}
	}
	list := m.List()
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "zeta" {
		t.Errorf("List order = %v", []string{list[0].Name, list[1].Name})
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"My Cool Skill!":  "my_cool_skill",
		"GIT-helper":      "git_helper",
		"ok_name2":        "ok_name2",
		"  spaced  ":      "spaced",
		"---":             "",
		"über.skill":      "ber_skill",
		"weather_lookup":  "weather_lookup",
		"Weather Lookup ": "weather_lookup",
	}
	for in, want := range cases {
		if got := skills.SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
