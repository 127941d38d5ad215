package skills

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// PromptSkill is a markdown instruction block loaded from the prompt-skills
// directory. Front matter may declare binaries the skill depends on; a skill
// whose required binaries are absent is reported but not injected into the
// system prompt.
type PromptSkill struct {
	Name     string
	Requires []string
	Optional []string
	Content  string
	Missing  []string // required binaries not found on PATH
}

// Usable reports whether the skill's required binaries are all present.
func (p *PromptSkill) Usable() bool {
	return len(p.Missing) == 0
}

type frontMatter struct {
	Name     string   `yaml:"name"`
	Requires []string `yaml:"requires"`
	Optional []string `yaml:"optional"`
}

var lookPath = exec.LookPath

// LoadPromptSkills reads every *.md file under dir, parses its front matter
// and probes the declared binaries. A missing directory yields no skills.
func LoadPromptSkills(dir string) ([]PromptSkill, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("prompt skills: read %s: %w", dir, err)
	}

	var out []PromptSkill
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("prompt skills: read %s: %w", e.Name(), err)
		}
		ps, err := parsePromptSkill(strings.TrimSuffix(e.Name(), ".md"), string(raw))
		if err != nil {
			return nil, fmt.Errorf("prompt skills: %s: %w", e.Name(), err)
		}
		for _, bin := range ps.Requires {
			if _, err := lookPath(bin); err != nil {
				ps.Missing = append(ps.Missing, bin)
			}
		}
		out = append(out, ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// parsePromptSkill splits an optional "---" YAML front matter block from the
// markdown body.
func parsePromptSkill(defaultName, raw string) (PromptSkill, error) {
	ps := PromptSkill{Name: defaultName}
	body := raw
	if strings.HasPrefix(raw, "---\n") {
		rest := raw[len("---\n"):]
		end := strings.Index(rest, "\n---")
		if end < 0 {
			return ps, errors.New("unterminated front matter")
		}
		var fm frontMatter
		if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
			return ps, fmt.Errorf("front matter: %w", err)
		}
		if fm.Name != "" {
			ps.Name = fm.Name
		}
		ps.Requires = fm.Requires
		ps.Optional = fm.Optional
		body = rest[end+len("\n---"):]
		body = strings.TrimPrefix(body, "\n")
	}
	ps.Content = strings.TrimSpace(body)
	return ps, nil
}

// LoadPersona returns the contents of soul.md under the storage directory,
// or "" when no persona is configured.
func LoadPersona(storageDir string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(storageDir, "soul.md"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("persona: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
