package agent

import (
	"strings"

	"github.com/safeclaw/safeclaw/internal/safeclaw/provider"
	"github.com/safeclaw/safeclaw/internal/safeclaw/registry"
	"github.com/safeclaw/safeclaw/internal/safeclaw/skills"
	"github.com/safeclaw/safeclaw/internal/safeclaw/tools"
)

const basePrompt = `You are SafeClaw, a personal assistant agent serving exactly one owner over chat.

Ground rules:
- You can only use tools the owner has enabled. When a call fails with "not enabled", tell the owner which switch to flip instead of retrying.
- Dangerous actions (writing or deleting files, running shell commands, anything that changes state) are suspended until the owner approves a ticket. Never promise an action happened before its result comes back.
- File access is confined to the workspace. Paths that touch credentials are refused by a guard; accept the refusal and work around it, never probe for secrets.
- Use the memory tools to keep durable notes the owner asks you to remember.
- When no available tool fits a recurring task, you may propose a new skill with request_capability. Keep proposed code small and honest about whether it changes state.
- Reply concisely in Markdown. Lead with the answer, not with what you did.`

// buildSystemPrompt assembles the fixed per-session system prompt: the base
// rules, then each usable prompt skill as a labelled block, then the persona
// last so it wins on tone.
func buildSystemPrompt(persona string, promptSkills []skills.PromptSkill) string {
	parts := []string{basePrompt}
	for i := range promptSkills {
		ps := &promptSkills[i]
		if !ps.Usable() || strings.TrimSpace(ps.Content) == "" {
			continue
		}
		parts = append(parts, "## Skill: "+ps.Name+"\n\n"+strings.TrimSpace(ps.Content))
	}
	if p := strings.TrimSpace(persona); p != "" {
		parts = append(parts, "## Persona\n\n"+p)
	}
	return strings.Join(parts, "\n\n")
}

// schemas assembles the tool list advertised to the model for one call:
// request_capability always, then every enabled tool. Builtin families
// expand to their per-action schemas; remote tools emit their server
// schema verbatim; skills emit their declared parameter schema.
func (l *Loop) schemas() []provider.ToolSchema {
	out := []provider.ToolSchema{requestCapabilitySchema()}
	for _, t := range l.reg.Enabled() {
		switch tt := t.(type) {
		case registry.BuiltinTool:
			for _, action := range tt.Actions() {
				if s, ok := tools.ActionSchema(action); ok {
					out = append(out, s)
				}
			}
		case registry.RemoteTool:
			out = append(out, provider.ToolSchema{
				Name:        tt.LLMName,
				Description: tt.Desc,
				Parameters:  orEmptySchema(tt.Schema),
			})
		case registry.DynamicTool:
			out = append(out, provider.ToolSchema{
				Name:        tt.LLMName,
				Description: tt.Desc,
				Parameters:  orEmptySchema(tt.Parameters),
			})
		}
	}
	return out
}

// orEmptySchema substitutes a minimal object schema when a tool declared
// none. Vendors reject tools without a parameters object.
func orEmptySchema(s map[string]any) map[string]any {
	if len(s) > 0 {
		return s
	}
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func requestCapabilitySchema() provider.ToolSchema {
	return provider.ToolSchema{
		Name: "request_capability",
		Description: "Propose a new reusable skill when no enabled tool can do the job. " +
			"The owner must approve before anything is installed. The implementation is JavaScript " +
			"defining a global run(params) function; inside it you may call shell(command), " +
			"read_file(path) and write_file(path, content).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"skill_name": map[string]any{
					"type":        "string",
					"description": "Short snake_case identifier for the skill.",
				},
				"skill_description": map[string]any{
					"type":        "string",
					"description": "One sentence describing what the skill does.",
				},
				"reason": map[string]any{
					"type":        "string",
					"description": "Why the currently available tools cannot do this.",
				},
				"dangerous": map[string]any{
					"type":        "boolean",
					"description": "True when the skill changes state (writes, deletes, sends). Dangerous skills need approval on every run.",
				},
				"parameters_schema": map[string]any{
					"type":        "object",
					"description": "JSON Schema for the skill's run(params) argument. Omit for a skill without parameters.",
				},
				"implementation_code": map[string]any{
					"type":        "string",
					"description": "JavaScript source defining the global run(params) function.",
				},
			},
			"required": []string{"skill_name", "skill_description", "reason", "dangerous", "implementation_code"},
		},
	}
}
