package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/safeclaw/safeclaw/internal/safeclaw/approvals"
	"github.com/safeclaw/safeclaw/internal/safeclaw/provider"
	"github.com/safeclaw/safeclaw/internal/safeclaw/registry"
	"github.com/safeclaw/safeclaw/internal/safeclaw/session"
	"github.com/safeclaw/safeclaw/internal/safeclaw/skills"
)

// codePreviewChars caps how much of a proposed skill's source is shown to
// the owner. The full code still travels on the ticket.
const codePreviewChars = 600

// propose handles a request_capability call: validate the proposal, raise
// an approval ticket carrying the full code, and render the owner preview.
// Invalid proposals are answered inline so the model can adjust.
func (l *Loop) propose(ctx context.Context, call provider.ToolCall, batchID string, out *turnOutcome) {
	str := func(key string) string {
		v, _ := call.Input[key].(string)
		return strings.TrimSpace(v)
	}
	if l.skills == nil {
		l.appendResult(call, "Skill proposals are not available: the skill engine is disabled.")
		return
	}

	name := skills.SanitizeName(str("skill_name"))
	if name == "" {
		l.appendResult(call, "Invalid proposal: skill_name must contain letters, digits or underscores.")
		return
	}
	code := str("implementation_code")
	if code == "" {
		l.appendResult(call, "Invalid proposal: implementation_code is empty.")
		return
	}
	if _, exists := l.skills.Get(name); exists {
		l.appendResult(call, fmt.Sprintf("A skill named %q is already installed. Pick a different name or ask the owner to remove it first.", name))
		return
	}

	desc := str("skill_description")
	reason := str("reason")
	dangerous, _ := call.Input["dangerous"].(bool)
	params, _ := call.Input["parameters_schema"].(map[string]any)

	req := l.appr.Create(approvals.Spec{
		ToolName: "skill_forge",
		Action:   "skill_install",
		Params: map[string]any{
			"target":      name,
			"description": desc,
			"reason":      reason,
			"dangerous":   dangerous,
			"parameters":  params,
			"content":     code,
		},
		Summary:    "install skill " + name,
		BatchID:    batchID,
		ToolCallID: call.ID,
	})
	l.sess.AddPending(req.ID, session.PendingToolCall{
		ToolCallID: call.ID,
		Name:       call.Name,
		Input:      call.Input,
	})
	l.audit.Record(ctx, "approval_created", map[string]any{
		"approval_id": req.ID,
		"tool":        "skill_forge",
		"action":      "skill_install",
		"summary":     req.Summary,
	})
	out.tickets = append(out.tickets, req)
	out.previews = append(out.previews, formatProposal(req, name, desc, reason, dangerous, code))
}

// formatProposal renders the owner-facing preview of a proposed skill.
func formatProposal(req *approvals.Request, name, desc, reason string, dangerous bool, code string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🧩 **Skill proposal**: `%s`\n", name))
	if desc != "" {
		sb.WriteString("> " + desc + "\n")
	}
	if reason != "" {
		sb.WriteString("Reason: " + reason + "\n")
	}
	if dangerous {
		sb.WriteString("⚠️ Marked dangerous: every run will need your approval.\n")
	} else {
		sb.WriteString("Marked safe: it will run without per-call approval once installed.\n")
	}
	preview := code
	if len(preview) > codePreviewChars {
		preview = preview[:codePreviewChars] + "\n// … truncated …"
	}
	sb.WriteString("```js\n" + preview + "\n```\n")
	sb.WriteString(fmt.Sprintf("Ticket `%s` · expires %s\n", req.ID, req.ExpiresAt.Format("15:04:05")))
	sb.WriteString(fmt.Sprintf("Reply `/confirm %s` to install it or `/deny %s` to discard.", req.ID, req.ID))
	return sb.String()
}

// installSkill materialises an approved skill_forge ticket: persist and
// compile the skill, then register it enabled. Owner approval is the
// security boundary, so no further enable step is required.
func (l *Loop) installSkill(ctx context.Context, req *approvals.Request) string {
	str := func(key string) string {
		v, _ := req.Params[key].(string)
		return v
	}
	if l.skills == nil {
		return "Error: skill engine not available."
	}
	dangerous, _ := req.Params["dangerous"].(bool)
	params, _ := req.Params["parameters"].(map[string]any)

	sk, err := l.skills.Install(skills.Proposal{
		Name:        str("target"),
		Description: str("description"),
		Dangerous:   dangerous,
		Parameters:  params,
		Code:        str("content"),
	})
	if err != nil {
		return "Error: skill install failed: " + err.Error()
	}

	llmName := registry.SkillLLMName(sk.Name)
	l.reg.RegisterDynamic(registry.DynamicTool{
		LLMName:     llmName,
		SkillName:   sk.Name,
		Desc:        sk.Description,
		IsDangerous: sk.Dangerous,
		Parameters:  sk.Parameters,
	}, true)
	l.audit.Record(ctx, "skill_installed", map[string]any{
		"skill":     sk.Name,
		"dangerous": sk.Dangerous,
	})
	return fmt.Sprintf("Skill %q installed and enabled. Call it as %s.", sk.Name, llmName)
}
