package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/safeclaw/safeclaw/internal/safeclaw/approvals"
	"github.com/safeclaw/safeclaw/internal/safeclaw/provider"
	"github.com/safeclaw/safeclaw/internal/safeclaw/registry"
	"github.com/safeclaw/safeclaw/internal/safeclaw/secretguard"
	"github.com/safeclaw/safeclaw/internal/safeclaw/session"
	"github.com/safeclaw/safeclaw/internal/safeclaw/tools"
)

// turnOutcome is what one assistant turn's tool calls produced: tickets to
// show the owner (with their rendered prompt) when any call was dangerous.
// Skill proposals add a rich preview block per ticket.
type turnOutcome struct {
	tickets  []*approvals.Request
	previews []string
	prompt   string
}

// dispatch processes the tool calls of one assistant turn in provider
// order. Safe calls execute immediately and their results are appended to
// the session; dangerous calls become approval tickets sharing a batch ID
// when there is more than one.
func (l *Loop) dispatch(ctx context.Context, calls []provider.ToolCall) turnOutcome {
	dangerous := 0
	for _, call := range calls {
		if l.needsApproval(call.Name) {
			dangerous++
		}
	}
	batchID := ""
	if dangerous > 1 {
		batchID = l.newUUID()
	}

	var out turnOutcome
	for _, call := range calls {
		if call.Name == "request_capability" {
			l.propose(ctx, call, batchID, &out)
			continue
		}
		if !l.reg.ActionEnabled(call.Name) {
			l.appendResult(call, fmt.Sprintf("Tool %q is not enabled. Ask the owner to run /enable.", call.Name))
			continue
		}
		if l.reg.IsDangerous(call.Name) {
			l.raiseTicket(ctx, call, batchID, &out)
			continue
		}
		l.appendResult(call, l.executeCall(ctx, call.Name, call.Input))
	}

	switch {
	case len(out.tickets) == 0:
	case len(out.tickets) == 1 && len(out.previews) == 1:
		out.prompt = out.previews[0]
	case len(out.tickets) == 1:
		out.prompt = approvals.FormatRequest(out.tickets[0])
	default:
		parts := append(append([]string(nil), out.previews...), approvals.FormatBatch(batchID, out.tickets))
		out.prompt = strings.Join(parts, "\n\n")
	}
	return out
}

// needsApproval mirrors the ticket-raising conditions of dispatch so the
// batch ID can be decided before the first ticket is created.
func (l *Loop) needsApproval(name string) bool {
	if name == "request_capability" {
		return true
	}
	return l.reg.ActionEnabled(name) && l.reg.IsDangerous(name)
}

// raiseTicket suspends a dangerous call behind an approval request.
func (l *Loop) raiseTicket(ctx context.Context, call provider.ToolCall, batchID string, out *turnOutcome) {
	toolName, action := registry.Resolve(call.Name)
	req := l.appr.Create(approvals.Spec{
		ToolName:   toolName,
		Action:     action,
		Params:     call.Input,
		Summary:    summarize(call.Name, action, call.Input),
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
		"tool":        toolName,
		"action":      action,
		"summary":     req.Summary,
	})
	out.tickets = append(out.tickets, req)
}

// appendResult records one answered tool call in the session transcript.
func (l *Loop) appendResult(call provider.ToolCall, result string) {
	l.sess.Append(provider.Message{
		Role:       provider.RoleToolResult,
		Content:    result,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	})
}

// executeCall runs one tool call and renders the outcome as a tool result
// string. Execution errors never abort the run; they are reported to the
// model so it can adjust. Used for safe calls inline and for approved
// dangerous calls at Resume.
func (l *Loop) executeCall(ctx context.Context, llmName string, input map[string]any) string {
	toolName, action := registry.Resolve(llmName)

	var result string
	var err error
	switch action {
	case "mcp_call":
		result, err = l.callRemote(ctx, llmName, input)
	case "skill_call":
		result, err = l.callSkill(ctx, llmName, input)
	case "":
		return fmt.Sprintf("Unknown tool %q.", llmName)
	default:
		result, err = l.runner.Execute(ctx, action, input)
	}

	if err != nil {
		if errors.Is(err, secretguard.ErrProtected) {
			l.audit.Record(ctx, "secretguard_denied", map[string]any{
				"tool":   toolName,
				"action": action,
				"detail": oneLine(err),
			})
			return secretguard.DenialMessage
		}
		return "Error: " + err.Error()
	}

	l.audit.Record(ctx, "tool_executed", map[string]any{
		"tool":   toolName,
		"action": action,
		"target": targetOf(input),
	})
	return tools.Truncate(result)
}

// callRemote forwards an mcp__ call to its server under the original tool
// name announced on the wire.
func (l *Loop) callRemote(ctx context.Context, llmName string, input map[string]any) (string, error) {
	t, ok := l.reg.Get(llmName)
	if !ok {
		return "", fmt.Errorf("remote tool %q not registered", llmName)
	}
	rt, ok := t.(registry.RemoteTool)
	if !ok {
		return "", fmt.Errorf("tool %q is not a remote tool", llmName)
	}
	if l.mcp == nil {
		return "", fmt.Errorf("no MCP servers connected")
	}
	return l.mcp.Call(ctx, rt.Server, rt.OriginalName, input)
}

// callSkill runs a skill__ call through the dynamic skill engine.
func (l *Loop) callSkill(ctx context.Context, llmName string, input map[string]any) (string, error) {
	t, ok := l.reg.Get(llmName)
	if !ok {
		return "", fmt.Errorf("skill %q not registered", llmName)
	}
	dt, ok := t.(registry.DynamicTool)
	if !ok {
		return "", fmt.Errorf("tool %q is not a skill", llmName)
	}
	if l.skills == nil {
		return "", fmt.Errorf("skill engine not available")
	}
	return l.skills.Execute(ctx, dt.SkillName, input)
}

// summarize renders the one-line human description shown on an approval
// ticket. It names the concrete effect, not the tool plumbing.
func summarize(llmName, action string, input map[string]any) string {
	str := func(key string) string {
		if v, ok := input[key].(string); ok {
			return v
		}
		return ""
	}
	switch action {
	case "write_file":
		return fmt.Sprintf("write %d bytes to %s", len(str("content")), str("path"))
	case "delete_file":
		return "delete " + str("path")
	case "move_file":
		return fmt.Sprintf("move %s to %s", str("source"), str("destination"))
	case "exec_shell", "exec_shell_bg":
		return "run `" + clip(str("command"), 80) + "`"
	case "process_write":
		return "send input to session " + str("process_id")
	case "process_kill":
		return "terminate session " + str("process_id")
	case "memory_write":
		return fmt.Sprintf("store %d bytes under memory key %q", len(str("content")), str("key"))
	case "memory_delete":
		return fmt.Sprintf("delete memory key %q", str("key"))
	case "apply_patch":
		return fmt.Sprintf("apply a patch (%d chars)", len(str("patch")))
	case "mcp_call":
		return "call remote tool " + strings.TrimPrefix(llmName, registry.MCPPrefix)
	case "skill_call":
		return "run skill " + strings.TrimPrefix(llmName, registry.SkillPrefix)
	default:
		return action
	}
}

// targetOf extracts the most telling parameter of a call for audit details.
func targetOf(input map[string]any) string {
	for _, key := range []string{"path", "source", "command", "url", "key", "process_id"} {
		if v, ok := input[key].(string); ok && v != "" {
			return clip(v, 120)
		}
	}
	return ""
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
