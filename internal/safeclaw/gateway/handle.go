package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/safeclaw/safeclaw/common/version"
	"github.com/safeclaw/safeclaw/internal/safeclaw/approvals"
)

// HandleText processes owner free text. Dormant and shutdown states drop it
// silently; action_pending answers with the pending list instead of running
// the loop; awake runs the agent loop and may suspend into action_pending.
func (g *Gateway) HandleText(ctx context.Context, text string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateDormant || g.state == StateShutdown {
		return ""
	}
	g.touchLocked()
	notice := g.drainExpiredLocked(ctx)

	if g.state == StateActionPending {
		return joinBlocks(notice, approvals.FormatPendingList(g.cfg.Approvals.Pending()))
	}
	if g.loop == nil {
		return joinBlocks(notice, "⚠️ No active session. Say /wake first.")
	}

	res := g.loop.Run(ctx, text)
	if len(res.Pending) > 0 {
		g.state = StateActionPending
	}
	return joinBlocks(notice, res.Reply)
}

// Confirm approves one ticket by id and resumes the loop with it.
func (g *Gateway) Confirm(ctx context.Context, id string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateDormant || g.state == StateShutdown {
		return ""
	}
	g.touchLocked()
	notice := g.drainExpiredLocked(ctx)

	req, ok := g.cfg.Approvals.Approve(id)
	if !ok {
		return joinBlocks(notice, fmt.Sprintf("No pending approval with id `%s`.", id))
	}
	return joinBlocks(notice, g.resumeLocked(ctx, []*approvals.Request{req}))
}

// ConfirmAll approves every ticket in a batch and resumes the loop with
// them in creation order.
func (g *Gateway) ConfirmAll(ctx context.Context, batchID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateDormant || g.state == StateShutdown {
		return ""
	}
	g.touchLocked()
	notice := g.drainExpiredLocked(ctx)

	reqs := g.cfg.Approvals.ResolveBatch(batchID)
	if len(reqs) == 0 {
		return joinBlocks(notice, fmt.Sprintf("No pending batch `%s`.", batchID))
	}
	return joinBlocks(notice, g.resumeLocked(ctx, reqs))
}

// ConfirmSingle approves the one pending ticket when exactly one exists;
// otherwise it lists what is pending.
func (g *Gateway) ConfirmSingle(ctx context.Context) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateDormant || g.state == StateShutdown {
		return ""
	}
	g.touchLocked()
	notice := g.drainExpiredLocked(ctx)

	req, ok := g.cfg.Approvals.Single()
	if !ok {
		return joinBlocks(notice, approvals.FormatPendingList(g.cfg.Approvals.Pending()))
	}
	if _, ok := g.cfg.Approvals.Approve(req.ID); !ok {
		return joinBlocks(notice, fmt.Sprintf("No pending approval with id `%s`.", req.ID))
	}
	return joinBlocks(notice, g.resumeLocked(ctx, []*approvals.Request{req}))
}

// Deny refuses one ticket by id.
func (g *Gateway) Deny(ctx context.Context, id string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateDormant || g.state == StateShutdown {
		return ""
	}
	g.touchLocked()
	notice := g.drainExpiredLocked(ctx)

	req, ok := g.cfg.Approvals.Deny(id)
	if !ok {
		return joinBlocks(notice, fmt.Sprintf("No pending approval with id `%s`.", id))
	}
	return joinBlocks(notice, g.denyLocked(ctx, []*approvals.Request{req}))
}

// DenyAll refuses every ticket in a batch.
func (g *Gateway) DenyAll(ctx context.Context, batchID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateDormant || g.state == StateShutdown {
		return ""
	}
	g.touchLocked()
	notice := g.drainExpiredLocked(ctx)

	reqs := g.cfg.Approvals.ResolveBatch(batchID)
	if len(reqs) == 0 {
		return joinBlocks(notice, fmt.Sprintf("No pending batch `%s`.", batchID))
	}
	return joinBlocks(notice, g.denyLocked(ctx, reqs))
}

// resumeLocked audits and executes approved tickets, then settles the state.
func (g *Gateway) resumeLocked(ctx context.Context, reqs []*approvals.Request) string {
	for _, req := range reqs {
		g.cfg.Audit.Record(ctx, "approval_approved", map[string]any{
			"approval_id": req.ID,
			"tool":        req.ToolName,
			"action":      req.Action,
			"summary":     req.Summary,
		})
	}
	if g.loop == nil {
		return "⚠️ No active session. Say /wake first."
	}
	res := g.loop.Resume(ctx, reqs, len(g.cfg.Approvals.Pending()))
	g.settleLocked(len(res.Pending) > 0)
	return res.Reply
}

// denyLocked audits refused tickets, repairs the transcript and settles.
func (g *Gateway) denyLocked(ctx context.Context, reqs []*approvals.Request) string {
	for _, req := range reqs {
		g.cfg.Audit.Record(ctx, "approval_denied", map[string]any{
			"approval_id": req.ID,
			"tool":        req.ToolName,
			"action":      req.Action,
			"summary":     req.Summary,
		})
	}
	if g.loop == nil {
		return "❌ Denied."
	}
	ack := g.loop.Denied(reqs)
	g.settleLocked(false)
	return ack
}

// settleLocked recomputes the awake/action_pending split after approvals
// were resolved or raised.
func (g *Gateway) settleLocked(raisedMore bool) {
	if g.state != StateAwake && g.state != StateActionPending {
		return
	}
	if raisedMore || len(g.cfg.Approvals.Pending()) > 0 {
		g.state = StateActionPending
	} else {
		g.state = StateAwake
	}
}

// drainExpiredLocked reports tickets that lapsed since the last interaction.
// Expiry is an implicit denial: the loop's pending mapping is dropped and
// the state returns to awake once nothing is left pending.
func (g *Gateway) drainExpiredLocked(ctx context.Context) string {
	expired := g.cfg.Approvals.TakeExpired()
	if len(expired) == 0 {
		return ""
	}
	if g.loop != nil {
		g.loop.DiscardExpired(expired)
	}
	var lines []string
	for _, req := range expired {
		g.cfg.Audit.Record(ctx, "approval_expired", map[string]any{
			"approval_id": req.ID,
			"tool":        req.ToolName,
			"action":      req.Action,
		})
		lines = append(lines, fmt.Sprintf("⌛ Approval `%s` (%s.%s) expired without a decision.", req.ID, req.ToolName, req.Action))
	}
	if g.state == StateActionPending && len(g.cfg.Approvals.Pending()) == 0 {
		g.state = StateAwake
	}
	return strings.Join(lines, "\n")
}

// Status renders the /status reply.
func (g *Gateway) Status() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var sb strings.Builder
	switch g.state {
	case StateAwake:
		sb.WriteString("🟢 State: awake\n")
		sb.WriteString(fmt.Sprintf("Session: %d messages since %s\n", g.sess.Len(), g.wokeAt.Format("15:04:05")))
	case StateActionPending:
		sb.WriteString("⏳ State: action_pending\n")
		sb.WriteString(fmt.Sprintf("Session: %d messages since %s\n", g.sess.Len(), g.wokeAt.Format("15:04:05")))
	case StateShutdown:
		sb.WriteString("🛑 State: shutdown\n")
	default:
		sb.WriteString("💤 State: dormant\n")
	}
	sb.WriteString("Provider: " + g.providerLine() + "\n")

	if pending := g.cfg.Approvals.Pending(); len(pending) > 0 {
		sb.WriteString(fmt.Sprintf("Pending approvals: %d\n", len(pending)))
	}

	var enabled []string
	for _, t := range g.cfg.Registry.Enabled() {
		enabled = append(enabled, t.Name())
	}
	if len(enabled) == 0 {
		sb.WriteString("Enabled tools: none\n")
	} else {
		sb.WriteString("Enabled tools: " + strings.Join(enabled, ", ") + "\n")
	}
	sb.WriteString("Version: " + version.Version)
	return sb.String()
}

// PendingSummary renders the current pending list, used by /confirm with a
// bad argument and by transports that want to re-show the prompt.
func (g *Gateway) PendingSummary() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return approvals.FormatPendingList(g.cfg.Approvals.Pending())
}

// PendingCount reports how many approvals are waiting on the owner.
func (g *Gateway) PendingCount() int {
	return len(g.cfg.Approvals.Pending())
}

func joinBlocks(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
