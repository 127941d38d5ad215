// Package agent runs the turn-based conversation loop between the owner,
// the configured LLM provider and the tool surface. One Loop exists per
// wake session; the gateway discards it on sleep.
//
// The loop's contract with the gateway is deliberately narrow: Run takes
// owner text and returns a reply plus any approval tickets raised, Resume
// executes approved tickets and continues the conversation, and Denied
// acknowledges refused tickets. Everything about provider selection,
// schema assembly, history compaction and danger gating is internal.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/safeclaw/safeclaw/internal/safeclaw/approvals"
	"github.com/safeclaw/safeclaw/internal/safeclaw/audit"
	"github.com/safeclaw/safeclaw/internal/safeclaw/mcp"
	"github.com/safeclaw/safeclaw/internal/safeclaw/provider"
	"github.com/safeclaw/safeclaw/internal/safeclaw/providerstore"
	"github.com/safeclaw/safeclaw/internal/safeclaw/registry"
	"github.com/safeclaw/safeclaw/internal/safeclaw/session"
	"github.com/safeclaw/safeclaw/internal/safeclaw/skills"
	"github.com/safeclaw/safeclaw/internal/safeclaw/tools"
)

// MaxLoopDepth bounds chained tool turns within a single Run. The model
// gets this many chances to call safe tools before the loop gives up.
const MaxLoopDepth = 10

// expiredFiller answers tool calls whose approval lapsed before a decision.
const expiredFiller = "Request expired without approval."

// deniedFiller answers tool calls the owner refused.
const deniedFiller = "Denied by owner."

// Credentials resolves the active provider for a turn. Satisfied by
// *providerstore.Store.
type Credentials interface {
	Resolve() (provider.Provider, string, error)
}

// Config wires a Loop to the per-session and long-lived components.
type Config struct {
	Registry  *registry.Registry
	Approvals *approvals.Store
	Session   *session.Session
	Runner    *tools.Runner
	Skills    *skills.Manager
	MCP       *mcp.Manager
	Audit     *audit.Logger
	Creds     Credentials

	// Persona is appended to the system prompt last so it can override
	// tone set by anything before it. Empty means no persona.
	Persona string

	// PromptSkills are the usable workflow documents discovered at wake.
	PromptSkills []skills.PromptSkill
}

// Loop is the per-session agent. Not safe for concurrent use; the gateway
// serializes owner messages.
type Loop struct {
	reg    *registry.Registry
	appr   *approvals.Store
	sess   *session.Session
	runner *tools.Runner
	skills *skills.Manager
	mcp    *mcp.Manager
	audit  *audit.Logger
	creds  Credentials

	system  string
	newUUID func() string
}

// New assembles a Loop. The system prompt is fixed at construction; persona
// or prompt-skill changes require a fresh session.
func New(cfg Config) *Loop {
	return &Loop{
		reg:     cfg.Registry,
		appr:    cfg.Approvals,
		sess:    cfg.Session,
		runner:  cfg.Runner,
		skills:  cfg.Skills,
		mcp:     cfg.MCP,
		audit:   cfg.Audit,
		creds:   cfg.Creds,
		system:  buildSystemPrompt(cfg.Persona, cfg.PromptSkills),
		newUUID: uuid.NewString,
	}
}

// Result is the outcome of one owner turn. When Pending is non-empty the
// reply already contains the rendered approval prompt and the gateway must
// move to action_pending.
type Result struct {
	Reply   string
	Pending []*approvals.Request
}

var _ Credentials = (*providerstore.Store)(nil)

// Run processes one owner message while the session is awake.
func (l *Loop) Run(ctx context.Context, text string) *Result {
	prov, model, err := l.creds.Resolve()
	if err != nil {
		return &Result{Reply: "❌ No provider configured. Use /auth <provider> <api-key> first."}
	}

	// Tool calls left unanswered by an expired approval would poison the
	// next provider call; fill them before appending anything new.
	l.sess.RepairDanglingToolCalls(expiredFiller)

	l.sess.Append(provider.Message{Role: provider.RoleUser, Content: text})

	return l.converse(ctx, prov, model)
}

// Resume continues the conversation after the owner approved tickets:
// the approved actions run, and the model's follow-up to their results
// becomes the reply. remaining is how many sibling tickets are still
// undecided; while it is non-zero their tool calls are unanswered in the
// transcript, so the provider call is deferred until the batch settles.
func (l *Loop) Resume(ctx context.Context, approved []*approvals.Request, remaining int) *Result {
	prov, model, err := l.creds.Resolve()
	if err != nil {
		return &Result{Reply: "❌ No provider configured. Use /auth <provider> <api-key> first."}
	}

	executed := 0
	for _, req := range approved {
		p, ok := l.sess.TakePending(req.ID)
		if !ok {
			continue
		}
		var out string
		if req.ToolName == "skill_forge" {
			out = l.installSkill(ctx, req)
		} else {
			out = l.executeCall(ctx, p.Name, p.Input)
		}
		l.sess.Append(provider.Message{
			Role:       provider.RoleToolResult,
			Content:    out,
			ToolCallID: p.ToolCallID,
			ToolName:   p.Name,
		})
		executed++
	}
	if executed == 0 {
		return &Result{Reply: "Nothing left to run for that approval."}
	}
	if remaining > 0 {
		return &Result{Reply: fmt.Sprintf("✅ Approved and ran. %d of the batch still pending — decide the rest and I'll continue.", remaining)}
	}

	// A sibling whose approval lapsed while this one was being decided left
	// its tool call unanswered; fill it before going back to the provider.
	l.sess.RepairDanglingToolCalls(expiredFiller)

	res := l.converse(ctx, prov, model)
	if len(res.Pending) == 0 && !strings.HasPrefix(res.Reply, "❌") {
		res.Reply = "✅ Approved.\n\n" + res.Reply
	}
	return res
}

// Denied discards the session mapping for refused tickets and answers
// their tool calls so the transcript stays well-formed. Returns a short
// acknowledgement for the owner.
func (l *Loop) Denied(reqs []*approvals.Request) string {
	for _, req := range reqs {
		if p, ok := l.sess.TakePending(req.ID); ok {
			l.sess.Append(provider.Message{
				Role:       provider.RoleToolResult,
				Content:    deniedFiller,
				ToolCallID: p.ToolCallID,
				ToolName:   p.Name,
			})
		}
	}
	if len(reqs) > 1 {
		return fmt.Sprintf("❌ Denied %d actions. I won't run them.", len(reqs))
	}
	return "❌ Denied. I won't run that."
}

// DiscardExpired drops the session mapping for tickets that lapsed without
// a decision. The dangling tool calls are repaired on the next Run.
func (l *Loop) DiscardExpired(reqs []*approvals.Request) {
	for _, req := range reqs {
		l.sess.TakePending(req.ID)
	}
}

// converse drives provider turns until the model stops calling tools, a
// dangerous call suspends the run, or the depth bound trips.
func (l *Loop) converse(ctx context.Context, prov provider.Provider, model string) *Result {
	lastText := ""
	notice := ""
	for depth := 0; depth < MaxLoopDepth; depth++ {
		// A tool loop can grow the transcript past the threshold within
		// one owner turn, so the check runs before every submission.
		if n := l.maybeCompact(ctx, prov, model); n != "" {
			notice = n
		}
		l.sess.TrimHistory()

		resp, err := prov.Chat(ctx, provider.ChatRequest{
			Model:    model,
			Messages: l.withSystem(l.sess.Messages()),
			Tools:    l.schemas(),
		})
		if err != nil {
			return &Result{Reply: fmt.Sprintf("❌ %s error: %v", prov.Name(), oneLine(err))}
		}

		if len(resp.ToolCalls) == 0 {
			l.sess.Append(provider.Message{Role: provider.RoleAssistant, Content: resp.Text})
			return &Result{Reply: joinParts(notice, resp.Text)}
		}
		if resp.Text != "" {
			lastText = resp.Text
		}
		l.sess.Append(provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		out := l.dispatch(ctx, resp.ToolCalls)
		if len(out.tickets) > 0 {
			reply := joinParts(notice, resp.Text, out.prompt)
			return &Result{Reply: reply, Pending: out.tickets}
		}
		// All calls were safe and answered inline; give the model
		// another turn to read the results.
	}
	if lastText != "" {
		return &Result{Reply: joinParts(notice, lastText)}
	}
	return &Result{Reply: joinParts(notice, "⚠️ Turn limit reached without a final answer. Ask me to continue if needed.")}
}

// withSystem prepends the assembled system prompt to the session transcript.
func (l *Loop) withSystem(msgs []provider.Message) []provider.Message {
	out := make([]provider.Message, 0, len(msgs)+1)
	out = append(out, provider.Message{Role: provider.RoleSystem, Content: l.system})
	return append(out, msgs...)
}

func joinParts(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

func oneLine(err error) string {
	return strings.Join(strings.Fields(err.Error()), " ")
}
