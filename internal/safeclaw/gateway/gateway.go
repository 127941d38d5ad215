// Package gateway owns the SafeClaw state machine: dormant until the owner
// wakes it, awake while serving turns, action_pending while a dangerous
// call waits for a decision, shutdown once killed.
//
// Every transition out of awake tears the session down completely: tools
// disabled, remote registrations cleared, pending approvals dropped,
// background processes killed and MCP servers disconnected. Waking always
// starts from a clean slate.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/safeclaw/safeclaw/internal/safeclaw/agent"
	"github.com/safeclaw/safeclaw/internal/safeclaw/approvals"
	"github.com/safeclaw/safeclaw/internal/safeclaw/audit"
	"github.com/safeclaw/safeclaw/internal/safeclaw/mcp"
	"github.com/safeclaw/safeclaw/internal/safeclaw/procs"
	"github.com/safeclaw/safeclaw/internal/safeclaw/registry"
	"github.com/safeclaw/safeclaw/internal/safeclaw/session"
	"github.com/safeclaw/safeclaw/internal/safeclaw/skills"
	"github.com/safeclaw/safeclaw/internal/safeclaw/tools"
)

// State is the gateway lifecycle phase.
type State string

const (
	StateDormant       State = "dormant"
	StateAwake         State = "awake"
	StateActionPending State = "action_pending"
	StateShutdown      State = "shutdown"
)

// DefaultInactivity is how long the gateway stays awake without owner
// activity before it sleeps on its own.
const DefaultInactivity = 30 * time.Minute

// Config wires the gateway to its long-lived subsystems. Registry,
// Approvals, Runner, Skills, Procs, Audit and Creds outlive individual
// sessions; the session, agent loop and MCP connections are created at
// wake and discarded at sleep.
type Config struct {
	Registry  *registry.Registry
	Approvals *approvals.Store
	Runner    *tools.Runner
	Skills    *skills.Manager
	Procs     *procs.Registry
	Audit     *audit.Logger
	Creds     agent.Credentials

	// StorageDir holds soul.md, prompt-skills/ and mcp.json.
	StorageDir string

	// Inactivity overrides the auto-sleep timeout. Zero means default.
	Inactivity time.Duration

	// Notify pushes an unsolicited message to the owner, used for the
	// auto-sleep notice. Nil means no notification.
	Notify func(ctx context.Context, text string)
}

// Gateway is the single state machine instance. All public methods are safe
// for concurrent use; owner traffic is serialized under one mutex.
type Gateway struct {
	mu  sync.Mutex
	cfg Config

	state        State
	sess         *session.Session
	loop         *agent.Loop
	mcpMgr       *mcp.Manager
	lastActivity time.Time
	idleTimer    *time.Timer
	wokeAt       time.Time

	inactivity time.Duration
	done       chan struct{}
}

// New returns a dormant gateway.
func New(cfg Config) *Gateway {
	inactivity := cfg.Inactivity
	if inactivity <= 0 {
		inactivity = DefaultInactivity
	}
	return &Gateway{
		cfg:        cfg,
		state:      StateDormant,
		inactivity: inactivity,
		done:       make(chan struct{}),
	}
}

// State returns the current lifecycle phase.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Done closes when the gateway reaches shutdown.
func (g *Gateway) Done() <-chan struct{} { return g.done }

// Wake transitions dormant → awake: fresh session, discovery of persona,
// prompt skills, MCP servers and installed dynamic skills, everything
// registered disabled. Returns the wake report.
func (g *Gateway) Wake(ctx context.Context) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateShutdown:
		return ""
	case StateAwake, StateActionPending:
		return "I'm already awake."
	}

	g.cfg.Registry.DisableAll()
	g.cfg.Registry.ClearRemote()

	persona, err := skills.LoadPersona(g.cfg.StorageDir)
	if err != nil {
		slog.Warn("persona load failed", "err", err)
		persona = ""
	}
	promptSkills, err := skills.LoadPromptSkills(filepath.Join(g.cfg.StorageDir, "prompt-skills"))
	if err != nil {
		slog.Warn("prompt skills load failed", "err", err)
		promptSkills = nil
	}

	g.mcpMgr = mcp.NewManager()
	var statuses []mcp.ServerStatus
	specs, err := mcp.LoadConfig(filepath.Join(g.cfg.StorageDir, "mcp.json"))
	if err != nil {
		slog.Warn("mcp config rejected", "err", err)
	} else if len(specs) > 0 {
		statuses = g.mcpMgr.ConnectAll(ctx, specs)
	}
	for _, ti := range g.mcpMgr.Tools() {
		g.cfg.Registry.RegisterRemote(registry.RemoteTool{
			LLMName:      registry.MCPName(ti.Server, ti.Name),
			Server:       ti.Server,
			OriginalName: ti.Name,
			Desc:         ti.Description,
			IsDangerous:  ti.Dangerous,
			Schema:       ti.Schema,
		})
	}

	var installed []*skills.Skill
	if g.cfg.Skills != nil {
		installed = g.cfg.Skills.List()
		for _, sk := range installed {
			g.cfg.Registry.RegisterDynamic(registry.DynamicTool{
				LLMName:     registry.SkillLLMName(sk.Name),
				SkillName:   sk.Name,
				Desc:        sk.Description,
				IsDangerous: sk.Dangerous,
				Parameters:  sk.Parameters,
			}, false)
		}
	}

	g.sess = session.New()
	g.loop = agent.New(agent.Config{
		Registry:     g.cfg.Registry,
		Approvals:    g.cfg.Approvals,
		Session:      g.sess,
		Runner:       g.cfg.Runner,
		Skills:       g.cfg.Skills,
		MCP:          g.mcpMgr,
		Audit:        g.cfg.Audit,
		Creds:        g.cfg.Creds,
		Persona:      persona,
		PromptSkills: promptSkills,
	})

	g.state = StateAwake
	now := time.Now()
	g.lastActivity = now
	g.wokeAt = now
	g.idleTimer = time.AfterFunc(g.inactivity, g.autoSleep)

	g.cfg.Audit.Record(ctx, "session_started", map[string]any{
		"persona":       persona != "",
		"prompt_skills": len(promptSkills),
		"mcp_servers":   len(statuses),
		"skills":        len(installed),
	})
	return wakeReport(persona != "", promptSkills, statuses, installed, g.providerLine())
}

// Sleep transitions awake/action_pending → dormant on owner request.
func (g *Gateway) Sleep(ctx context.Context) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateShutdown:
		return ""
	case StateDormant:
		return "I'm already dormant."
	}
	g.teardownLocked()
	g.state = StateDormant
	g.cfg.Audit.Record(ctx, "session_ended", map[string]any{"reason": "owner"})
	return "💤 Going dormant. Tools disabled, background sessions stopped. Say /wake when you need me."
}

// Kill transitions any state → shutdown. Terminal; the hosting process is
// expected to exit once Done closes.
func (g *Gateway) Kill(ctx context.Context) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateShutdown {
		return ""
	}
	if g.state != StateDormant {
		g.teardownLocked()
		g.cfg.Audit.Record(ctx, "session_ended", map[string]any{"reason": "shutdown"})
	}
	g.state = StateShutdown
	close(g.done)
	return "🛑 Shutting down. Goodbye."
}

// autoSleep fires from the inactivity timer. Recent activity re-arms the
// timer instead of sleeping; the timer callback may have raced a turn.
func (g *Gateway) autoSleep() {
	g.mu.Lock()
	if g.state != StateAwake && g.state != StateActionPending {
		g.mu.Unlock()
		return
	}
	if remain := g.inactivity - time.Since(g.lastActivity); remain > 0 {
		g.idleTimer.Reset(remain)
		g.mu.Unlock()
		return
	}
	g.teardownLocked()
	g.state = StateDormant
	g.mu.Unlock()

	ctx := context.Background()
	g.cfg.Audit.Record(ctx, "auto_sleep", map[string]any{"after": g.inactivity.String()})
	g.notify(ctx, fmt.Sprintf("💤 Went to sleep after %s of inactivity. Say /wake when you need me.", formatDuration(g.inactivity)))
}

// teardownLocked dismantles the awake-phase state. Callers hold g.mu and
// set the next state themselves.
func (g *Gateway) teardownLocked() {
	if g.idleTimer != nil {
		g.idleTimer.Stop()
		g.idleTimer = nil
	}
	g.cfg.Registry.DisableAll()
	g.cfg.Registry.ClearRemote()
	g.cfg.Registry.ClearDynamic()
	g.cfg.Approvals.Clear()
	if g.cfg.Procs != nil {
		g.cfg.Procs.Dispose()
	}
	if g.mcpMgr != nil {
		g.mcpMgr.DisconnectAll()
		g.mcpMgr = nil
	}
	g.sess = nil
	g.loop = nil
}

// touchLocked refreshes the activity clock and re-arms the inactivity timer.
func (g *Gateway) touchLocked() {
	g.lastActivity = time.Now()
	if g.idleTimer != nil {
		g.idleTimer.Reset(g.inactivity)
	}
}

func (g *Gateway) notify(ctx context.Context, text string) {
	if g.cfg.Notify != nil {
		g.cfg.Notify(ctx, text)
	}
}

func (g *Gateway) providerLine() string {
	if g.cfg.Creds == nil {
		return "none"
	}
	p, model, err := g.cfg.Creds.Resolve()
	if err != nil {
		return "none — set one with /auth <provider> <api-key>"
	}
	return p.Name() + "/" + model
}

// wakeReport renders the /wake reply: what was discovered and the reminder
// that everything starts disabled.
func wakeReport(hasPersona bool, promptSkills []skills.PromptSkill, statuses []mcp.ServerStatus, installed []*skills.Skill, providerLine string) string {
	var sb strings.Builder
	sb.WriteString("🟢 **SafeClaw is awake.**\n")
	sb.WriteString("Provider: " + providerLine + "\n")

	if hasPersona {
		sb.WriteString("Persona: soul.md loaded.\n")
	} else {
		sb.WriteString("Persona: default.\n")
	}

	var usable, skipped []string
	for i := range promptSkills {
		ps := &promptSkills[i]
		if ps.Usable() {
			usable = append(usable, ps.Name)
		} else {
			skipped = append(skipped, fmt.Sprintf("%s (missing: %s)", ps.Name, strings.Join(ps.Missing, ", ")))
		}
	}
	switch {
	case len(usable) == 0 && len(skipped) == 0:
		sb.WriteString("Prompt skills: none.\n")
	case len(skipped) == 0:
		sb.WriteString("Prompt skills: " + strings.Join(usable, ", ") + "\n")
	case len(usable) == 0:
		sb.WriteString("Prompt skills: skipped " + strings.Join(skipped, "; ") + "\n")
	default:
		sb.WriteString(fmt.Sprintf("Prompt skills: %s; skipped %s\n", strings.Join(usable, ", "), strings.Join(skipped, "; ")))
	}

	if len(statuses) == 0 {
		sb.WriteString("MCP servers: none configured.\n")
	} else {
		for _, st := range statuses {
			if st.Err != nil {
				sb.WriteString(fmt.Sprintf("⚠️ MCP %s: %v\n", st.Server, st.Err))
			} else {
				sb.WriteString(fmt.Sprintf("🔌 MCP %s: %d tools\n", st.Server, st.ToolCount))
			}
		}
	}

	if len(installed) > 0 {
		names := make([]string, 0, len(installed))
		for _, sk := range installed {
			names = append(names, sk.Name)
		}
		sb.WriteString("Installed skills: " + strings.Join(names, ", ") + "\n")
	}

	sb.WriteString("All tools start disabled. `/tools` lists them, `/enable <name>` arms one.")
	return sb.String()
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return d.String()
}
