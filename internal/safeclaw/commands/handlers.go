package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/safeclaw/safeclaw/common/version"
	"github.com/safeclaw/safeclaw/internal/safeclaw/audit"
	"github.com/safeclaw/safeclaw/internal/safeclaw/gateway"
	"github.com/safeclaw/safeclaw/internal/safeclaw/observability"
	"github.com/safeclaw/safeclaw/internal/safeclaw/provider"
	"github.com/safeclaw/safeclaw/internal/safeclaw/providerstore"
	"github.com/safeclaw/safeclaw/internal/safeclaw/registry"
	"github.com/safeclaw/safeclaw/internal/safeclaw/skills"
)

// dormantAllowed names the commands that work while the gateway sleeps.
// Everything else is silently dropped in dormant state.
var dormantAllowed = map[string]bool{
	"wake":   true,
	"kill":   true,
	"auth":   true,
	"model":  true,
	"status": true,
	"audit":  true,
	"help":   true,
}

// Handlers binds the command surface to the gateway and its stores.
type Handlers struct {
	gw     *gateway.Gateway
	reg    *registry.Registry
	creds  *providerstore.Store
	log    *audit.Logger
	skills *skills.Manager
	router *Router
}

// NewHandlers wires every command into a fresh router.
func NewHandlers(gw *gateway.Gateway, reg *registry.Registry, creds *providerstore.Store, log *audit.Logger, sk *skills.Manager) *Handlers {
	h := &Handlers{gw: gw, reg: reg, creds: creds, log: log, skills: sk}
	r := NewRouter("/")

	r.Register("wake", h.handleWake)
	r.Register("sleep", h.handleSleep)
	r.Register("kill", h.handleKill)
	r.Register("auth", h.handleAuth)
	r.Register("auth.status", h.handleAuthStatus)
	r.Register("auth.remove", h.handleAuthRemove)
	r.Register("model", h.handleModel)
	r.Register("model.list", h.handleModelList)
	r.Register("tools", h.handleTools)
	r.Register("enable", h.handleEnable)
	r.Register("disable", h.handleDisable)
	r.Register("confirm", h.handleConfirm)
	r.Register("confirm.all", h.handleConfirmAll)
	r.Register("deny", h.handleDeny)
	r.Register("deny.all", h.handleDenyAll)
	r.Register("status", h.handleStatus)
	r.Register("audit", h.handleAudit)
	r.Register("audit.verbose", h.handleAuditVerbose)
	r.Register("skills", h.handleSkills)
	r.Register("skills.remove", h.handleSkillsRemove)
	r.Register("help", h.handleHelp)

	h.router = r
	return h
}

// Handle processes one owner message. The second return is false when the
// message is not a command and belongs in the free-text path. Unknown and
// state-forbidden commands are swallowed according to the gateway state.
func (h *Handlers) Handle(ctx context.Context, text string) (string, bool) {
	cmd, err := h.router.Parse(text)
	if err != nil {
		if errors.Is(err, ErrNotACommand) {
			return "", false
		}
		return "", true
	}

	if h.gw.State() == gateway.StateDormant && !dormantAllowed[cmd.Name] {
		return "", true
	}
	if !h.router.Known(cmd.Name) {
		return fmt.Sprintf("Unknown command `/%s`. `/help` lists what I understand.", cmd.Name), true
	}

	reply, err := h.router.Route(ctx, text)
	if err != nil {
		return "❌ " + err.Error(), true
	}
	return reply, true
}

func (h *Handlers) handleWake(ctx context.Context, _ *Command) (string, error) {
	return h.gw.Wake(ctx), nil
}

func (h *Handlers) handleSleep(ctx context.Context, _ *Command) (string, error) {
	return h.gw.Sleep(ctx), nil
}

func (h *Handlers) handleKill(ctx context.Context, _ *Command) (string, error) {
	return h.gw.Kill(ctx), nil
}

func (h *Handlers) handleAuth(_ context.Context, cmd *Command) (string, error) {
	name := cmd.Subcommand
	key, _ := cmd.GetArg(0)
	if name == "" || key == "" {
		return "Usage: `/auth <provider> <api-key>` · `/auth status` · `/auth remove <provider>`", nil
	}
	if err := h.creds.SetCredential(name, key); err != nil {
		return "", err
	}
	observability.Protect(key)
	active, model := h.creds.Active()
	return fmt.Sprintf("✅ Stored credential for %s. Active: %s/%s", name, active, model), nil
}

func (h *Handlers) handleAuthStatus(_ context.Context, _ *Command) (string, error) {
	configured := h.creds.Configured()
	if len(configured) == 0 {
		return "No credentials stored. `/auth <provider> <api-key>` adds one.", nil
	}
	active, model := h.creds.Active()
	var sb strings.Builder
	sb.WriteString("Configured providers:\n")
	for _, name := range configured {
		marker := "•"
		if name == active {
			marker = "→"
		}
		sb.WriteString(fmt.Sprintf("%s %s\n", marker, name))
	}
	sb.WriteString(fmt.Sprintf("Active model: %s/%s\n", active, model))
	if h.creds.Encrypted() {
		sb.WriteString("Credentials are encrypted at rest.")
	} else {
		sb.WriteString("⚠️ No MASTER_KEY set; credentials are stored in plain text.")
	}
	return sb.String(), nil
}

func (h *Handlers) handleAuthRemove(_ context.Context, cmd *Command) (string, error) {
	name, ok := cmd.GetArg(0)
	if !ok {
		return "Usage: `/auth remove <provider>`", nil
	}
	removed, err := h.creds.RemoveCredential(name)
	if err != nil {
		return "", err
	}
	if !removed {
		return fmt.Sprintf("No credential stored for %s.", name), nil
	}
	if active, model := h.creds.Active(); active != "" {
		return fmt.Sprintf("🗑️ Removed %s. Active: %s/%s", name, active, model), nil
	}
	return fmt.Sprintf("🗑️ Removed %s. No provider left; `/auth` to add one.", name), nil
}

func (h *Handlers) handleModel(_ context.Context, cmd *Command) (string, error) {
	sel := cmd.Subcommand
	if sel == "" {
		active, model := h.creds.Active()
		if active == "" {
			return "No provider configured. `/auth <provider> <api-key>` first.", nil
		}
		return fmt.Sprintf("Active model: %s/%s. `/model list` shows alternatives.", active, model), nil
	}
	name, model, ok := strings.Cut(sel, "/")
	if !ok {
		return "Usage: `/model <provider>/<model>` · `/model list [<provider>]`", nil
	}
	if err := h.creds.SetActive(name, model); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Active model: %s/%s", name, model), nil
}

func (h *Handlers) handleModelList(_ context.Context, cmd *Command) (string, error) {
	names := provider.Names()
	if only, ok := cmd.GetArg(0); ok {
		if !provider.Known(only) {
			return fmt.Sprintf("Unknown provider %q. Supported: %s.", only, strings.Join(provider.Names(), ", ")), nil
		}
		names = []string{only}
	}
	var sb strings.Builder
	for _, name := range names {
		sb.WriteString("**" + name + "**\n")
		for i, m := range provider.Models(name) {
			if i == 0 {
				sb.WriteString("• " + m + " (default)\n")
			} else {
				sb.WriteString("• " + m + "\n")
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (h *Handlers) handleTools(_ context.Context, _ *Command) (string, error) {
	var sb strings.Builder
	sb.WriteString("**Tools**\n")
	for _, info := range h.reg.All() {
		marker := "⬜"
		if info.Enabled {
			marker = "✅"
		}
		danger := ""
		if info.Dangerous {
			danger = " ⚠️"
		}
		sb.WriteString(fmt.Sprintf("%s %s (%s)%s\n", marker, info.Name, info.Kind, danger))
	}
	sb.WriteString("`/enable <name>` arms one; `mcp:<server>` toggles a whole server.")
	return sb.String(), nil
}

func (h *Handlers) handleEnable(_ context.Context, cmd *Command) (string, error) {
	return h.toggle(cmd, true)
}

func (h *Handlers) handleDisable(_ context.Context, cmd *Command) (string, error) {
	return h.toggle(cmd, false)
}

func (h *Handlers) toggle(cmd *Command, enable bool) (string, error) {
	name := cmd.Subcommand
	if name == "" {
		return fmt.Sprintf("Usage: `/%s <name>`", cmd.Name), nil
	}
	verb := "Disabled"
	if enable {
		verb = "Enabled"
	}
	if server, ok := strings.CutPrefix(name, "mcp:"); ok {
		var n int
		if enable {
			n = h.reg.EnableByServer(server)
		} else {
			n = h.reg.DisableByServer(server)
		}
		if n == 0 {
			return fmt.Sprintf("No tools registered for MCP server %q.", server), nil
		}
		return fmt.Sprintf("✅ %s %d tools from MCP server %s.", verb, n, server), nil
	}
	var ok bool
	if enable {
		ok = h.reg.Enable(name)
	} else {
		ok = h.reg.Disable(name)
	}
	if !ok {
		return fmt.Sprintf("Unknown tool %q. `/tools` lists what is registered.", name), nil
	}
	return fmt.Sprintf("✅ %s %s.", verb, name), nil
}

func (h *Handlers) handleConfirm(ctx context.Context, cmd *Command) (string, error) {
	if cmd.Subcommand == "" {
		return h.gw.ConfirmSingle(ctx), nil
	}
	return h.gw.Confirm(ctx, cmd.Subcommand), nil
}

func (h *Handlers) handleConfirmAll(ctx context.Context, cmd *Command) (string, error) {
	batch, ok := cmd.GetArg(0)
	if !ok {
		return "Usage: `/confirm all <batchId>`", nil
	}
	return h.gw.ConfirmAll(ctx, batch), nil
}

func (h *Handlers) handleDeny(ctx context.Context, cmd *Command) (string, error) {
	if cmd.Subcommand == "" {
		return "Usage: `/deny <id>` · `/deny all <batchId>`", nil
	}
	return h.gw.Deny(ctx, cmd.Subcommand), nil
}

func (h *Handlers) handleDenyAll(ctx context.Context, cmd *Command) (string, error) {
	batch, ok := cmd.GetArg(0)
	if !ok {
		return "Usage: `/deny all <batchId>`", nil
	}
	return h.gw.DenyAll(ctx, batch), nil
}

func (h *Handlers) handleStatus(_ context.Context, _ *Command) (string, error) {
	return h.gw.Status(), nil
}

func (h *Handlers) handleAudit(_ context.Context, cmd *Command) (string, error) {
	n := 10
	if arg := cmd.Subcommand; arg != "" {
		parsed, err := strconv.Atoi(arg)
		if err != nil || parsed <= 0 {
			return "Usage: `/audit [n]` · `/audit verbose [on|off]`", nil
		}
		n = parsed
	}
	events, err := h.log.Tail(n)
	if err != nil {
		return "", fmt.Errorf("read audit log: %w", err)
	}
	if len(events) == 0 {
		return "Audit log is empty.", nil
	}
	return audit.Format(events), nil
}

func (h *Handlers) handleAuditVerbose(_ context.Context, cmd *Command) (string, error) {
	arg, ok := cmd.GetArg(0)
	if !ok {
		if h.log.Verbose() {
			return "Audit mirroring is on. Significant events are sent here as notices.", nil
		}
		return "Audit mirroring is off. `/audit verbose on` mirrors significant events here.", nil
	}
	switch arg {
	case "on":
		h.log.SetVerbose(true)
		return "✅ Audit mirroring on.", nil
	case "off":
		h.log.SetVerbose(false)
		return "✅ Audit mirroring off.", nil
	default:
		return "Usage: `/audit verbose [on|off]`", nil
	}
}

func (h *Handlers) handleSkills(_ context.Context, _ *Command) (string, error) {
	if h.skills == nil {
		return "Skill engine is disabled.", nil
	}
	installed := h.skills.List()
	if len(installed) == 0 {
		return "No skills installed. The assistant can propose one with request_capability.", nil
	}
	var sb strings.Builder
	sb.WriteString("**Installed skills**\n")
	for _, sk := range installed {
		llmName := registry.SkillLLMName(sk.Name)
		marker := "⬜"
		if h.reg.IsEnabled(llmName) {
			marker = "✅"
		}
		danger := ""
		if sk.Dangerous {
			danger = " ⚠️"
		}
		sb.WriteString(fmt.Sprintf("%s %s%s — %s\n", marker, llmName, danger, sk.Description))
	}
	sb.WriteString("`/skills remove <name>` uninstalls one.")
	return sb.String(), nil
}

func (h *Handlers) handleSkillsRemove(ctx context.Context, cmd *Command) (string, error) {
	name, ok := cmd.GetArg(0)
	if !ok {
		return "Usage: `/skills remove <name>`", nil
	}
	if h.skills == nil {
		return "Skill engine is disabled.", nil
	}
	name = strings.TrimPrefix(name, registry.SkillPrefix)
	if err := h.skills.Remove(name); err != nil {
		return "", err
	}
	h.reg.RemoveDynamic(name)
	h.log.Record(ctx, "skill_removed", map[string]any{"skill": name})
	return fmt.Sprintf("🗑️ Removed skill %q.", name), nil
}

func (h *Handlers) handleHelp(_ context.Context, _ *Command) (string, error) {
	return fmt.Sprintf(`**SafeClaw %s**

Lifecycle: /wake · /sleep · /kill
Auth: /auth <provider> <api-key> · /auth status · /auth remove <provider>
Model: /model · /model list [<provider>] · /model <provider>/<model>
Tools: /tools · /enable <name> · /disable <name> (also mcp:<server> and skill__<name>)
Approvals: /confirm · /confirm <id> · /confirm all <batchId> · /deny <id> · /deny all <batchId>
Info: /status · /audit [n] · /audit verbose [on|off] · /skills · /help

Free text goes to the assistant while awake. Everything starts disabled; dangerous actions always ask first.`, version.Version), nil
}
