// Package registry is the capability catalog: every tool the assistant could
// ever call lives here, and almost all of them are disabled almost all of the
// time.
//
// Three provenances share one namespace. Builtins ship with the binary and
// are registered at construction, disabled. Remote tools are announced by
// MCP servers while the gateway is awake and vanish when it sleeps. Dynamic
// tools are LLM-authored skills installed after owner approval.
package registry

import (
	"sort"
	"sync"
	"time"
)

// Kind discriminates the three tool provenances.
type Kind string

const (
	KindBuiltin Kind = "builtin"
	KindRemote  Kind = "remote"
	KindDynamic Kind = "dynamic"
)

// Tool is the common surface of the three provenance-specific records.
type Tool interface {
	Name() string
	Description() string
	Dangerous() bool
	Kind() Kind
}

// BuiltinTool groups a family of built-in actions under one switch.
// Enabling "filesystem" exposes all five filesystem actions to the model.
type BuiltinTool struct {
	name        string
	description string
}

func (t BuiltinTool) Name() string        { return t.name }
func (t BuiltinTool) Description() string { return t.description }
func (t BuiltinTool) Kind() Kind          { return KindBuiltin }

// Dangerous reports whether any action in the family is gated on approval.
func (t BuiltinTool) Dangerous() bool {
	for _, a := range builtinActions[t.name] {
		if !safeActions[a] {
			return true
		}
	}
	return false
}

// Actions returns the LLM-visible action names of the family, in schema order.
func (t BuiltinTool) Actions() []string { return builtinActions[t.name] }

// RemoteTool is a tool announced by an MCP server.
type RemoteTool struct {
	LLMName      string // server-qualified, e.g. "mcp__github__create_issue"
	Server       string
	OriginalName string // name on the wire when calling the server
	Desc         string
	IsDangerous  bool
	Schema       map[string]any // server-provided JSON schema, emitted verbatim
}

func (t RemoteTool) Name() string        { return t.LLMName }
func (t RemoteTool) Description() string { return t.Desc }
func (t RemoteTool) Dangerous() bool     { return t.IsDangerous }
func (t RemoteTool) Kind() Kind          { return KindRemote }

// DynamicTool is an installed skill.
type DynamicTool struct {
	LLMName     string // "skill__<name>"
	SkillName   string
	Desc        string
	IsDangerous bool
	Parameters  map[string]any // declared parameter schema
}

func (t DynamicTool) Name() string        { return t.LLMName }
func (t DynamicTool) Description() string { return t.Desc }
func (t DynamicTool) Dangerous() bool     { return t.IsDangerous }
func (t DynamicTool) Kind() Kind          { return KindDynamic }

type entry struct {
	tool           Tool
	enabled        bool
	lastEnabledAt  time.Time
	lastDisabledAt time.Time
}

// Registry is the name-indexed tool catalog. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string // registration order, builtins first
	now     func() time.Time
}

// New returns a registry with the builtin families registered and disabled.
func New() *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, name := range builtinOrder {
		r.entries[name] = &entry{tool: BuiltinTool{name: name, description: builtinDescriptions[name]}}
		r.order = append(r.order, name)
	}
	return r
}

// Enable turns a tool on. Returns false when the name is unknown.
func (r *Registry) Enable(name string) bool {
	return r.setEnabled(name, true)
}

// Disable turns a tool off. Returns false when the name is unknown.
func (r *Registry) Disable(name string) bool {
	return r.setEnabled(name, false)
}

func (r *Registry) setEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return false
	}
	e.enabled = enabled
	if enabled {
		e.lastEnabledAt = r.now()
	} else {
		e.lastDisabledAt = r.now()
	}
	return true
}

// DisableAll force-disables every tool. Runs on every wake, sleep and kill;
// the assistant always starts powerless.
func (r *Registry) DisableAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, e := range r.entries {
		if e.enabled {
			e.enabled = false
			e.lastDisabledAt = now
		}
	}
}

// EnableByServer enables every remote tool from the named server and returns
// how many were touched.
func (r *Registry) EnableByServer(server string) int {
	return r.setServerEnabled(server, true)
}

// DisableByServer disables every remote tool from the named server.
func (r *Registry) DisableByServer(server string) int {
	return r.setServerEnabled(server, false)
}

func (r *Registry) setServerEnabled(server string, enabled bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	count := 0
	for _, e := range r.entries {
		rt, ok := e.tool.(RemoteTool)
		if !ok || rt.Server != server {
			continue
		}
		e.enabled = enabled
		if enabled {
			e.lastEnabledAt = now
		} else {
			e.lastDisabledAt = now
		}
		count++
	}
	return count
}

// RegisterRemote adds a remote tool, disabled. Registering a name that
// already exists replaces the prior definition: servers re-announce their
// tools between reconnects.
func (r *Registry) RegisterRemote(t RemoteTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[t.LLMName]; ok {
		e.tool = t
		return
	}
	r.entries[t.LLMName] = &entry{tool: t}
	r.order = append(r.order, t.LLMName)
}

// ClearRemote removes every remote tool. Runs whenever the gateway enters or
// leaves the awake state.
func (r *Registry) ClearRemote() {
	r.clearKind(KindRemote)
}

// RegisterDynamic adds an installed skill to the catalog.
func (r *Registry) RegisterDynamic(t DynamicTool, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[t.LLMName]
	if !ok {
		e = &entry{}
		r.entries[t.LLMName] = e
		r.order = append(r.order, t.LLMName)
	}
	e.tool = t
	e.enabled = enabled
	if enabled {
		e.lastEnabledAt = r.now()
	}
}

// RemoveDynamic drops the dynamic tool registered for a skill. Registration
// here is a weak reference to the skill manager's state, so removal on either
// side must not fail on absence.
func (r *Registry) RemoveDynamic(skillName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.entries {
		dt, ok := e.tool.(DynamicTool)
		if ok && dt.SkillName == skillName {
			r.removeLocked(name)
			return true
		}
	}
	return false
}

// ClearDynamic removes every dynamic tool.
func (r *Registry) ClearDynamic() {
	r.clearKind(KindDynamic)
}

func (r *Registry) clearKind(kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.entries {
		if e.tool.Kind() == kind {
			r.removeLocked(name)
		}
	}
}

func (r *Registry) removeLocked(name string) {
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Enabled returns the enabled tools in registration order.
func (r *Registry) Enabled() []Tool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Tool
	for _, name := range r.order {
		if e := r.entries[name]; e != nil && e.enabled {
			out = append(out, e.tool)
		}
	}
	return out
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// IsEnabled reports whether the named registry entry is enabled.
func (r *Registry) IsEnabled(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	return ok && e.enabled
}

// ActionEnabled reports whether an LLM-visible tool name may be dispatched.
// Builtin action names check their owning family's switch; remote and
// dynamic names check their own entry.
func (r *Registry) ActionEnabled(llmName string) bool {
	if family, ok := actionFamily[llmName]; ok {
		return r.IsEnabled(family)
	}
	return r.IsEnabled(llmName)
}

// IsDangerous classifies an LLM-visible tool name. Builtin actions use the
// fixed safe-action table; remote and dynamic tools carry the flag on their
// definition. Unknown names are dangerous.
func (r *Registry) IsDangerous(llmName string) bool {
	if _, ok := actionFamily[llmName]; ok {
		return !safeActions[llmName]
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[llmName]; ok {
		return e.tool.Dangerous()
	}
	return true
}

// Info is a display row for the /tools listing.
type Info struct {
	Name      string
	Kind      Kind
	Enabled   bool
	Dangerous bool
}

// All returns display rows for every registered tool: builtins in fixed
// order, then remote and dynamic sorted by name.
func (r *Registry) All() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	var builtins, rest []Info
	for _, name := range r.order {
		e := r.entries[name]
		if e == nil {
			continue
		}
		info := Info{Name: name, Kind: e.tool.Kind(), Enabled: e.enabled, Dangerous: e.tool.Dangerous()}
		if info.Kind == KindBuiltin {
			builtins = append(builtins, info)
		} else {
			rest = append(rest, info)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].Name < rest[j].Name })
	return append(builtins, rest...)
}
