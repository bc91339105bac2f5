package agent

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// ToolRegistry discovers a fixed set of tool implementations at startup and holds
// them by canonical lowercase name. It is immutable after discovery: every
// Register call happens during wiring, before the agent loop starts, so Resolve
// needs no lock in the steady state — we still take one to be safe against tests
// that register lazily.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool under its canonical lowercase name. Registering two tools
// under the same name is a caller error; Register panics rather than silently
// dropping one, since a dropped tool is a schema the model will call and never
// reach.
func (r *ToolRegistry) Register(tool Tool, logger *slog.Logger) {
	name := strings.ToLower(tool.Name())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		panic(fmt.Sprintf("agent: duplicate tool registration for %q", name))
	}
	if ls, ok := tool.(LoggerSetter); ok && logger != nil {
		ls.SetLogger(logger.With("tool", name))
	}
	r.tools[name] = tool
}

// Resolve returns the tool registered under name, or nil if none. Resolve has no
// side effects.
func (r *ToolRegistry) Resolve(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[strings.ToLower(name)]
}

// All returns every registered tool, sorted by name for deterministic iteration.
func (r *ToolRegistry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Schemas returns the {name, description, schema} triples used to seed the
// model's function-calling payload.
func (r *ToolRegistry) Schemas() []Schema {
	all := r.All()
	out := make([]Schema, 0, len(all))
	for _, t := range all {
		out = append(out, Schema{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()})
	}
	return out
}

// Subset returns a new registry containing only the named tools that exist in r.
// Names absent from r are silently dropped, matching spec.md §4.12's custom
// agent-type resolution rule.
func (r *ToolRegistry) Subset(names []string) *ToolRegistry {
	sub := NewToolRegistry()
	for _, name := range names {
		if t := r.Resolve(name); t != nil {
			sub.tools[strings.ToLower(name)] = t
		}
	}
	return sub
}
