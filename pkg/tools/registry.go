package tools

import (
	"sort"
	"sync"
)

// Registry holds available tools and resolves them by name. It is safe for
// concurrent use; servers register and remove their tools independently.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	byServer map[string][]string // server name → qualified tool names
	disabled map[string]bool     // explicitly disallowed
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDisabled marks tool names as disabled.
func WithDisabled(names ...string) RegistryOption {
	return func(r *Registry) {
		for _, n := range names {
			r.disabled[n] = true
		}
	}
}

// NewRegistry creates a new tool registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:    make(map[string]Tool),
		byServer: make(map[string][]string),
		disabled: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool that does not belong to any server.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// RegisterServerTools replaces every tool previously registered for serverName
// with the given set.
func (r *Registry) RegisterServerTools(serverName string, tools []Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeServerLocked(serverName)
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		r.tools[t.Name()] = t
		names = append(names, t.Name())
	}
	if len(names) > 0 {
		r.byServer[serverName] = names
	}
}

// RemoveServerTools removes all tools registered for serverName.
func (r *Registry) RemoveServerTools(serverName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeServerLocked(serverName)
}

func (r *Registry) removeServerLocked(serverName string) {
	for _, name := range r.byServer[serverName] {
		delete(r.tools, name)
	}
	delete(r.byServer, serverName)
}

// ServerToolNames returns the qualified names registered for serverName, sorted.
func (r *Registry) ServerToolNames(serverName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := append([]string(nil), r.byServer[serverName]...)
	sort.Strings(names)
	return names
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// IsDisabled returns true if the tool is explicitly disallowed.
func (r *Registry) IsDisabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disabled[name]
}

// Names returns all enabled tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		if !r.disabled[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Definitions returns model-facing definitions for all enabled tools.
func (r *Registry) Definitions() []Definition {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		tool, ok := r.tools[name]
		if !ok {
			continue
		}
		defs = append(defs, Definition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.InputSchema(),
		})
	}
	return defs
}
