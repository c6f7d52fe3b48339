package tools

import (
	"context"
	"sort"
	"sync"
)

// PromptArgument describes one templated argument of a prompt.
type PromptArgument struct {
	Name        string
	Description string
	Required    bool
}

// PromptMessage is one rendered message of a prompt.
type PromptMessage struct {
	Role string
	Text string
}

// PromptGetter renders a prompt on the server that exposes it.
type PromptGetter interface {
	GetPrompt(ctx context.Context, name string, args map[string]string) ([]PromptMessage, error)
}

// Prompt is a reusable prompt template exposed by a tool server.
type Prompt struct {
	ServerName  string
	Name        string
	Description string
	Arguments   []PromptArgument
	Getter      PromptGetter
}

// Render asks the owning server to fill the template.
func (p *Prompt) Render(ctx context.Context, args map[string]string) ([]PromptMessage, error) {
	return p.Getter.GetPrompt(ctx, p.Name, args)
}

// PromptRegistry holds discovered prompts keyed by server.
type PromptRegistry struct {
	mu      sync.RWMutex
	prompts map[string]map[string]*Prompt // server → prompt name → prompt
}

// NewPromptRegistry creates an empty prompt registry.
func NewPromptRegistry() *PromptRegistry {
	return &PromptRegistry{prompts: make(map[string]map[string]*Prompt)}
}

// RegisterServerPrompts replaces the prompts registered for serverName.
func (r *PromptRegistry) RegisterServerPrompts(serverName string, prompts []*Prompt) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.prompts, serverName)
	if len(prompts) == 0 {
		return
	}
	set := make(map[string]*Prompt, len(prompts))
	for _, p := range prompts {
		set[p.Name] = p
	}
	r.prompts[serverName] = set
}

// RemoveServerPrompts drops every prompt of serverName.
func (r *PromptRegistry) RemoveServerPrompts(serverName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.prompts, serverName)
}

// Get looks up a prompt by server and name.
func (r *PromptRegistry) Get(serverName, name string) (*Prompt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prompts[serverName][name]
	return p, ok
}

// ServerPrompts returns the prompts of one server sorted by name.
func (r *PromptRegistry) ServerPrompts(serverName string) []*Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Prompt, 0, len(r.prompts[serverName]))
	for _, p := range r.prompts[serverName] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
