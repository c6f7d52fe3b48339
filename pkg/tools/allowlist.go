package tools

import "sync"

// Allowlist records servers and tools the operator chose to always allow for
// the lifetime of the process. Keys are server names or qualified tool names.
type Allowlist struct {
	mu   sync.RWMutex
	keys map[string]bool
}

// NewAllowlist creates an empty allowlist.
func NewAllowlist() *Allowlist {
	return &Allowlist{keys: make(map[string]bool)}
}

func (a *Allowlist) Add(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys[key] = true
}

func (a *Allowlist) Has(key string) bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.keys[key]
}
