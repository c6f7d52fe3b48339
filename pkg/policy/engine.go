package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Engine evaluates rules. It is safe for concurrent use.
type Engine struct {
	mu              sync.RWMutex
	rules           []Rule
	defaultDecision Decision
	store           *Store
	logger          *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRules seeds the engine with rules. Invalid rules are skipped with a warning.
func WithRules(rules ...Rule) Option {
	return func(e *Engine) { e.rules = append(e.rules, rules...) }
}

// WithDefault sets the decision when no rule matches. Defaults to AskUser.
func WithDefault(d Decision) Option {
	return func(e *Engine) { e.defaultDecision = d }
}

// WithStore persists updates that ask for it.
func WithStore(s *Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{defaultDecision: AskUser, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "policy")

	valid := e.rules[:0]
	for _, r := range e.rules {
		if err := r.Validate(); err != nil {
			e.logger.Warn("skipping policy rule", "error", err)
			continue
		}
		valid = append(valid, r)
	}
	e.rules = valid
	if !e.defaultDecision.Valid() {
		e.defaultDecision = AskUser
	}
	return e
}

// Check returns the decision of the highest-priority matching rule. Between
// rules of equal priority the stricter decision wins.
func (e *Engine) Check(toolName string, args map[string]any) Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var best *Rule
	for i := range e.rules {
		r := &e.rules[i]
		if !r.matches(toolName, args) {
			continue
		}
		if best == nil || r.Priority > best.Priority ||
			(r.Priority == best.Priority && r.Decision.strictness() > best.Decision.strictness()) {
			best = r
		}
	}
	if best == nil {
		return e.defaultDecision
	}
	return best.Decision
}

// AddRule adds a rule for the rest of the session.
func (e *Engine) AddRule(r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
	return nil
}

// ApplyUpdate turns an "always allow" choice into a rule, persisting it when asked.
func (e *Engine) ApplyUpdate(ctx context.Context, u Update) error {
	rule, err := u.Rule()
	if err != nil {
		return err
	}
	if err := e.AddRule(rule); err != nil {
		return err
	}
	e.logger.Info("policy updated", "tool", rule.Tool, "persist", u.Persist)

	if !u.Persist || e.store == nil {
		return nil
	}
	rule.Source = "file"
	if err := e.store.Append(ctx, rule); err != nil {
		return fmt.Errorf("persist policy rule: %w", err)
	}
	return nil
}

// Rules returns a copy of the current rules.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}
