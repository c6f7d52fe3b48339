// Package bus is the in-process message bus that correlates tool confirmation
// requests with their responses and carries execution and policy messages.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/moqimoqidea/gemini-cli/pkg/policy"
	"github.com/moqimoqidea/gemini-cli/pkg/tools"
)

// Handler receives messages of the type it subscribed to. Handlers run
// synchronously inside Publish and may publish, subscribe or unsubscribe.
type Handler func(Message)

// PolicyChecker decides confirmation requests before they reach a front-end.
type PolicyChecker interface {
	Check(toolName string, args map[string]any) policy.Decision
}

// PolicyUpdater is implemented by checkers that accept "always allow" choices.
type PolicyUpdater interface {
	ApplyUpdate(ctx context.Context, u policy.Update) error
}

// Subscription is the token returned by Subscribe.
type Subscription struct {
	id      string
	typ     MessageType
	handler Handler
}

// ID returns the unique subscription id.
func (s *Subscription) ID() string { return s.id }

// MessageBus fans messages out to subscribers by type.
type MessageBus struct {
	mu             sync.RWMutex
	subs           map[MessageType][]*Subscription
	checker        PolicyChecker
	nonInteractive bool
	logger         *slog.Logger
}

// Option configures a MessageBus.
type Option func(*MessageBus)

// WithPolicy routes confirmation requests through checker first.
func WithPolicy(checker PolicyChecker) Option {
	return func(b *MessageBus) { b.checker = checker }
}

// WithNonInteractive denies requests that would need a human when nobody is
// subscribed to answer them.
func WithNonInteractive() Option {
	return func(b *MessageBus) { b.nonInteractive = true }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *MessageBus) { b.logger = l }
}

// New creates a bus.
func New(opts ...Option) *MessageBus {
	b := &MessageBus{
		subs:   make(map[MessageType][]*Subscription),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "bus")
	return b
}

// Subscribe registers handler for messages of type typ. Handlers of one type
// are called in subscription order.
func (b *MessageBus) Subscribe(typ MessageType, handler Handler) *Subscription {
	sub := &Subscription{id: uuid.NewString(), typ: typ, handler: handler}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[typ] = append(b.subs[typ], sub)
	return sub
}

// Unsubscribe removes sub. Removing it twice, or removing nil, is a no-op.
func (b *MessageBus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.typ]
	for i, s := range list {
		if s.id == sub.id {
			// copy so snapshots held by in-flight publishes stay intact
			next := make([]*Subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(b.subs, sub.typ)
			} else {
				b.subs[sub.typ] = next
			}
			return
		}
	}
}

// SubscriberCount returns how many handlers listen for typ.
func (b *MessageBus) SubscriberCount(typ MessageType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[typ])
}

// Publish delivers msg to every subscriber of its type before returning.
func (b *MessageBus) Publish(msg Message) error {
	if msg == nil {
		return fmt.Errorf("%w: nil", ErrInvalidMessage)
	}
	if err := msg.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch m := msg.(type) {
	case ConfirmationRequest:
		return b.publishRequest(m)
	case PolicyUpdate:
		if u, ok := b.checker.(PolicyUpdater); ok {
			err := u.ApplyUpdate(context.Background(), policy.Update{
				ToolName:   m.ToolName,
				ServerName: m.ServerName,
				Persist:    m.Persist,
			})
			if err != nil {
				b.logger.Warn("policy update failed", "tool", m.ToolName, "server", m.ServerName, "error", err)
			}
		}
	}
	b.dispatch(msg)
	return nil
}

func (b *MessageBus) publishRequest(req ConfirmationRequest) error {
	decision := policy.AskUser
	if b.checker != nil {
		decision = b.checker.Check(req.ToolName, req.Args)
	}

	switch decision {
	case policy.Allow:
		b.logger.Debug("policy allowed tool", "tool", req.ToolName, "correlation_id", req.CorrelationID)
		b.dispatch(ConfirmationResponse{
			CorrelationID: req.CorrelationID,
			Confirmed:     true,
			Outcome:       tools.OutcomeProceedOnce,
		})
	case policy.Deny:
		b.deny(req, "denied by policy")
	default:
		if b.nonInteractive && b.SubscriberCount(TypeConfirmationRequest) == 0 {
			b.deny(req, "confirmation required in non-interactive mode")
			return nil
		}
		b.dispatch(req)
	}
	return nil
}

func (b *MessageBus) deny(req ConfirmationRequest, reason string) {
	b.logger.Info("tool call rejected", "tool", req.ToolName, "reason", reason, "correlation_id", req.CorrelationID)
	b.dispatch(PolicyRejection{
		CorrelationID: req.CorrelationID,
		ToolName:      req.ToolName,
		Args:          req.Args,
		Reason:        reason,
	})
	b.dispatch(ConfirmationResponse{
		CorrelationID: req.CorrelationID,
		Confirmed:     false,
		Outcome:       tools.OutcomeCancel,
	})
}

func (b *MessageBus) dispatch(msg Message) {
	b.mu.RLock()
	snapshot := b.subs[msg.Type()]
	b.mu.RUnlock()

	for _, sub := range snapshot {
		sub.handler(msg)
	}
}
