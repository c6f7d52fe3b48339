// Package confirm gates tool execution behind an asynchronous confirmation
// exchanged over the message bus.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/moqimoqidea/gemini-cli/pkg/bus"
	"github.com/moqimoqidea/gemini-cli/pkg/tools"
)

var (
	// ErrDenied is returned when the operator or policy refused the call.
	ErrDenied = errors.New("tool call denied")
	// ErrCancelled is returned when the call was abandoned before an answer arrived.
	ErrCancelled = errors.New("tool confirmation cancelled")
)

// Interceptor runs tool calls, asking for confirmation on the bus first when
// the invocation requires it.
type Interceptor struct {
	bus    *bus.MessageBus
	newID  func() string
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingConfirmation
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithIDGenerator replaces the correlation id generator. Ids must be unique
// for the process lifetime.
func WithIDGenerator(gen func() string) Option {
	return func(i *Interceptor) { i.newID = gen }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Interceptor) { i.logger = l }
}

// New creates an interceptor publishing on b.
func New(b *bus.MessageBus, opts ...Option) *Interceptor {
	i := &Interceptor{
		bus:     b,
		newID:   uuid.NewString,
		logger:  slog.Default(),
		pending: make(map[string]*pendingConfirmation),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With("component", "confirm")
	return i
}

// Execute builds, confirms and runs one tool call, then reports the result on
// the bus. A denied call returns ErrDenied; an abandoned one ErrCancelled.
// Passing a nil tool is a programming error and panics.
func (i *Interceptor) Execute(ctx context.Context, tool tools.Tool, args map[string]any) (tools.ToolOutput, error) {
	if tool == nil {
		panic("confirm: Execute called with a nil tool")
	}
	name := tool.Name()

	inv, err := tool.Build(args)
	if err != nil {
		i.publishFailure("", name, args, err)
		return tools.ToolOutput{}, err
	}

	id, err := i.Confirm(ctx, tool, inv, args)
	if err != nil {
		i.publishFailure(id, name, args, err)
		return tools.ToolOutput{}, err
	}

	out, err := inv.Execute(ctx)
	if err != nil {
		i.publishFailure(id, name, args, err)
		return tools.ToolOutput{}, err
	}
	if pubErr := i.bus.Publish(bus.ExecutionSuccess{CorrelationID: id, ToolName: name, Args: args, Output: out}); pubErr != nil {
		i.logger.Warn("publish execution success", "tool", name, "error", pubErr)
	}
	return out, nil
}

// Confirm waits for permission to run inv. It returns the correlation id used,
// or "" when no confirmation was needed.
func (i *Interceptor) Confirm(ctx context.Context, tool tools.Tool, inv tools.Invocation, args map[string]any) (string, error) {
	details, err := inv.ShouldConfirm(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		return "", err
	}
	if details == nil {
		return "", nil
	}

	name := tool.Name()
	p := &pendingConfirmation{
		id:      i.newID(),
		tool:    tool,
		inv:     inv,
		args:    args,
		details: details,
		done:    make(chan struct{}),
	}

	// Subscribe before publishing: a policy decision answers synchronously.
	sub := i.bus.Subscribe(bus.TypeConfirmationResponse, func(msg bus.Message) {
		resp, ok := msg.(bus.ConfirmationResponse)
		if !ok || resp.CorrelationID != p.id {
			return
		}
		p.settle(resp, nil)
	})
	p.unsubscribe = func() { i.bus.Unsubscribe(sub) }
	i.track(p)
	defer i.untrack(p)

	i.logger.Debug("awaiting confirmation", "tool", name, "correlation_id", p.id)
	err = i.bus.Publish(bus.ConfirmationRequest{
		CorrelationID: p.id,
		ToolName:      name,
		Tool:          tool,
		Invocation:    inv,
		Args:          args,
		Details:       details,
	})
	if err != nil {
		p.settle(bus.ConfirmationResponse{}, err)
		return p.id, err
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		p.settle(bus.ConfirmationResponse{}, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err()))
	}

	if p.err != nil {
		return p.id, p.err
	}
	if !p.resp.Confirmed {
		i.logger.Info("tool call denied", "tool", name, "correlation_id", p.id)
		return p.id, fmt.Errorf("%w: %s", ErrDenied, name)
	}

	outcome := p.resp.Outcome
	if outcome == "" {
		outcome = tools.OutcomeProceedOnce
	}
	if details.OnConfirm != nil {
		details.OnConfirm(outcome)
	}
	if outcome.Always() {
		i.publishPolicyUpdate(name, details, outcome)
	}
	return p.id, nil
}

// Waiting describes a call that is still waiting for its answer.
type Waiting struct {
	CorrelationID string                     `json:"correlationId"`
	ToolName      string                     `json:"toolName"`
	Tool          tools.Tool                 `json:"-"`
	Invocation    tools.Invocation           `json:"-"`
	Args          map[string]any             `json:"args,omitempty"`
	Details       *tools.ConfirmationDetails `json:"details,omitempty"`
}

// Pending returns the calls still waiting for an answer, sorted by
// correlation id.
func (i *Interceptor) Pending() []Waiting {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make([]Waiting, 0, len(i.pending))
	for _, p := range i.pending {
		out = append(out, Waiting{
			CorrelationID: p.id,
			ToolName:      p.tool.Name(),
			Tool:          p.tool,
			Invocation:    p.inv,
			Args:          p.args,
			Details:       p.details,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CorrelationID < out[b].CorrelationID })
	return out
}

// CancelAll rejects every waiting confirmation with ErrCancelled. Used when
// the front-end that would answer them goes away.
func (i *Interceptor) CancelAll() {
	i.mu.Lock()
	waiting := make([]*pendingConfirmation, 0, len(i.pending))
	for _, p := range i.pending {
		waiting = append(waiting, p)
	}
	i.mu.Unlock()

	for _, p := range waiting {
		p.settle(bus.ConfirmationResponse{}, fmt.Errorf("%w: front-end disconnected", ErrCancelled))
	}
}

func (i *Interceptor) track(p *pendingConfirmation) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pending[p.id] = p
}

func (i *Interceptor) untrack(p *pendingConfirmation) {
	i.mu.Lock()
	delete(i.pending, p.id)
	i.mu.Unlock()
	p.unsubscribe()
}

func (i *Interceptor) publishPolicyUpdate(name string, details *tools.ConfirmationDetails, outcome tools.ConfirmationOutcome) {
	update := bus.PolicyUpdate{ToolName: name}
	switch outcome {
	case tools.OutcomeProceedAlwaysServer:
		if details.ServerName != "" {
			update = bus.PolicyUpdate{ServerName: details.ServerName}
		}
	case tools.OutcomeProceedAlwaysSave:
		update.Persist = true
	}
	if err := i.bus.Publish(update); err != nil {
		i.logger.Warn("publish policy update", "tool", name, "error", err)
	}
}

func (i *Interceptor) publishFailure(id, name string, args map[string]any, cause error) {
	err := i.bus.Publish(bus.ExecutionFailure{CorrelationID: id, ToolName: name, Args: args, Err: cause})
	if err != nil {
		i.logger.Warn("publish execution failure", "tool", name, "error", err)
	}
}

// pendingConfirmation is one call waiting for its answer. It settles once.
type pendingConfirmation struct {
	id          string
	tool        tools.Tool
	inv         tools.Invocation
	args        map[string]any
	details     *tools.ConfirmationDetails
	unsubscribe func()

	once sync.Once
	done chan struct{}
	resp bus.ConfirmationResponse
	err  error
}

func (p *pendingConfirmation) settle(resp bus.ConfirmationResponse, err error) {
	p.once.Do(func() {
		p.resp = resp
		p.err = err
		p.unsubscribe()
		close(p.done)
	})
}
