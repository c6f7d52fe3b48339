// Package hub assembles the tool-server manager, the confirmation bus and the
// policy engine from one settings file.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/moqimoqidea/gemini-cli/pkg/bus"
	"github.com/moqimoqidea/gemini-cli/pkg/config"
	"github.com/moqimoqidea/gemini-cli/pkg/confirm"
	"github.com/moqimoqidea/gemini-cli/pkg/extension"
	"github.com/moqimoqidea/gemini-cli/pkg/feedback"
	"github.com/moqimoqidea/gemini-cli/pkg/mcp"
	"github.com/moqimoqidea/gemini-cli/pkg/policy"
	"github.com/moqimoqidea/gemini-cli/pkg/tools"
	"github.com/moqimoqidea/gemini-cli/pkg/types"
)

// ErrUnknownTool is returned by Call for a name no server has registered.
var ErrUnknownTool = errors.New("unknown tool")

// Hub is the running system: servers, their tools, and the confirmation path
// every call goes through.
type Hub struct {
	Settings    *config.Settings
	Engine      *policy.Engine
	Bus         *bus.MessageBus
	Manager     *mcp.Manager
	Interceptor *confirm.Interceptor
	// Watcher is nil when no extensions directory is configured.
	Watcher *extension.Watcher

	logger *slog.Logger
}

type options struct {
	logger   *slog.Logger
	feedback feedback.Emitter
	factory  mcp.HandleFactory
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithFeedback adds an emitter next to the log.
func WithFeedback(e feedback.Emitter) Option {
	return func(o *options) { o.feedback = e }
}

// WithHandleFactory replaces how server connections are made.
func WithHandleFactory(f mcp.HandleFactory) Option {
	return func(o *options) { o.factory = f }
}

// New wires the components. Nothing connects until Discover.
func New(ctx context.Context, s *config.Settings, opts ...Option) (*Hub, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if s == nil {
		s = config.Default()
	}

	rules := append([]policy.Rule(nil), s.Policy.Rules...)
	policyOpts := []policy.Option{policy.WithDefault(s.Policy.Default), policy.WithLogger(o.logger)}
	if s.Policy.RulesFile != "" {
		store := policy.NewStore(s.Policy.RulesFile)
		saved, err := store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load policy rules: %w", err)
		}
		rules = append(rules, saved...)
		policyOpts = append(policyOpts, policy.WithStore(store))
	}
	engine := policy.NewEngine(append(policyOpts, policy.WithRules(rules...))...)

	busOpts := []bus.Option{bus.WithPolicy(engine), bus.WithLogger(o.logger)}
	if s.NonInteractive {
		busOpts = append(busOpts, bus.WithNonInteractive())
	}
	b := bus.New(busOpts...)

	var (
		watcher *extension.Watcher
		exts    []*types.Extension
	)
	if s.ExtensionsDir != "" {
		watcher = extension.NewWatcher(s.ExtensionsDir,
			extension.WithDisabled(s.DisabledExtensions...),
			extension.WithWatcherLogger(o.logger))
		loaded, err := watcher.Load()
		if err != nil {
			o.logger.Warn("some extensions failed to load", "dir", s.ExtensionsDir, "error", err)
		}
		exts = loaded
	}

	fb := feedback.Emitter(feedback.NewLogEmitter(o.logger))
	if o.feedback != nil {
		fb = feedback.Multi{fb, o.feedback}
	}

	var mgrOpts []mcp.ManagerOption
	if o.factory != nil {
		mgrOpts = append(mgrOpts, mcp.WithHandleFactory(o.factory))
	}
	manager := mcp.NewManager(mcp.ManagerConfig{
		Servers:        s.McpServers,
		ServerCommand:  s.McpServerCommand,
		AllowServers:   s.AllowMcpServers,
		ExcludeServers: s.ExcludeMcpServers,
		Extensions:     exts,
		Tools:          tools.NewRegistry(),
		Prompts:        tools.NewPromptRegistry(),
		Allowlist:      tools.NewAllowlist(),
		Feedback:       fb,
		Logger:         o.logger,
	}, mgrOpts...)

	return &Hub{
		Settings:    s,
		Engine:      engine,
		Bus:         b,
		Manager:     manager,
		Interceptor: confirm.New(b, confirm.WithLogger(o.logger)),
		Watcher:     watcher,
		logger:      o.logger.With("component", "hub"),
	}, nil
}

// Discover connects every configured server and returns once the batch has
// settled. Individual server failures are reported through feedback and
// Manager.Status, not here.
func (h *Hub) Discover(ctx context.Context) error {
	h.Manager.DiscoverAll(ctx)
	return ctx.Err()
}

// Run follows extension changes until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if h.Watcher == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	go h.Manager.WatchExtensions(ctx, h.Watcher.Events())
	return h.Watcher.Run(ctx)
}

// Call runs a registered tool through confirmation.
func (h *Hub) Call(ctx context.Context, name string, args map[string]any) (tools.ToolOutput, error) {
	tool, ok := h.Manager.Tools().Get(name)
	if !ok {
		return tools.ToolOutput{}, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	h.logger.Debug("calling tool", "tool", name)
	return h.Interceptor.Execute(ctx, tool, args)
}

// SetExtensionEnabled toggles an extension and starts or stops its servers.
func (h *Hub) SetExtensionEnabled(ctx context.Context, name string, enabled bool) error {
	if h.Watcher == nil {
		return errors.New("no extensions directory configured")
	}
	return h.Watcher.SetEnabled(ctx, name, enabled)
}

// Close abandons pending confirmations and disconnects every server.
func (h *Hub) Close() {
	h.Interceptor.CancelAll()
	h.Manager.Stop()
}
