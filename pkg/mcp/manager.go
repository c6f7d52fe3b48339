package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/moqimoqidea/gemini-cli/pkg/extension"
	"github.com/moqimoqidea/gemini-cli/pkg/feedback"
	"github.com/moqimoqidea/gemini-cli/pkg/tools"
	"github.com/moqimoqidea/gemini-cli/pkg/types"
)

// CommandServerName is the name of the server given on the command line.
const CommandServerName = "mcp"

// ErrUnknownServer is returned for operations on a server with no live handle.
var ErrUnknownServer = errors.New("unknown server")

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Servers from settings. Settings win over extensions on name clashes.
	Servers map[string]types.ServerConfig
	// ServerCommand is a whitespace-separated command registered as server "mcp".
	ServerCommand string
	// AllowServers, when non-empty, is the only set of names that may connect.
	AllowServers []string
	// ExcludeServers never connect.
	ExcludeServers []string
	// Extensions known at startup.
	Extensions []*types.Extension

	Tools     *tools.Registry
	Prompts   *tools.PromptRegistry
	Allowlist *tools.Allowlist
	Feedback  feedback.Emitter
	Logger    *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHandleFactory replaces how handles are created.
func WithHandleFactory(f HandleFactory) ManagerOption {
	return func(m *Manager) { m.newHandle = f }
}

type entry struct {
	handle Handle
	config types.ServerConfig
}

type failure struct {
	config types.ServerConfig
	err    error
}

// Manager owns every server handle. It connects and discovers servers,
// keeps the registries in sync with what is live, and tracks whether the
// current discovery batch has completed.
type Manager struct {
	cfg       ManagerConfig
	newHandle HandleFactory
	logger    *slog.Logger
	feedback  feedback.Emitter

	mu         sync.Mutex
	clients    map[string]*entry
	failures   map[string]failure
	extensions map[string]*types.Extension
	blocked    map[string]BlockedServer

	// closing holds detached handles whose Disconnect has not returned.
	closing map[string]chan struct{}

	locks   *keyedLock
	tracker *discoveryTracker
}

// NewManager creates a Manager. Nothing connects until DiscoverAll or DiscoverOne.
func NewManager(cfg ManagerConfig, opts ...ManagerOption) *Manager {
	if cfg.Tools == nil {
		cfg.Tools = tools.NewRegistry()
	}
	if cfg.Prompts == nil {
		cfg.Prompts = tools.NewPromptRegistry()
	}
	if cfg.Allowlist == nil {
		cfg.Allowlist = tools.NewAllowlist()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fb := cfg.Feedback
	if fb == nil {
		fb = feedback.NewLogEmitter(logger)
	}

	m := &Manager{
		cfg:        cfg,
		newHandle:  NewClientFactory(),
		logger:     logger.With("component", "mcp"),
		feedback:   fb,
		clients:    make(map[string]*entry),
		failures:   make(map[string]failure),
		extensions: make(map[string]*types.Extension),
		blocked:    make(map[string]BlockedServer),
		closing:    make(map[string]chan struct{}),
		locks:      newKeyedLock(),
		tracker:    newDiscoveryTracker(),
	}
	for _, ext := range cfg.Extensions {
		m.extensions[ext.Name] = ext
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Tools returns the tool registry the manager registers into.
func (m *Manager) Tools() *tools.Registry { return m.cfg.Tools }

// Prompts returns the prompt registry the manager registers into.
func (m *Manager) Prompts() *tools.PromptRegistry { return m.cfg.Prompts }

// Allowlist returns the shared allowlist handed to every handle.
func (m *Manager) Allowlist() *tools.Allowlist { return m.cfg.Allowlist }

// DiscoveryState reports the state of the current discovery batch.
func (m *Manager) DiscoveryState() DiscoveryState {
	return m.tracker.current()
}

// WaitForDiscovery blocks until the current discovery batch has completed.
func (m *Manager) WaitForDiscovery(ctx context.Context) error {
	return m.tracker.wait(ctx)
}

// DiscoverAll stops every server and discovers the effective server set again.
// Individual failures are reported through feedback, never returned.
func (m *Manager) DiscoverAll(ctx context.Context) {
	token := m.tracker.begin()
	defer m.tracker.end(token)

	servers := m.effectiveServers()
	m.Stop()

	m.logger.Info("discovering servers", "count", len(servers))

	var wg sync.WaitGroup
	for name, cfg := range servers {
		t := m.tracker.begin()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer m.tracker.end(t)
			m.discoverOne(ctx, name, cfg)
		}()
	}
	wg.Wait()
}

// DiscoverOne (re)connects one server and registers what it exposes. Any
// existing handle for name is disconnected first. Failures are reported
// through feedback, never returned.
func (m *Manager) DiscoverOne(ctx context.Context, name string, cfg types.ServerConfig) {
	token := m.tracker.begin()
	defer m.tracker.end(token)
	m.discoverOne(ctx, name, cfg)
}

func (m *Manager) discoverOne(ctx context.Context, name string, cfg types.ServerConfig) {
	if !cfg.Active() {
		return
	}
	if m.isBlocked(name) {
		m.markBlocked(name, cfg)
		m.logger.Debug("server blocked", "server", name)
		return
	}

	h, err := m.replace(ctx, name, cfg)
	if err != nil {
		m.fail(name, cfg, nil, err)
		return
	}

	runCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	if err := h.Connect(runCtx); err != nil {
		m.fail(name, cfg, h, fmt.Errorf("connect: %w", err))
		return
	}
	if err := h.Discover(runCtx, &guardedRegistrar{m: m, name: name, handle: h}); err != nil {
		m.fail(name, cfg, h, fmt.Errorf("discover: %w", err))
		return
	}

	m.mu.Lock()
	current := m.isCurrentLocked(name, h)
	m.mu.Unlock()
	if !current {
		// Superseded by a newer discovery or a stop while we were working.
		_ = h.Disconnect()
		return
	}
	m.logger.Info("server discovered", "server", name, "tools", h.ToolCount())
}

// replace swaps in a fresh handle for name after the old one has fully
// disconnected. The per-name lock makes the swap strict.
func (m *Manager) replace(ctx context.Context, name string, cfg types.ServerConfig) (Handle, error) {
	unlock, err := m.locks.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := m.waitClosed(ctx, name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	old := m.detachLocked(name)
	m.mu.Unlock()

	if old != nil {
		if err := old.Disconnect(); err != nil {
			m.feedback.EmitFeedback(feedback.LevelWarning,
				fmt.Sprintf("Error disconnecting MCP server '%s'", name), err)
		}
	}

	h := m.newHandle(name, cfg, m.cfg.Allowlist)

	m.mu.Lock()
	m.clients[name] = &entry{handle: h, config: cfg}
	delete(m.failures, name)
	m.mu.Unlock()
	return h, nil
}

// fail tears down h if it is still current and records the failure.
func (m *Manager) fail(name string, cfg types.ServerConfig, h Handle, err error) {
	closed := func() {}
	m.mu.Lock()
	current := h == nil || m.isCurrentLocked(name, h)
	if current {
		if h != nil {
			m.detachLocked(name)
			closed = m.markClosingLocked(name)
		}
		m.failures[name] = failure{config: cfg, err: err}
	}
	m.mu.Unlock()

	if h != nil {
		_ = h.Disconnect()
	}
	closed()
	if !current {
		return
	}
	m.logger.Warn("server discovery failed", "server", name, "error", err)
	m.feedback.EmitFeedback(feedback.LevelError,
		fmt.Sprintf("Error connecting to MCP server '%s'", name), err)
}

// Stop disconnects every live server and unregisters their tools and prompts.
// A discovery for a stopped name waits until its old handle has disconnected.
// Safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	live := m.clients
	m.clients = make(map[string]*entry)
	m.failures = make(map[string]failure)
	closed := make(map[string]func(), len(live))
	for name := range live {
		m.unregisterLocked(name)
		closed[name] = m.markClosingLocked(name)
	}
	m.mu.Unlock()

	if len(live) == 0 {
		return
	}

	var wg sync.WaitGroup
	for name, e := range live {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer closed[name]()
			if err := e.handle.Disconnect(); err != nil {
				m.feedback.EmitFeedback(feedback.LevelWarning,
					fmt.Sprintf("Error disconnecting MCP server '%s'", name), err)
			}
		}()
	}
	wg.Wait()
	m.logger.Info("stopped servers", "count", len(live))
}

// markClosingLocked records that name's detached handle is still
// disconnecting. The returned func clears the mark. Caller holds m.mu.
func (m *Manager) markClosingLocked(name string) func() {
	ch := make(chan struct{})
	m.closing[name] = ch
	return func() {
		m.mu.Lock()
		if m.closing[name] == ch {
			delete(m.closing, name)
		}
		m.mu.Unlock()
		close(ch)
	}
}

// waitClosed blocks until no detached handle for name is still disconnecting.
func (m *Manager) waitClosed(ctx context.Context, name string) error {
	for {
		m.mu.Lock()
		ch, ok := m.closing[name]
		m.mu.Unlock()
		if !ok {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// DisconnectServer disconnects one server and removes its tools and prompts.
func (m *Manager) DisconnectServer(ctx context.Context, name string) error {
	unlock, err := m.locks.lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()

	m.mu.Lock()
	delete(m.failures, name)
	h := m.detachLocked(name)
	m.mu.Unlock()

	if h == nil {
		return fmt.Errorf("%w: %q", ErrUnknownServer, name)
	}
	if err := h.Disconnect(); err != nil {
		return fmt.Errorf("disconnect %s: %w", name, err)
	}
	m.logger.Info("server disconnected", "server", name)
	return nil
}

// HandleExtensionEvent starts or stops the servers an extension contributes.
func (m *Manager) HandleExtensionEvent(ctx context.Context, ev extension.Event) {
	ext := ev.Extension
	if ext == nil {
		return
	}

	m.mu.Lock()
	if ev.Type == extension.EventUnloaded {
		delete(m.extensions, ext.Name)
	} else {
		m.extensions[ext.Name] = ext
	}
	m.mu.Unlock()

	servers := m.extensionServers(ext)
	if len(servers) == 0 {
		return
	}

	if ev.Starts() {
		if !ext.IsActive {
			return
		}
		token := m.tracker.begin()
		defer m.tracker.end(token)

		var wg sync.WaitGroup
		for name, cfg := range servers {
			t := m.tracker.begin()
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer m.tracker.end(t)
				m.discoverOne(ctx, name, cfg)
			}()
		}
		wg.Wait()
		return
	}

	for name := range servers {
		if err := m.DisconnectServer(ctx, name); err != nil && !errors.Is(err, ErrUnknownServer) {
			m.feedback.EmitFeedback(feedback.LevelWarning,
				fmt.Sprintf("Error disconnecting MCP server '%s'", name), err)
		}
		m.mu.Lock()
		delete(m.blocked, name)
		m.mu.Unlock()
	}
}

// WatchExtensions applies events until ch is closed or ctx is done.
func (m *Manager) WatchExtensions(ctx context.Context, ch <-chan extension.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.HandleExtensionEvent(ctx, ev)
		}
	}
}

// extensionServers returns the servers of ext that settings do not override.
func (m *Manager) extensionServers(ext *types.Extension) map[string]types.ServerConfig {
	out := make(map[string]types.ServerConfig)
	for name, cfg := range ext.Servers() {
		if _, ok := m.cfg.Servers[name]; ok {
			continue
		}
		out[name] = cfg
	}
	return out
}

// effectiveServers merges settings, active extensions and the command-line
// server, then drops blocked names.
func (m *Manager) effectiveServers() map[string]types.ServerConfig {
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := make(map[string]types.ServerConfig)
	names := make([]string, 0, len(m.extensions))
	for name := range m.extensions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, extName := range names {
		ext := m.extensions[extName]
		if !ext.IsActive {
			continue
		}
		for name, cfg := range ext.Servers() {
			if _, taken := merged[name]; !taken {
				merged[name] = cfg
			}
		}
	}
	for name, cfg := range m.cfg.Servers {
		merged[name] = cfg
	}
	if fields := strings.Fields(m.cfg.ServerCommand); len(fields) > 0 {
		merged[CommandServerName] = types.ServerConfig{
			Command: fields[0],
			Args:    fields[1:],
		}
	}

	m.blocked = make(map[string]BlockedServer)
	for name, cfg := range merged {
		if m.isBlocked(name) {
			m.blocked[name] = blockedFrom(name, cfg)
			delete(merged, name)
		}
	}
	return merged
}

func (m *Manager) isBlocked(name string) bool {
	for _, ex := range m.cfg.ExcludeServers {
		if ex == name {
			return true
		}
	}
	if len(m.cfg.AllowServers) == 0 {
		return false
	}
	for _, allowed := range m.cfg.AllowServers {
		if allowed == name {
			return false
		}
	}
	return true
}

func (m *Manager) markBlocked(name string, cfg types.ServerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked[name] = blockedFrom(name, cfg)
}

func blockedFrom(name string, cfg types.ServerConfig) BlockedServer {
	b := BlockedServer{Name: name}
	if cfg.Extension != nil {
		b.Extension = cfg.Extension.Name
	}
	return b
}

// detachLocked removes name's handle and registrations. Caller holds m.mu.
func (m *Manager) detachLocked(name string) Handle {
	e, ok := m.clients[name]
	if !ok {
		return nil
	}
	delete(m.clients, name)
	m.unregisterLocked(name)
	return e.handle
}

func (m *Manager) unregisterLocked(name string) {
	m.cfg.Tools.RemoveServerTools(name)
	m.cfg.Prompts.RemoveServerPrompts(name)
}

func (m *Manager) isCurrentLocked(name string, h Handle) bool {
	e, ok := m.clients[name]
	return ok && e.handle == h
}

// Client returns the live handle for name.
func (m *Manager) Client(name string) (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.clients[name]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// BlockedServers lists servers left out by the allow and exclude lists.
func (m *Manager) BlockedServers() []BlockedServer {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]BlockedServer, 0, len(m.blocked))
	for _, b := range m.blocked {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Status returns every known server sorted by name: live handles, failures
// and blocked servers.
func (m *Manager) Status() []ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ServerStatus, 0, len(m.clients)+len(m.failures)+len(m.blocked))
	for name, e := range m.clients {
		out = append(out, ServerStatus{
			Name:      name,
			Status:    e.handle.Status(),
			Extension: extensionName(e.config),
			Tools:     e.handle.ToolCount(),
		})
	}
	for name, f := range m.failures {
		if _, live := m.clients[name]; live {
			continue
		}
		out = append(out, ServerStatus{
			Name:      name,
			Status:    StatusFailed,
			Extension: extensionName(f.config),
			Error:     f.err.Error(),
		})
	}
	for name, b := range m.blocked {
		out = append(out, ServerStatus{Name: name, Status: StatusBlocked, Extension: b.Extension})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ServerStatus returns the status of one server.
func (m *Manager) ServerStatus(name string) (ServerStatus, error) {
	for _, s := range m.Status() {
		if s.Name == name {
			return s, nil
		}
	}
	return ServerStatus{}, fmt.Errorf("%w: %q", ErrUnknownServer, name)
}

func extensionName(cfg types.ServerConfig) string {
	if cfg.Extension == nil {
		return ""
	}
	return cfg.Extension.Name
}

// guardedRegistrar only registers while its handle is still the live one.
type guardedRegistrar struct {
	m      *Manager
	name   string
	handle Handle
}

func (g *guardedRegistrar) RegisterServerTools(serverName string, discovered []tools.Tool) {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	if g.m.isCurrentLocked(g.name, g.handle) {
		g.m.cfg.Tools.RegisterServerTools(serverName, discovered)
	}
}

func (g *guardedRegistrar) RegisterServerPrompts(serverName string, prompts []*tools.Prompt) {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	if g.m.isCurrentLocked(g.name, g.handle) {
		g.m.cfg.Prompts.RegisterServerPrompts(serverName, prompts)
	}
}
