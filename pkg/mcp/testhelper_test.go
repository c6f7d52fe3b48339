package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/moqimoqidea/gemini-cli/pkg/tools"
	"github.com/moqimoqidea/gemini-cli/pkg/types"
)

// mockTransport implements Transport with pre-programmed responses.
type mockTransport struct {
	mu        sync.Mutex
	responses map[string][]json.RawMessage // method → results, served in order
	closed    bool
	closes    int
	notified  []string
	requests  []JSONRPCRequest

	// onCall, when set, runs before every Send and Notify.
	onCall func(method string)
}

func newMockTransport() *mockTransport {
	return &mockTransport{responses: make(map[string][]json.RawMessage)}
}

func (m *mockTransport) withInitialize(caps ServerCapabilities) *mockTransport {
	return m.withResult(MethodInitialize, InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    caps,
		ServerInfo:      ServerInfo{Name: "mock-server", Version: "1.0"},
	})
}

func (m *mockTransport) withTools(infos ...ToolInfo) *mockTransport {
	return m.withResult(MethodToolsList, ToolsListResult{Tools: infos})
}

func (m *mockTransport) withPrompts(infos ...PromptInfo) *mockTransport {
	return m.withResult(MethodPromptsList, PromptsListResult{Prompts: infos})
}

// withResult appends one result for method. Repeated calls queue pages.
func (m *mockTransport) withResult(method string, result any) *mockTransport {
	data, _ := json.Marshal(result)
	m.responses[method] = append(m.responses[method], data)
	return m
}

func (m *mockTransport) Send(_ context.Context, req JSONRPCRequest) (JSONRPCResponse, error) {
	if m.onCall != nil {
		m.onCall(req.Method)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return JSONRPCResponse{}, errors.New("transport closed")
	}
	m.requests = append(m.requests, req)

	queue := m.responses[req.Method]
	if len(queue) == 0 {
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      *req.ID,
			Error:   &JSONRPCError{Code: -32601, Message: "Method not found: " + req.Method},
		}, nil
	}
	result := queue[0]
	if len(queue) > 1 {
		m.responses[req.Method] = queue[1:]
	}
	return JSONRPCResponse{JSONRPC: "2.0", ID: *req.ID, Result: result}, nil
}

func (m *mockTransport) Notify(_ context.Context, method string, _ any) error {
	if m.onCall != nil {
		m.onCall(method)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("transport closed")
	}
	m.notified = append(m.notified, method)
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closes++
	return nil
}

func (m *mockTransport) sent(method string) []JSONRPCRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []JSONRPCRequest
	for _, r := range m.requests {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

func dialMock(mock *mockTransport) ClientOption {
	return WithDialer(func(context.Context, types.ServerConfig) (Transport, error) {
		return mock, nil
	})
}

// behaviour scripts how a fake server reacts.
type behaviour struct {
	tools       []string
	connectErr  error
	discoverErr error

	// gate, when set, blocks Connect until it is closed or ctx is done.
	gate chan struct{}

	// disconnectGate, when set, blocks Disconnect until it is closed.
	disconnectGate chan struct{}
}

// fakeServers is a HandleFactory that records every handle it creates and how
// many handles per name were alive at once.
type fakeServers struct {
	mu        sync.Mutex
	behaviour map[string]behaviour
	created   map[string][]*fakeHandle
	live      map[string]int
	maxLive   map[string]int
}

func newFakeServers() *fakeServers {
	return &fakeServers{
		behaviour: make(map[string]behaviour),
		created:   make(map[string][]*fakeHandle),
		live:      make(map[string]int),
		maxLive:   make(map[string]int),
	}
}

func (f *fakeServers) set(name string, b behaviour) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.behaviour[name] = b
}

func (f *fakeServers) factory(name string, config types.ServerConfig, allowlist *tools.Allowlist) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()

	h := &fakeHandle{
		name:      name,
		config:    config,
		allowlist: allowlist,
		b:         f.behaviour[name],
		servers:   f,
		status:    StatusDisconnected,
	}
	f.created[name] = append(f.created[name], h)
	f.live[name]++
	if f.live[name] > f.maxLive[name] {
		f.maxLive[name] = f.live[name]
	}
	return h
}

func (f *fakeServers) handles(name string) []*fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeHandle(nil), f.created[name]...)
}

func (f *fakeServers) peak(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxLive[name]
}

type fakeHandle struct {
	name      string
	config    types.ServerConfig
	allowlist *tools.Allowlist
	b         behaviour
	servers   *fakeServers

	mu          sync.Mutex
	status      ConnectionStatus
	toolCount   int
	disconnects int
}

func (h *fakeHandle) Name() string { return h.name }

func (h *fakeHandle) Connect(ctx context.Context) error {
	h.setStatus(StatusConnecting)
	if h.b.gate != nil {
		select {
		case <-h.b.gate:
		case <-ctx.Done():
			h.setStatus(StatusFailed)
			return ctx.Err()
		}
	}
	if h.b.connectErr != nil {
		h.setStatus(StatusFailed)
		return h.b.connectErr
	}
	h.setStatus(StatusConnected)
	return nil
}

func (h *fakeHandle) Discover(_ context.Context, reg Registrar) error {
	if h.b.discoverErr != nil {
		return h.b.discoverErr
	}
	var ts []tools.Tool
	for _, name := range h.b.tools {
		ts = append(ts, &tools.MCPTool{ServerName: h.name, ToolName: name, Allowlist: h.allowlist})
	}
	reg.RegisterServerTools(h.name, ts)
	reg.RegisterServerPrompts(h.name, nil)

	h.mu.Lock()
	h.toolCount = len(ts)
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) Disconnect() error {
	if h.b.disconnectGate != nil {
		<-h.b.disconnectGate
	}

	h.mu.Lock()
	h.disconnects++
	first := h.disconnects == 1
	h.status = StatusDisconnected
	h.mu.Unlock()

	if first {
		h.servers.mu.Lock()
		h.servers.live[h.name]--
		h.servers.mu.Unlock()
	}
	return nil
}

func (h *fakeHandle) Status() ConnectionStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *fakeHandle) ToolCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.toolCount
}

func (h *fakeHandle) disconnectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnects
}

func (h *fakeHandle) setStatus(s ConnectionStatus) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}
