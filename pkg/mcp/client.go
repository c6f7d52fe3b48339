package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/moqimoqidea/gemini-cli/pkg/tools"
	"github.com/moqimoqidea/gemini-cli/pkg/types"
)

// ClientVersion is reported to servers in the initialize handshake.
const ClientVersion = "0.1.0"

var (
	// ErrNotConnected is returned for calls on a handle without a live transport.
	ErrNotConnected = errors.New("not connected")
	// ErrNoCapabilities is returned when a server exposes neither tools nor prompts.
	ErrNoCapabilities = errors.New("no tools or prompts found on the server")
)

// Client is the MCP implementation of Handle. It also forwards tool calls and
// prompt renders for the tools and prompts it registers.
type Client struct {
	name      string
	config    types.ServerConfig
	allowlist *tools.Allowlist
	dial      DialFunc

	mu        sync.Mutex
	status    ConnectionStatus
	transport Transport
	info      *ServerInfo
	caps      ServerCapabilities
	toolCount int
	closed    bool // Disconnect was called; refuse late connects

	nextID atomic.Int32
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDialer overrides how the transport is opened.
func WithDialer(dial DialFunc) ClientOption {
	return func(c *Client) { c.dial = dial }
}

// NewClient creates a disconnected client for one server.
func NewClient(name string, config types.ServerConfig, allowlist *tools.Allowlist, opts ...ClientOption) *Client {
	c := &Client{
		name:      name,
		config:    config,
		allowlist: allowlist,
		dial:      Dial,
		status:    StatusDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFactory returns a HandleFactory producing Clients with the given options.
func NewClientFactory(opts ...ClientOption) HandleFactory {
	return func(name string, config types.ServerConfig, allowlist *tools.Allowlist) Handle {
		return NewClient(name, config, allowlist, opts...)
	}
}

func (c *Client) Name() string { return c.name }

func (c *Client) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) ToolCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.toolCount
}

// ServerInfo returns what the server reported in the handshake, or nil.
func (c *Client) ServerInfo() *ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Connect opens the transport and runs the initialize handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.status = StatusConnecting
	c.mu.Unlock()

	transport, err := c.dial(ctx, c.config)
	if err != nil {
		c.markFailed()
		return fmt.Errorf("create transport: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		transport.Close()
		return ErrNotConnected
	}
	c.transport = transport
	c.mu.Unlock()

	if err := c.handshake(ctx, transport); err != nil {
		c.mu.Lock()
		if c.transport == transport {
			c.transport = nil
		}
		if !c.closed {
			c.status = StatusFailed
		}
		c.mu.Unlock()
		transport.Close()
		return err
	}
	return nil
}

// markFailed records a failed connect unless Disconnect got there first.
func (c *Client) markFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.status = StatusFailed
	}
}

func (c *Client) handshake(ctx context.Context, transport Transport) error {
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ClientCapabilities{},
		ClientInfo:      ServerInfo{Name: "gemini-cli-mcp-client", Version: ClientVersion},
	}
	resp, err := transport.Send(ctx, newRequest(c.nextRequestID(), MethodInitialize, params))
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	var result InitializeResult
	if err := decodeResult(resp, &result); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := transport.Notify(ctx, MethodInitialized, nil); err != nil {
		return fmt.Errorf("send initialized: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	c.info = &result.ServerInfo
	c.caps = result.Capabilities
	c.status = StatusConnected
	return nil
}

// Discover lists tools and prompts and hands them to reg.
func (c *Client) Discover(ctx context.Context, reg Registrar) error {
	c.mu.Lock()
	transport, caps := c.transport, c.caps
	c.mu.Unlock()
	if transport == nil {
		return ErrNotConnected
	}

	var discovered []tools.Tool
	if caps.Tools != nil {
		infos, err := c.listTools(ctx, transport)
		if err != nil {
			return fmt.Errorf("list tools: %w", err)
		}
		for _, info := range infos {
			if !c.toolEnabled(info.Name) {
				continue
			}
			discovered = append(discovered, c.newTool(info))
		}
	}

	var prompts []*tools.Prompt
	if caps.Prompts != nil {
		infos, err := c.listPrompts(ctx, transport)
		if err != nil {
			return fmt.Errorf("list prompts: %w", err)
		}
		for _, info := range infos {
			prompts = append(prompts, c.newPrompt(info))
		}
	}

	if len(discovered) == 0 && len(prompts) == 0 {
		return ErrNoCapabilities
	}

	reg.RegisterServerTools(c.name, discovered)
	reg.RegisterServerPrompts(c.name, prompts)

	c.mu.Lock()
	c.toolCount = len(discovered)
	c.mu.Unlock()
	return nil
}

// Disconnect closes the transport. Calling it more than once is fine.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	transport := c.transport
	c.transport = nil
	c.closed = true
	c.status = StatusDisconnected
	c.toolCount = 0
	c.mu.Unlock()

	if transport == nil {
		return nil
	}
	return transport.Close()
}

// CallTool implements tools.MCPCaller.
func (c *Client) CallTool(ctx context.Context, toolName string, args map[string]any) (tools.MCPToolCallResult, error) {
	transport, err := c.liveTransport()
	if err != nil {
		return tools.MCPToolCallResult{}, err
	}

	resp, err := transport.Send(ctx, newRequest(c.nextRequestID(), MethodToolsCall, ToolCallParams{
		Name:      toolName,
		Arguments: args,
	}))
	if err != nil {
		return tools.MCPToolCallResult{}, err
	}
	var result ToolResult
	if err := decodeResult(resp, &result); err != nil {
		return tools.MCPToolCallResult{}, err
	}

	blocks := make([]tools.MCPContentBlock, len(result.Content))
	for i, cb := range result.Content {
		blocks[i] = tools.MCPContentBlock{
			Type:     cb.Type,
			Text:     cb.Text,
			MimeType: cb.MimeType,
			Data:     cb.Data,
			URI:      cb.URI,
		}
	}
	return tools.MCPToolCallResult{Content: blocks, IsError: result.IsError}, nil
}

// GetPrompt implements tools.PromptGetter.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) ([]tools.PromptMessage, error) {
	transport, err := c.liveTransport()
	if err != nil {
		return nil, err
	}

	resp, err := transport.Send(ctx, newRequest(c.nextRequestID(), MethodPromptsGet, PromptGetParams{
		Name:      name,
		Arguments: args,
	}))
	if err != nil {
		return nil, err
	}
	var result PromptGetResult
	if err := decodeResult(resp, &result); err != nil {
		return nil, err
	}

	msgs := make([]tools.PromptMessage, 0, len(result.Messages))
	for _, m := range result.Messages {
		msgs = append(msgs, tools.PromptMessage{Role: m.Role, Text: m.Content.Text})
	}
	return msgs, nil
}

func (c *Client) liveTransport() (Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return nil, fmt.Errorf("%s: %w", c.name, ErrNotConnected)
	}
	return c.transport, nil
}

func (c *Client) listTools(ctx context.Context, transport Transport) ([]ToolInfo, error) {
	var all []ToolInfo
	cursor := ""
	for {
		resp, err := transport.Send(ctx, newRequest(c.nextRequestID(), MethodToolsList, listParams{Cursor: cursor}))
		if err != nil {
			return nil, err
		}
		var page ToolsListResult
		if err := decodeResult(resp, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Tools...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

func (c *Client) listPrompts(ctx context.Context, transport Transport) ([]PromptInfo, error) {
	var all []PromptInfo
	cursor := ""
	for {
		resp, err := transport.Send(ctx, newRequest(c.nextRequestID(), MethodPromptsList, listParams{Cursor: cursor}))
		if err != nil {
			return nil, err
		}
		var page PromptsListResult
		if err := decodeResult(resp, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Prompts...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// toolEnabled applies the server's include/exclude glob lists; exclude wins.
func (c *Client) toolEnabled(name string) bool {
	for _, pattern := range c.config.ExcludeTools {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return false
		}
	}
	if len(c.config.IncludeTools) == 0 {
		return true
	}
	for _, pattern := range c.config.IncludeTools {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func (c *Client) newTool(info ToolInfo) *tools.MCPTool {
	var schema map[string]any
	if len(info.InputSchema) > 0 {
		_ = json.Unmarshal(info.InputSchema, &schema)
	}
	var ann *tools.MCPToolAnnotations
	if a := info.Annotations; a != nil {
		ann = &tools.MCPToolAnnotations{
			ReadOnly:    a.ReadOnlyHint,
			Destructive: a.DestructiveHint,
			OpenWorld:   a.OpenWorldHint,
		}
	}
	return &tools.MCPTool{
		ServerName:      c.name,
		ToolName:        info.Name,
		Desc:            info.Description,
		Schema:          schema,
		Caller:          c,
		Trusted:         c.config.Trust,
		Allowlist:       c.allowlist,
		ToolAnnotations: ann,
	}
}

func (c *Client) newPrompt(info PromptInfo) *tools.Prompt {
	args := make([]tools.PromptArgument, len(info.Arguments))
	for i, a := range info.Arguments {
		args[i] = tools.PromptArgument{Name: a.Name, Description: a.Description, Required: a.Required}
	}
	return &tools.Prompt{
		ServerName:  c.name,
		Name:        info.Name,
		Description: info.Description,
		Arguments:   args,
		Getter:      c,
	}
}

func (c *Client) nextRequestID() int {
	return int(c.nextID.Add(1))
}
