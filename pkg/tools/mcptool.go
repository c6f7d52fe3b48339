package tools

import (
	"context"
	"fmt"
	"strings"
)

// MCPContentBlock is a single content item returned by an MCP tool call.
type MCPContentBlock struct {
	Type     string
	Text     string
	MimeType string
	Data     string
	URI      string
}

// MCPToolCallResult is the server's answer to a tool call.
type MCPToolCallResult struct {
	Content []MCPContentBlock
	IsError bool
}

// MCPCaller forwards a tool call to the server that exposes the tool.
type MCPCaller interface {
	CallTool(ctx context.Context, toolName string, args map[string]any) (MCPToolCallResult, error)
}

// MCPToolAnnotations provides metadata about a tool's behavior (from MCP server).
type MCPToolAnnotations struct {
	ReadOnly    *bool `json:"readOnly,omitempty"`
	Destructive *bool `json:"destructive,omitempty"`
	OpenWorld   *bool `json:"openWorld,omitempty"`
}

// QualifiedName is the registry key of a server tool.
func QualifiedName(serverName, toolName string) string {
	return fmt.Sprintf("mcp__%s__%s", serverName, toolName)
}

// MCPTool represents a single tool exposed by an MCP server.
type MCPTool struct {
	ServerName      string
	ToolName        string
	Desc            string
	Schema          map[string]any
	Caller          MCPCaller
	Trusted         bool       // server is trusted; never confirm
	Allowlist       *Allowlist // shared "always allow" choices
	ToolAnnotations *MCPToolAnnotations
}

func (m *MCPTool) Name() string { return QualifiedName(m.ServerName, m.ToolName) }

func (m *MCPTool) Description() string { return m.Desc }

func (m *MCPTool) InputSchema() map[string]any {
	if m.Schema != nil {
		return m.Schema
	}
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (m *MCPTool) SideEffect() SideEffectType { return SideEffectNetwork }

// Build validates required arguments against the schema and returns an invocation.
func (m *MCPTool) Build(input map[string]any) (Invocation, error) {
	if input == nil {
		input = map[string]any{}
	}
	if required, ok := m.InputSchema()["required"].([]any); ok {
		for _, r := range required {
			key, _ := r.(string)
			if _, present := input[key]; key != "" && !present {
				return nil, fmt.Errorf("%w: %s requires %q", ErrInvalidInput, m.Name(), key)
			}
		}
	}
	return &MCPInvocation{tool: m, args: input}, nil
}

// MCPInvocation is one call of an MCPTool.
type MCPInvocation struct {
	tool *MCPTool
	args map[string]any
}

func (inv *MCPInvocation) Describe() string {
	return fmt.Sprintf("%s (%s MCP Server)", inv.tool.ToolName, inv.tool.ServerName)
}

// ShouldConfirm asks for confirmation unless the server is trusted, the server or
// tool has been allowlisted, or the server annotates the tool as read-only.
func (inv *MCPInvocation) ShouldConfirm(ctx context.Context) (*ConfirmationDetails, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := inv.tool
	if t.Trusted || t.Allowlist.Has(t.ServerName) || t.Allowlist.Has(t.Name()) {
		return nil, nil
	}
	if a := t.ToolAnnotations; a != nil && a.ReadOnly != nil && *a.ReadOnly {
		return nil, nil
	}

	return &ConfirmationDetails{
		Type:            "mcp",
		Title:           "Confirm MCP Tool Execution",
		ServerName:      t.ServerName,
		ToolName:        t.ToolName,
		ToolDisplayName: t.Name(),
		Summary:         inv.Describe(),
		OnConfirm: func(outcome ConfirmationOutcome) {
			if t.Allowlist == nil {
				return
			}
			switch outcome {
			case OutcomeProceedAlwaysServer:
				t.Allowlist.Add(t.ServerName)
			case OutcomeProceedAlwaysTool, OutcomeProceedAlways, OutcomeProceedAlwaysSave:
				t.Allowlist.Add(t.Name())
			}
		},
	}, nil
}

func (inv *MCPInvocation) Execute(ctx context.Context) (ToolOutput, error) {
	if inv.tool.Caller == nil {
		return ToolOutput{Content: "Error: server not connected", IsError: true}, nil
	}

	result, err := inv.tool.Caller.CallTool(ctx, inv.tool.ToolName, inv.args)
	if err != nil {
		return ToolOutput{
			Content: fmt.Sprintf("Error: %s", err),
			IsError: true,
		}, nil
	}

	// Concatenate text content blocks
	var b strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" && block.Text != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(block.Text)
		}
	}

	return ToolOutput{
		Content: b.String(),
		IsError: result.IsError,
	}, nil
}
