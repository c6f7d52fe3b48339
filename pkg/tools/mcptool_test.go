package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCaller struct {
	result MCPToolCallResult
	err    error

	gotTool string
	gotArgs map[string]any
}

func (m *mockCaller) CallTool(_ context.Context, toolName string, args map[string]any) (MCPToolCallResult, error) {
	m.gotTool = toolName
	m.gotArgs = args
	return m.result, m.err
}

func TestMCPTool_Build(t *testing.T) {
	tool := &MCPTool{ServerName: "gh", ToolName: "create", Schema: map[string]any{
		"type":     "object",
		"required": []any{"title"},
	}}
	assert.Equal(t, "mcp__gh__create", tool.Name())
	assert.Equal(t, SideEffectNetwork, tool.SideEffect())

	_, err := tool.Build(map[string]any{"body": "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	inv, err := tool.Build(map[string]any{"title": "Bug"})
	require.NoError(t, err)
	assert.Equal(t, "create (gh MCP Server)", inv.Describe())
}

func TestMCPInvocation_Execute(t *testing.T) {
	caller := &mockCaller{result: MCPToolCallResult{Content: []MCPContentBlock{
		{Type: "text", Text: "line one"},
		{Type: "image", Data: "xx"},
		{Type: "text", Text: "line two"},
	}}}
	tool := &MCPTool{ServerName: "gh", ToolName: "search", Caller: caller}

	inv, err := tool.Build(map[string]any{"q": "bug"})
	require.NoError(t, err)
	out, err := inv.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", out.Content)
	assert.False(t, out.IsError)
	assert.Equal(t, "search", caller.gotTool, "server sees the bare tool name")
	assert.Equal(t, "bug", caller.gotArgs["q"])
}

func TestMCPInvocation_ExecuteErrors(t *testing.T) {
	inv, err := (&MCPTool{ServerName: "gh", ToolName: "x", Caller: &mockCaller{err: errors.New("broken pipe")}}).Build(nil)
	require.NoError(t, err)
	out, err := inv.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, out.IsError)
	assert.Contains(t, out.Content, "broken pipe")

	inv, err = (&MCPTool{ServerName: "gh", ToolName: "x"}).Build(nil)
	require.NoError(t, err)
	out, err = inv.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, out.IsError)

	inv, err = (&MCPTool{ServerName: "gh", ToolName: "x", Caller: &mockCaller{result: MCPToolCallResult{IsError: true}}}).Build(nil)
	require.NoError(t, err)
	out, err = inv.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, out.IsError)
}

func TestMCPInvocation_ShouldConfirm(t *testing.T) {
	readOnly := true
	ctx := context.Background()

	cases := []struct {
		name    string
		tool    *MCPTool
		confirm bool
	}{
		{"untrusted", &MCPTool{ServerName: "gh", ToolName: "x", Allowlist: NewAllowlist()}, true},
		{"trusted server", &MCPTool{ServerName: "gh", ToolName: "x", Trusted: true}, false},
		{"read-only annotation", &MCPTool{ServerName: "gh", ToolName: "x", ToolAnnotations: &MCPToolAnnotations{ReadOnly: &readOnly}}, false},
		{"nil allowlist", &MCPTool{ServerName: "gh", ToolName: "x"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inv, err := tc.tool.Build(nil)
			require.NoError(t, err)
			details, err := inv.ShouldConfirm(ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.confirm, details != nil)
		})
	}
}

func TestMCPInvocation_OnConfirmAllowlists(t *testing.T) {
	ctx := context.Background()
	allowlist := NewAllowlist()
	search := &MCPTool{ServerName: "gh", ToolName: "search", Allowlist: allowlist}
	create := &MCPTool{ServerName: "gh", ToolName: "create", Allowlist: allowlist}

	inv, _ := search.Build(nil)
	details, err := inv.ShouldConfirm(ctx)
	require.NoError(t, err)
	require.NotNil(t, details)
	assert.Equal(t, "mcp", details.Type)
	assert.Equal(t, "gh", details.ServerName)
	assert.Equal(t, "mcp__gh__search", details.ToolDisplayName)

	details.OnConfirm(OutcomeProceedOnce)
	details, _ = inv.ShouldConfirm(ctx)
	assert.NotNil(t, details, "once does not remember")

	details.OnConfirm(OutcomeProceedAlwaysTool)
	details, _ = inv.ShouldConfirm(ctx)
	assert.Nil(t, details)

	inv, _ = create.Build(nil)
	details, _ = inv.ShouldConfirm(ctx)
	require.NotNil(t, details, "tool choice does not cover siblings")
	details.OnConfirm(OutcomeProceedAlwaysServer)

	other := &MCPTool{ServerName: "gh", ToolName: "delete", Allowlist: allowlist}
	inv, _ = other.Build(nil)
	details, _ = inv.ShouldConfirm(ctx)
	assert.Nil(t, details, "server choice covers every tool of the server")
}

func TestMCPInvocation_ShouldConfirmHonorsContext(t *testing.T) {
	inv, _ := (&MCPTool{ServerName: "gh", ToolName: "x"}).Build(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := inv.ShouldConfirm(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfirmationOutcome_Always(t *testing.T) {
	assert.False(t, OutcomeProceedOnce.Always())
	assert.False(t, OutcomeCancel.Always())
	assert.True(t, OutcomeProceedAlways.Always())
	assert.True(t, OutcomeProceedAlwaysServer.Always())
	assert.True(t, OutcomeProceedAlwaysTool.Always())
	assert.True(t, OutcomeProceedAlwaysSave.Always())
}
