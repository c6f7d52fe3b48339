package transport

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moqimoqidea/gemini-cli/pkg/bus"
	"github.com/moqimoqidea/gemini-cli/pkg/confirm"
	"github.com/moqimoqidea/gemini-cli/pkg/policy"
	"github.com/moqimoqidea/gemini-cli/pkg/tools"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type echoCaller struct{}

func (echoCaller) CallTool(_ context.Context, toolName string, _ map[string]any) (tools.MCPToolCallResult, error) {
	return tools.MCPToolCallResult{Content: []tools.MCPContentBlock{{Type: "text", Text: "ran " + toolName}}}, nil
}

type harness struct {
	bus         *bus.MessageBus
	interceptor *confirm.Interceptor
	front       *ChannelTransport
	closed      atomic.Int32
	done        chan error
	cancel      context.CancelFunc
}

func startBridge(t *testing.T, opts ...bus.Option) *harness {
	t.Helper()
	h := &harness{
		bus:   bus.New(append([]bus.Option{bus.WithLogger(quiet)}, opts...)...),
		front: NewChannelTransport(16),
		done:  make(chan error, 1),
	}
	h.interceptor = confirm.New(h.bus, confirm.WithLogger(quiet))

	br := NewConfirmationBridge(h.bus, h.front,
		WithBridgeLogger(quiet),
		WithOnClose(func() {
			h.closed.Add(1)
			h.interceptor.CancelAll()
		}))

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)
	go func() { h.done <- br.Run(ctx) }()

	require.Eventually(t, func() bool {
		return h.bus.SubscriberCount(bus.TypeConfirmationRequest) == 1
	}, time.Second, time.Millisecond)
	return h
}

func (h *harness) execute(tool tools.Tool) <-chan error {
	errc := make(chan error, 1)
	go func() {
		_, err := h.interceptor.Execute(context.Background(), tool, map[string]any{"path": "/tmp/x"})
		errc <- err
	}()
	return errc
}

func receive(t *testing.T, tr *ChannelTransport) Frame {
	t.Helper()
	select {
	case f := <-tr.Output():
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for outbound frame")
		return Frame{}
	}
}

func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for execution")
		return nil
	}
}

func answer(t *testing.T, tr *ChannelTransport, id string, confirmed bool, outcome tools.ConfirmationOutcome) {
	t.Helper()
	f, err := NewFrame(FrameConfirmationResponse, id, ConfirmationAnswer{Confirmed: confirmed, Outcome: outcome})
	require.NoError(t, err)
	require.NoError(t, tr.Send(f))
}

func TestBridge_ConfirmAndExecute(t *testing.T) {
	h := startBridge(t)
	tool := &tools.MCPTool{ServerName: "fs", ToolName: "write", Caller: echoCaller{}}

	errc := h.execute(tool)

	req := receive(t, h.front)
	require.Equal(t, FrameConfirmationRequest, req.Type)
	require.NotEmpty(t, req.CorrelationID)
	var prompt ConfirmationPrompt
	require.NoError(t, req.Decode(&prompt))
	assert.Equal(t, "mcp__fs__write", prompt.ToolName)
	assert.Equal(t, "/tmp/x", prompt.Args["path"])
	require.NotNil(t, prompt.Details)
	assert.Equal(t, "fs", prompt.Details.ServerName)

	answer(t, h.front, req.CorrelationID, true, tools.OutcomeProceedOnce)
	require.NoError(t, waitErr(t, errc))

	res := receive(t, h.front)
	assert.Equal(t, FrameExecutionResult, res.Type)
	assert.Equal(t, req.CorrelationID, res.CorrelationID)
	var out ExecutionResult
	require.NoError(t, res.Decode(&out))
	assert.True(t, out.Success)
	assert.Equal(t, "ran write", out.Output)
}

func TestBridge_Denied(t *testing.T) {
	h := startBridge(t)
	tool := &tools.MCPTool{ServerName: "fs", ToolName: "rm", Caller: echoCaller{}}

	errc := h.execute(tool)
	req := receive(t, h.front)
	answer(t, h.front, req.CorrelationID, false, tools.OutcomeCancel)

	assert.ErrorIs(t, waitErr(t, errc), confirm.ErrDenied)

	res := receive(t, h.front)
	var out ExecutionResult
	require.NoError(t, res.Decode(&out))
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Error)
}

func TestBridge_PolicyRejectionForwarded(t *testing.T) {
	engine := policy.NewEngine(
		policy.WithRules(policy.Rule{Tool: "mcp__fs__rm", Decision: policy.Deny}),
		policy.WithLogger(quiet))
	h := startBridge(t, bus.WithPolicy(engine))

	errc := h.execute(&tools.MCPTool{ServerName: "fs", ToolName: "rm", Caller: echoCaller{}})
	assert.ErrorIs(t, waitErr(t, errc), confirm.ErrDenied)

	rej := receive(t, h.front)
	require.Equal(t, FramePolicyRejection, rej.Type)
	var body Rejection
	require.NoError(t, rej.Decode(&body))
	assert.Equal(t, "mcp__fs__rm", body.ToolName)

	assert.Equal(t, FrameExecutionResult, receive(t, h.front).Type)
}

func TestBridge_UnknownAndBadFramesIgnored(t *testing.T) {
	h := startBridge(t)

	require.NoError(t, h.front.Send(Frame{Type: FrameError}))
	require.NoError(t, h.front.Send(Frame{Type: "bogus"}))
	require.NoError(t, h.front.Send(Frame{Type: FrameConfirmationResponse, CorrelationID: "x"}))

	errc := h.execute(&tools.MCPTool{ServerName: "fs", ToolName: "write", Caller: echoCaller{}})
	req := receive(t, h.front)
	answer(t, h.front, req.CorrelationID, true, "")
	assert.NoError(t, waitErr(t, errc))
}

func TestBridge_DisconnectCancelsPending(t *testing.T) {
	h := startBridge(t)

	errc := h.execute(&tools.MCPTool{ServerName: "fs", ToolName: "write", Caller: echoCaller{}})
	receive(t, h.front)

	h.front.EndInput()

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
	}
	assert.ErrorIs(t, waitErr(t, errc), confirm.ErrCancelled)
	assert.EqualValues(t, 1, h.closed.Load())
	assert.False(t, h.front.IsReady())
	for _, typ := range []bus.MessageType{
		bus.TypeConfirmationRequest,
		bus.TypePolicyRejection,
		bus.TypeExecutionSuccess,
		bus.TypeExecutionFailure,
	} {
		assert.Zero(t, h.bus.SubscriberCount(typ), typ)
	}
}

func TestBridge_ContextCancel(t *testing.T) {
	h := startBridge(t)
	h.cancel()

	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
	}
	assert.EqualValues(t, 1, h.closed.Load())
}
