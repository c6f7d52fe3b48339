package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/moqimoqidea/gemini-cli/pkg/bus"
)

// ConfirmationBridge connects one remote front-end to the message bus.
// Confirmation requests, policy rejections and execution results go out as
// frames; confirmation_response frames come back in as bus responses.
type ConfirmationBridge struct {
	bus       *bus.MessageBus
	transport Transport
	onClose   func()
	logger    *slog.Logger
}

// BridgeOption configures a ConfirmationBridge.
type BridgeOption func(*ConfirmationBridge)

// WithOnClose runs fn after the front-end disconnects, e.g. to cancel
// confirmations nobody can answer anymore.
func WithOnClose(fn func()) BridgeOption {
	return func(b *ConfirmationBridge) { b.onClose = fn }
}

// WithBridgeLogger sets the logger.
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *ConfirmationBridge) { b.logger = l }
}

// NewConfirmationBridge creates a bridge over t. Nothing is subscribed until
// Run is called.
func NewConfirmationBridge(b *bus.MessageBus, t Transport, opts ...BridgeOption) *ConfirmationBridge {
	br := &ConfirmationBridge{
		bus:       b,
		transport: t,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(br)
	}
	br.logger = br.logger.With("component", "bridge")
	return br
}

// Run forwards traffic until the front-end closes its side or ctx is done.
// The transport is closed on return.
func (br *ConfirmationBridge) Run(ctx context.Context) error {
	subs := []*bus.Subscription{
		br.bus.Subscribe(bus.TypeConfirmationRequest, br.forward),
		br.bus.Subscribe(bus.TypePolicyRejection, br.forward),
		br.bus.Subscribe(bus.TypeExecutionSuccess, br.forward),
		br.bus.Subscribe(bus.TypeExecutionFailure, br.forward),
	}
	defer func() {
		for _, s := range subs {
			br.bus.Unsubscribe(s)
		}
		br.transport.Close()
		if br.onClose != nil {
			br.onClose()
		}
	}()

	frames := br.transport.ReadFrames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				br.logger.Debug("front-end disconnected")
				return nil
			}
			br.handle(f)
		}
	}
}

func (br *ConfirmationBridge) handle(f Frame) {
	switch f.Type {
	case FrameError:
		br.logger.Warn("bad frame from front-end", "error", f.Err)
	case FrameConfirmationResponse:
		var answer ConfirmationAnswer
		if err := f.Decode(&answer); err != nil {
			br.logger.Warn("bad confirmation response", "correlation_id", f.CorrelationID, "error", err)
			return
		}
		resp := bus.ConfirmationResponse{
			CorrelationID: f.CorrelationID,
			Confirmed:     answer.Confirmed,
			Outcome:       answer.Outcome,
		}
		if err := br.bus.Publish(resp); err != nil {
			br.logger.Warn("confirmation response dropped", "correlation_id", f.CorrelationID, "error", err)
		}
	default:
		br.logger.Warn("unexpected frame type", "type", f.Type)
	}
}

func (br *ConfirmationBridge) forward(msg bus.Message) {
	f, err := encode(msg)
	if err != nil {
		br.logger.Error("encode frame", "type", msg.Type(), "error", err)
		return
	}
	if err := br.transport.Write(f); err != nil {
		br.logger.Warn("write frame", "type", f.Type, "error", err)
	}
}

func encode(msg bus.Message) (Frame, error) {
	switch m := msg.(type) {
	case bus.ConfirmationRequest:
		return NewFrame(FrameConfirmationRequest, m.CorrelationID, ConfirmationPrompt{
			ToolName: m.ToolName,
			Args:     m.Args,
			Details:  m.Details,
		})
	case bus.PolicyRejection:
		return NewFrame(FramePolicyRejection, m.CorrelationID, Rejection{
			ToolName: m.ToolName,
			Reason:   m.Reason,
		})
	case bus.ExecutionSuccess:
		return NewFrame(FrameExecutionResult, m.CorrelationID, ExecutionResult{
			ToolName: m.ToolName,
			Success:  !m.Output.IsError,
			Output:   m.Output.Content,
		})
	case bus.ExecutionFailure:
		res := ExecutionResult{ToolName: m.ToolName}
		if m.Err != nil {
			res.Error = m.Err.Error()
		}
		return NewFrame(FrameExecutionResult, m.CorrelationID, res)
	default:
		return Frame{}, fmt.Errorf("no frame for %s", msg.Type())
	}
}
