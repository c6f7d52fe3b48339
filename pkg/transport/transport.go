package transport

import (
	"encoding/json"
	"errors"

	"github.com/moqimoqidea/gemini-cli/pkg/tools"
)

// ErrTransportClosed is returned when writing to a closed transport.
var ErrTransportClosed = errors.New("transport closed")

// FrameType discriminates frames exchanged with a confirmation front-end.
type FrameType string

const (
	// Outbound, toward the front-end.
	FrameConfirmationRequest FrameType = "confirmation_request"
	FramePolicyRejection     FrameType = "policy_rejection"
	FrameExecutionResult     FrameType = "execution_result"

	// Inbound, from the front-end.
	FrameConfirmationResponse FrameType = "confirmation_response"

	// FrameError is synthesized locally for read or decode failures; it never
	// crosses the wire.
	FrameError FrameType = "error"
)

// Frame is one JSON message on the wire.
type Frame struct {
	Type          FrameType       `json:"type"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`

	Err error `json:"-"`
}

// ConfirmationPrompt is the payload of a confirmation_request frame.
type ConfirmationPrompt struct {
	ToolName string                     `json:"toolName"`
	Args     map[string]any             `json:"args,omitempty"`
	Details  *tools.ConfirmationDetails `json:"details,omitempty"`
}

// ConfirmationAnswer is the payload of a confirmation_response frame.
type ConfirmationAnswer struct {
	Confirmed bool                      `json:"confirmed"`
	Outcome   tools.ConfirmationOutcome `json:"outcome,omitempty"`
}

// Rejection is the payload of a policy_rejection frame.
type Rejection struct {
	ToolName string `json:"toolName"`
	Reason   string `json:"reason,omitempty"`
}

// ExecutionResult is the payload of an execution_result frame.
type ExecutionResult struct {
	ToolName string `json:"toolName"`
	Success  bool   `json:"success"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewFrame encodes payload into a frame of the given type.
func NewFrame(typ FrameType, correlationID string, payload any) (Frame, error) {
	f := Frame{Type: typ, CorrelationID: correlationID}
	if payload == nil {
		return f, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	f.Payload = raw
	return f, nil
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return errors.New("frame has no payload")
	}
	return json.Unmarshal(f.Payload, v)
}

// Transport moves frames between the bridge and a single front-end.
type Transport interface {
	// Write sends a frame to the front-end.
	Write(frame Frame) error

	// Close shuts down the transport. Safe to call more than once.
	Close() error

	// IsReady reports whether Write will be accepted.
	IsReady() bool

	// ReadFrames returns inbound frames. The channel is closed when the
	// front-end goes away.
	ReadFrames() <-chan Frame
}
