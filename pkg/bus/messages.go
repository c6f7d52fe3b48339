package bus

import (
	"errors"

	"github.com/moqimoqidea/gemini-cli/pkg/tools"
)

// MessageType identifies a message variant. Subscriptions are keyed by it.
type MessageType string

const (
	TypeConfirmationRequest  MessageType = "tool-confirmation-request"
	TypeConfirmationResponse MessageType = "tool-confirmation-response"
	TypePolicyRejection      MessageType = "tool-policy-rejection"
	TypeExecutionSuccess     MessageType = "tool-execution-success"
	TypeExecutionFailure     MessageType = "tool-execution-failure"
	TypePolicyUpdate         MessageType = "update-policy"
)

// ErrInvalidMessage is returned by Publish for messages that cannot be routed.
var ErrInvalidMessage = errors.New("invalid message")

// Message is one of the six bus variants. The set is closed.
type Message interface {
	Type() MessageType
	validate() error
}

// ConfirmationRequest asks a front-end to show a confirmation prompt.
type ConfirmationRequest struct {
	CorrelationID string
	ToolName      string
	Tool          tools.Tool
	Invocation    tools.Invocation
	Args          map[string]any
	Details       *tools.ConfirmationDetails
}

// ConfirmationResponse answers the request with the same CorrelationID.
type ConfirmationResponse struct {
	CorrelationID string
	Confirmed     bool
	Outcome       tools.ConfirmationOutcome
}

// PolicyRejection reports a call refused by policy before anyone was asked.
type PolicyRejection struct {
	CorrelationID string
	ToolName      string
	Args          map[string]any
	Reason        string
}

// ExecutionSuccess reports a finished tool call.
type ExecutionSuccess struct {
	CorrelationID string // empty when no confirmation was needed
	ToolName      string
	Args          map[string]any
	Output        tools.ToolOutput
}

// ExecutionFailure reports a tool call that errored or was not allowed to run.
type ExecutionFailure struct {
	CorrelationID string
	ToolName      string
	Args          map[string]any
	Err           error
}

// PolicyUpdate records an "always allow" choice.
type PolicyUpdate struct {
	ToolName   string
	ServerName string
	Persist    bool
}

func (ConfirmationRequest) Type() MessageType  { return TypeConfirmationRequest }
func (ConfirmationResponse) Type() MessageType { return TypeConfirmationResponse }
func (PolicyRejection) Type() MessageType      { return TypePolicyRejection }
func (ExecutionSuccess) Type() MessageType     { return TypeExecutionSuccess }
func (ExecutionFailure) Type() MessageType     { return TypeExecutionFailure }
func (PolicyUpdate) Type() MessageType         { return TypePolicyUpdate }

func (m ConfirmationRequest) validate() error {
	if m.CorrelationID == "" {
		return errors.New("confirmation request without correlation id")
	}
	if m.ToolName == "" {
		return errors.New("confirmation request without tool name")
	}
	return nil
}

func (m ConfirmationResponse) validate() error {
	if m.CorrelationID == "" {
		return errors.New("confirmation response without correlation id")
	}
	return nil
}

func (m PolicyRejection) validate() error {
	if m.ToolName == "" {
		return errors.New("policy rejection without tool name")
	}
	return nil
}

func (m ExecutionSuccess) validate() error {
	if m.ToolName == "" {
		return errors.New("execution success without tool name")
	}
	return nil
}

func (m ExecutionFailure) validate() error {
	if m.ToolName == "" {
		return errors.New("execution failure without tool name")
	}
	return nil
}

func (m PolicyUpdate) validate() error {
	if m.ToolName == "" && m.ServerName == "" {
		return errors.New("policy update names neither a tool nor a server")
	}
	return nil
}
