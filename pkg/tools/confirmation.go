package tools

// ConfirmationOutcome is the operator's answer to a confirmation prompt.
type ConfirmationOutcome string

const (
	OutcomeProceedOnce         ConfirmationOutcome = "proceed_once"
	OutcomeProceedAlways       ConfirmationOutcome = "proceed_always"
	OutcomeProceedAlwaysServer ConfirmationOutcome = "proceed_always_server"
	OutcomeProceedAlwaysTool   ConfirmationOutcome = "proceed_always_tool"
	OutcomeProceedAlwaysSave   ConfirmationOutcome = "proceed_always_and_save"
	OutcomeCancel              ConfirmationOutcome = "cancel"
)

// Proceeds reports whether the outcome lets the call run.
func (o ConfirmationOutcome) Proceeds() bool {
	return o != "" && o != OutcomeCancel
}

// Always reports whether the operator asked not to be asked again.
func (o ConfirmationOutcome) Always() bool {
	switch o {
	case OutcomeProceedAlways, OutcomeProceedAlwaysServer, OutcomeProceedAlwaysTool, OutcomeProceedAlwaysSave:
		return true
	}
	return false
}

// ConfirmationDetails is what a front-end needs to render a confirmation prompt.
type ConfirmationDetails struct {
	Type            string `json:"type"` // "mcp", "exec", "edit", "info"
	Title           string `json:"title"`
	ServerName      string `json:"serverName,omitempty"`
	ToolName        string `json:"toolName,omitempty"`
	ToolDisplayName string `json:"toolDisplayName,omitempty"`
	Summary         string `json:"summary,omitempty"`

	// OnConfirm runs once the operator has answered; may be nil.
	OnConfirm func(outcome ConfirmationOutcome) `json:"-"`
}
