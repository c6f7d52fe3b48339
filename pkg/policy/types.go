// Package policy decides whether a tool call may run without asking the
// operator, must be refused, or needs a confirmation.
package policy

import "fmt"

// Decision is the outcome of a policy check.
type Decision string

const (
	Allow   Decision = "allow"
	Deny    Decision = "deny"
	AskUser Decision = "ask_user"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	switch d {
	case Allow, Deny, AskUser:
		return true
	}
	return false
}

// strictness orders decisions for tie-breaks between equal priorities.
func (d Decision) strictness() int {
	switch d {
	case Deny:
		return 2
	case AskUser:
		return 1
	default:
		return 0
	}
}

// Rule matches tool calls by qualified tool name and, optionally, arguments.
// Tool is a glob over qualified names such as "mcp__github__*". ArgsPattern,
// when set, must match at least one string argument (glob or substring).
type Rule struct {
	Tool        string   `yaml:"tool" json:"tool"`
	ArgsPattern string   `yaml:"argsPattern,omitempty" json:"argsPattern,omitempty"`
	Decision    Decision `yaml:"decision" json:"decision"`
	Priority    int      `yaml:"priority,omitempty" json:"priority,omitempty"`
	Source      string   `yaml:"-" json:"source,omitempty"` // "settings", "session", "file"
}

// Validate checks that the rule can be evaluated.
func (r Rule) Validate() error {
	if r.Tool == "" {
		return fmt.Errorf("policy rule: tool pattern is required")
	}
	if !r.Decision.Valid() {
		return fmt.Errorf("policy rule %q: unknown decision %q", r.Tool, r.Decision)
	}
	return nil
}

// Update is an operator choice to always allow a tool, or every tool of a server.
type Update struct {
	ToolName   string // qualified tool name; empty when ServerName is set
	ServerName string
	Persist    bool // also write the rule to the rules file
}

// Rule converts the update to an allow rule.
func (u Update) Rule() (Rule, error) {
	switch {
	case u.ServerName != "" && u.ToolName == "":
		return Rule{Tool: fmt.Sprintf("mcp__%s__*", u.ServerName), Decision: Allow, Source: "session"}, nil
	case u.ToolName != "":
		return Rule{Tool: u.ToolName, Decision: Allow, Source: "session"}, nil
	default:
		return Rule{}, fmt.Errorf("policy update names neither a tool nor a server")
	}
}
