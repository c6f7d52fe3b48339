package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/moqimoqidea/gemini-cli/pkg/confirm"
)

func newCallCmd(flags *rootFlags) *cobra.Command {
	var argsJSON string
	cmd := &cobra.Command{
		Use:   "call <tool> [key=value...]",
		Short: "Run one tool, asking for confirmation on the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := parseToolArgs(argsJSON, args[1:])
			if err != nil {
				return err
			}

			h, _, err := flags.newHub(cmd)
			if err != nil {
				return err
			}
			defer h.Close()

			if err := h.Discover(cmd.Context()); err != nil {
				return err
			}

			var prompter *terminalPrompter
			if !h.Settings.NonInteractive {
				prompter = attachPrompter(h.Bus, cmd.InOrStdin(), cmd.ErrOrStderr())
				defer prompter.Detach()
			}

			out, err := h.Call(cmd.Context(), args[0], toolArgs)
			if errors.Is(err, confirm.ErrDenied) {
				color.New(color.FgYellow).Fprintln(cmd.ErrOrStderr(), "call not allowed")
			}
			if err != nil {
				return err
			}

			if out.IsError {
				color.New(color.FgRed).Fprintln(cmd.OutOrStdout(), out.Content)
				return fmt.Errorf("%s reported an error", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Content)
			return nil
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "", "tool arguments as a JSON object")
	return cmd
}

// parseToolArgs merges a JSON object with key=value pairs. Values that parse
// as JSON keep their type; anything else is a string.
func parseToolArgs(raw string, pairs []string) (map[string]any, error) {
	args := make(map[string]any)
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, fmt.Errorf("parsing --args: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		args[key] = v
	}
	return args, nil
}
