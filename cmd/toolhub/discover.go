package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/moqimoqidea/gemini-cli/pkg/mcp"
	"github.com/moqimoqidea/gemini-cli/pkg/tools"
)

func newDiscoverCmd(flags *rootFlags) *cobra.Command {
	var showTools bool
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Connect every configured server and report what it offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, _, err := flags.newHub(cmd)
			if err != nil {
				return err
			}
			defer h.Close()

			if err := h.Discover(cmd.Context()); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), h.Manager.Status())
			if showTools {
				printTools(cmd.OutOrStdout(), h.Manager.Tools())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showTools, "tools", false, "list discovered tools")
	return cmd
}

func printStatus(w io.Writer, servers []mcp.ServerStatus) {
	if len(servers) == 0 {
		fmt.Fprintln(w, color.HiBlackString("no MCP servers configured"))
		return
	}
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	for _, s := range servers {
		switch s.Status {
		case mcp.StatusConnected:
			green.Fprint(w, "  ● ")
		case mcp.StatusFailed:
			red.Fprint(w, "  ✗ ")
		case mcp.StatusBlocked:
			yellow.Fprint(w, "  ⊘ ")
		default:
			gray.Fprint(w, "  ○ ")
		}
		fmt.Fprintf(w, "%-20s %-12s", s.Name, s.Status)
		if s.Status == mcp.StatusConnected {
			fmt.Fprintf(w, " %d tools", s.Tools)
		}
		if s.Extension != "" {
			gray.Fprintf(w, " (extension %s)", s.Extension)
		}
		if s.Error != "" {
			red.Fprintf(w, " %s", s.Error)
		}
		fmt.Fprintln(w)
	}
}

func printTools(w io.Writer, reg *tools.Registry) {
	cyan := color.New(color.FgCyan)
	for _, def := range reg.Definitions() {
		cyan.Fprintf(w, "  %s", def.Name)
		if def.Description != "" {
			fmt.Fprintf(w, "  %s", def.Description)
		}
		fmt.Fprintln(w)
	}
}
