package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newExtensionsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "extensions",
		Short: "List installed extensions and the servers they contribute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, _, err := flags.newHub(cmd)
			if err != nil {
				return err
			}
			defer h.Close()

			w := cmd.OutOrStdout()
			if h.Watcher == nil {
				fmt.Fprintln(w, color.HiBlackString("no extensions directory configured"))
				return nil
			}
			gray := color.New(color.FgHiBlack)
			for _, ext := range h.Watcher.Extensions() {
				state := color.GreenString("enabled")
				if !ext.IsActive {
					state = color.YellowString("disabled")
				}
				fmt.Fprintf(w, "%-20s %-8s %s\n", ext.Name, ext.Version, state)

				names := make([]string, 0, len(ext.McpServers))
				for name := range ext.McpServers {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					gray.Fprintf(w, "  server %s\n", name)
				}
			}
			return nil
		},
	}
}
