package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/moqimoqidea/gemini-cli/pkg/config"
	"github.com/moqimoqidea/gemini-cli/pkg/hub"
)

type rootFlags struct {
	settings       string
	serverCommand  string
	logLevel       string
	nonInteractive bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "toolhub",
		Short:         "Connect MCP tool servers and run their tools with confirmation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.settings, "settings", "settings.yaml", "settings file")
	pf.StringVar(&flags.serverCommand, "server-command", "", "extra server command, registered as \"mcp\"")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides settings")
	pf.BoolVar(&flags.nonInteractive, "non-interactive", false, "deny calls that would need a confirmation")

	cmd.AddCommand(
		newDiscoverCmd(flags),
		newCallCmd(flags),
		newServeCmd(flags),
		newExtensionsCmd(flags),
	)
	return cmd
}

// loadSettings reads the settings file and applies flag overrides. A missing
// file at the default path yields empty settings.
func (f *rootFlags) loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	s, err := config.Load(f.settings)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("settings") {
			return nil, err
		}
		s = config.Default()
	}
	if f.serverCommand != "" {
		s.McpServerCommand = f.serverCommand
	}
	if f.logLevel != "" {
		s.LogLevel = f.logLevel
	}
	if f.nonInteractive {
		s.NonInteractive = true
	}
	return s, nil
}

func (f *rootFlags) newHub(cmd *cobra.Command) (*hub.Hub, *slog.Logger, error) {
	s, err := f.loadSettings(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("loading settings: %w", err)
	}
	logger := newLogger(os.Stderr, s.LogLevel)
	h, err := hub.New(cmd.Context(), s, hub.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return h, logger, nil
}
