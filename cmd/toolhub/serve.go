package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/moqimoqidea/gemini-cli/pkg/transport"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(flags *rootFlags) *cobra.Command {
	var (
		listen string
		stdio  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve tools over HTTP with websocket confirmation front-ends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			h, logger, err := flags.newHub(cmd)
			if err != nil {
				return err
			}
			defer h.Close()

			if err := h.Discover(ctx); err != nil {
				return err
			}
			printStatus(cmd.ErrOrStderr(), h.Manager.Status())

			go func() {
				if err := h.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Error("extension watcher stopped", "error", err)
				}
			}()

			if stdio {
				tr := transport.NewStdioTransport(os.Stdin, os.Stdout)
				br := transport.NewConfirmationBridge(h.Bus, tr, transport.WithBridgeLogger(logger))
				go func() {
					if err := br.Run(ctx); err != nil && ctx.Err() == nil {
						logger.Warn("stdio front-end", "error", err)
					}
				}()
			}

			srv := &http.Server{Addr: listen, Handler: h.Handler()}
			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()

			color.New(color.FgGreen).Fprint(cmd.ErrOrStderr(), "▶ ")
			cmd.PrintErrf("listening on %s\n", listen)

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:7777", "HTTP listen address")
	cmd.Flags().BoolVar(&stdio, "stdio", false, "also accept confirmations as JSON lines on stdin/stdout")
	return cmd
}
