// Command toolhub connects the MCP servers named in a settings file and runs
// their tools behind operator confirmation.
//
// Usage:
//
//	toolhub discover --settings settings.yaml
//	toolhub call mcp__github__create_issue title="Bug" --settings settings.yaml
//	toolhub serve --listen :7777
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
