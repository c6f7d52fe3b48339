package mcp

import (
	"context"
	"fmt"

	"github.com/moqimoqidea/gemini-cli/pkg/types"
)

// Transport abstracts bidirectional JSON-RPC communication with an MCP server.
type Transport interface {
	// Send sends a JSON-RPC request and returns the correlated response.
	Send(ctx context.Context, req JSONRPCRequest) (JSONRPCResponse, error)
	// Notify sends a JSON-RPC notification (no response expected).
	Notify(ctx context.Context, method string, params any) error
	// Close terminates the transport connection. Safe to call more than once.
	Close() error
}

// DialFunc opens a transport for a server config.
type DialFunc func(ctx context.Context, config types.ServerConfig) (Transport, error)

// Dial picks the transport implementation from the config.
func Dial(_ context.Context, config types.ServerConfig) (Transport, error) {
	switch config.Type {
	case TransportStdio, "":
		if config.Command == "" {
			if config.URL != "" {
				return NewHTTPTransport(config.URL, config.Headers), nil
			}
			return nil, fmt.Errorf("stdio transport requires a command")
		}
		return NewStdioTransport(config.Command, config.Args, config.Env, config.Cwd)
	case TransportHTTP, TransportSSE:
		if config.URL == "" {
			return nil, fmt.Errorf("%s transport requires a URL", config.Type)
		}
		return NewHTTPTransport(config.URL, config.Headers), nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %q", config.Type)
	}
}
