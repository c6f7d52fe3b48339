package mcp

import (
	"context"

	"github.com/moqimoqidea/gemini-cli/pkg/tools"
	"github.com/moqimoqidea/gemini-cli/pkg/types"
)

// Handle is one connection to one tool server. The Manager owns every handle
// and only relies on this contract. Implementations must be pointer types so
// handles can be compared by identity.
type Handle interface {
	Name() string
	Connect(ctx context.Context) error
	// Discover enumerates the server's tools and prompts and registers them.
	Discover(ctx context.Context, reg Registrar) error
	Disconnect() error
	Status() ConnectionStatus
	ToolCount() int
}

// Registrar receives a server's discovered capabilities. Each call replaces
// what was previously registered for that server.
type Registrar interface {
	RegisterServerTools(serverName string, discovered []tools.Tool)
	RegisterServerPrompts(serverName string, prompts []*tools.Prompt)
}

// HandleFactory builds a fresh, unconnected handle.
type HandleFactory func(name string, config types.ServerConfig, allowlist *tools.Allowlist) Handle

// ServerStatus is an external view of one server.
type ServerStatus struct {
	Name      string           `json:"name"`
	Status    ConnectionStatus `json:"status"`
	Extension string           `json:"extension,omitempty"`
	Tools     int              `json:"tools"`
	Error     string           `json:"error,omitempty"`
}

// BlockedServer is a configured server left out by the allow/exclude lists.
type BlockedServer struct {
	Name      string `json:"name"`
	Extension string `json:"extension,omitempty"`
}
