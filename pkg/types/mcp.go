package types

import "time"

// ServerConfig describes how to reach one MCP tool server. Values are supplied by
// settings or extensions and are never mutated after load.
type ServerConfig struct {
	Type string `json:"type,omitempty" yaml:"type,omitempty"` // "stdio"|"sse"|"http"

	// stdio
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`

	// sse/http
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Timeout bounds connect plus discovery. Zero means no limit beyond the caller's context.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Trust skips confirmation for every tool of this server.
	Trust bool `json:"trust,omitempty" yaml:"trust,omitempty"`

	// IncludeTools and ExcludeTools filter discovered tool names (glob patterns).
	IncludeTools []string `json:"includeTools,omitempty" yaml:"includeTools,omitempty"`
	ExcludeTools []string `json:"excludeTools,omitempty" yaml:"excludeTools,omitempty"`

	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Extension is set when the server was contributed by an extension.
	Extension *Extension `json:"-" yaml:"-"`
}

// Active reports whether the server should be discovered. Servers contributed by
// an inactive extension are skipped.
func (c ServerConfig) Active() bool {
	return c.Extension == nil || c.Extension.IsActive
}

// Extension is a loaded extension descriptor.
type Extension struct {
	Name       string                  `json:"name" yaml:"name"`
	Version    string                  `json:"version,omitempty" yaml:"version,omitempty"`
	Path       string                  `json:"path,omitempty" yaml:"-"`
	IsActive   bool                    `json:"isActive" yaml:"-"`
	McpServers map[string]ServerConfig `json:"mcpServers,omitempty" yaml:"mcpServers,omitempty"`
}

// Servers returns the extension's server configs with the back-reference set.
func (e *Extension) Servers() map[string]ServerConfig {
	out := make(map[string]ServerConfig, len(e.McpServers))
	for name, cfg := range e.McpServers {
		cfg.Extension = e
		out[name] = cfg
	}
	return out
}
