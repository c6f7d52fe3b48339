// Package config loads the settings file that lists tool servers, extension
// and policy options.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/moqimoqidea/gemini-cli/pkg/policy"
	"github.com/moqimoqidea/gemini-cli/pkg/types"
)

// EnvFile is loaded from the settings directory when present.
const EnvFile = ".env"

// Settings is the parsed settings file.
type Settings struct {
	McpServers         map[string]types.ServerConfig `yaml:"mcpServers"`
	AllowMcpServers    []string                      `yaml:"allowMcpServers,omitempty"`
	ExcludeMcpServers  []string                      `yaml:"excludeMcpServers,omitempty"`
	McpServerCommand   string                        `yaml:"mcpServerCommand,omitempty"`
	ExtensionsDir      string                        `yaml:"extensionsDir,omitempty"`
	DisabledExtensions []string                      `yaml:"disabledExtensions,omitempty"`
	Policy             PolicySettings                `yaml:"policy,omitempty"`
	NonInteractive     bool                          `yaml:"nonInteractive,omitempty"`
	LogLevel           string                        `yaml:"logLevel,omitempty"`
}

// PolicySettings configures the policy engine.
type PolicySettings struct {
	Default   policy.Decision `yaml:"default,omitempty"`
	Rules     []policy.Rule   `yaml:"rules,omitempty"`
	RulesFile string          `yaml:"rulesFile,omitempty"`
}

// Default returns empty settings with defaults applied.
func Default() *Settings {
	s := &Settings{}
	s.applyDefaults()
	return s
}

// Load reads the settings file at path. A .env file next to it is loaded into
// the process environment first (existing variables win), then ${VAR}
// references in server commands, args, env, headers and URLs are expanded.
// Relative paths are resolved against the settings directory.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	dir := filepath.Dir(path)
	envPath := filepath.Join(dir, EnvFile)
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	s.applyDefaults()
	s.expand()
	s.resolvePaths(dir)

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate reports every server that cannot be connected as configured.
func (s *Settings) Validate() error {
	var errs []error
	for name, cfg := range s.McpServers {
		if cfg.Command == "" && cfg.URL == "" {
			errs = append(errs, fmt.Errorf("server %q: command or url is required", name))
		}
	}
	if !s.Policy.Default.Valid() {
		errs = append(errs, fmt.Errorf("policy: unknown default decision %q", s.Policy.Default))
	}
	for _, r := range s.Policy.Rules {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Settings) applyDefaults() {
	if s.McpServers == nil {
		s.McpServers = make(map[string]types.ServerConfig)
	}
	if s.Policy.Default == "" {
		s.Policy.Default = policy.AskUser
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	for i := range s.Policy.Rules {
		s.Policy.Rules[i].Source = "settings"
	}
}

func (s *Settings) expand() {
	for name, cfg := range s.McpServers {
		cfg.Command = os.ExpandEnv(cfg.Command)
		cfg.URL = os.ExpandEnv(cfg.URL)
		cfg.Cwd = os.ExpandEnv(cfg.Cwd)
		for i, a := range cfg.Args {
			cfg.Args[i] = os.ExpandEnv(a)
		}
		cfg.Env = expandMap(cfg.Env)
		cfg.Headers = expandMap(cfg.Headers)
		s.McpServers[name] = cfg
	}
	s.McpServerCommand = os.ExpandEnv(s.McpServerCommand)
}

func (s *Settings) resolvePaths(dir string) {
	s.ExtensionsDir = resolve(dir, os.ExpandEnv(s.ExtensionsDir))
	s.Policy.RulesFile = resolve(dir, os.ExpandEnv(s.Policy.RulesFile))
}

func expandMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = os.ExpandEnv(v)
	}
	return out
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
