package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

const (
	lockTimeout = 5 * time.Second
	lockRetry   = 50 * time.Millisecond
)

// ErrLockTimeout is returned when the rules file lock cannot be taken in time.
var ErrLockTimeout = errors.New("policy file lock timeout")

// Store is a YAML rules file shared between processes.
type Store struct {
	path string
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// NewStore creates a store for path. The file need not exist yet.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the rules file location.
func (s *Store) Path() string { return s.path }

// Load reads every rule in the file. A missing file yields no rules.
func (s *Store) Load(ctx context.Context) ([]Rule, error) {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	fl := flock.New(s.path + ".lock")
	if err := s.acquire(ctx, fl.TryRLockContext); err != nil {
		return nil, err
	}
	defer fl.Unlock()

	rules, err := s.read()
	if err != nil {
		return nil, err
	}
	for i := range rules {
		rules[i].Source = "file"
	}
	return rules, nil
}

// Append adds rule to the file under an exclusive lock.
func (s *Store) Append(ctx context.Context, rule Rule) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	fl := flock.New(s.path + ".lock")
	if err := s.acquire(ctx, fl.TryLockContext); err != nil {
		return err
	}
	defer fl.Unlock()

	rules, err := s.read()
	if err != nil {
		return err
	}
	for _, r := range rules {
		if r.Tool == rule.Tool && r.ArgsPattern == rule.ArgsPattern && r.Decision == rule.Decision {
			return nil
		}
	}
	rules = append(rules, rule)

	data, err := yaml.Marshal(ruleFile{Rules: rules})
	if err != nil {
		return fmt.Errorf("encode policy file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) read() ([]Rule, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return f.Rules, nil
}

func (s *Store) acquire(ctx context.Context, try func(context.Context, time.Duration) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := try(ctx, lockRetry)
	if err != nil || !locked {
		return ErrLockTimeout
	}
	return nil
}
