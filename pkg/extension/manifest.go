package extension

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/moqimoqidea/gemini-cli/pkg/types"
)

// ManifestName is the file that marks a directory as an extension.
const ManifestName = "extension.yaml"

// LoadManifest reads the extension in dir.
func LoadManifest(dir string) (*types.Extension, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	var ext types.Extension
	if err := yaml.Unmarshal(data, &ext); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Join(dir, ManifestName), err)
	}
	if ext.Name == "" {
		ext.Name = filepath.Base(dir)
	}
	ext.Path = dir
	ext.IsActive = true
	return &ext, nil
}

// Scan loads every extension directly under root, sorted by name. Directories
// without a manifest are skipped; broken manifests are returned as errors
// alongside the extensions that did load.
func Scan(root string) ([]*types.Extension, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var (
		exts []*types.Extension
		errs []error
	)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ext, err := LoadManifest(filepath.Join(root, entry.Name()))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		exts = append(exts, ext)
	}
	sort.Slice(exts, func(i, j int) bool { return exts[i].Name < exts[j].Name })
	return exts, errors.Join(errs...)
}

// snapshot copies ext so receivers cannot observe later changes.
func snapshot(ext *types.Extension, active bool) *types.Extension {
	cp := *ext
	cp.IsActive = active
	cp.McpServers = make(map[string]types.ServerConfig, len(ext.McpServers))
	for name, cfg := range ext.McpServers {
		cp.McpServers[name] = cfg
	}
	return &cp
}
