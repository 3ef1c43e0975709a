// ====================================
// File: internal/config/allowlist.go
// ====================================
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Allowlist is the set of deposit addresses granted the reduced minimum.
// The set is consulted internally only; nothing about it is ever included
// in caller-visible responses or errors.
type Allowlist map[string]struct{}

type allowlistFile struct {
	Addresses []string `yaml:"privileged_addresses"`
}

// LoadAllowlist reads the privileged-address file. A missing path is not an
// error: it yields an empty set and the standard minimum applies everywhere.
func LoadAllowlist(path string) (Allowlist, error) {
	if path == "" {
		return Allowlist{}, nil
	}

	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Allowlist{}, nil
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var file allowlistFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	list := make(Allowlist, len(file.Addresses))
	for _, addr := range file.Addresses {
		if addr == "" {
			continue
		}
		list[addr] = struct{}{}
	}
	return list, nil
}

// Contains reports membership without allocating.
func (a Allowlist) Contains(address string) bool {
	_, ok := a[address]
	return ok
}
