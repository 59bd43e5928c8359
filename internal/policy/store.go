package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	policyFileMode = 0644
	policyDirMode  = 0755
)

// Store persists the policy document to <workspace>/state/policy.yaml.
type Store struct {
	path string
}

// NewStore creates a policy store rooted at the workspace state directory.
func NewStore(workspace string) *Store {
	return &Store{path: filepath.Join(workspace, "state", "policy.yaml")}
}

// Load reads the persisted policy. A missing file is not an error: it
// returns a zero Policy and the engine falls back to the default mode.
func (s *Store) Load() (Policy, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Policy{}, nil
		}
		return Policy{}, fmt.Errorf("read policy store: %w", err)
	}

	var parsed Policy
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return Policy{}, fmt.Errorf("parse policy store: %w", err)
	}
	if parsed.Overrides == nil {
		parsed.Overrides = map[Capability]Decision{}
	}
	return parsed, nil
}

// Save writes the policy document atomically (temp file plus rename) so a
// crash mid-write never leaves a truncated document behind.
func (s *Store) Save(p Policy) error {
	encoded, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal policy store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, policyDirMode); err != nil {
		return fmt.Errorf("create policy store dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "policy-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp policy store: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(encoded); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp policy store: %w", err)
	}
	if err := tmpFile.Chmod(policyFileMode); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp policy store: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp policy store: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace policy store: %w", err)
	}
	return nil
}
