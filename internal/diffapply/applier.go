// Package diffapply applies reviewed file diffs to the workspace tree.
package diffapply

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	diffFileMode = 0644
	diffDirMode  = 0755
)

// ErrIntegrity marks a before/after hash mismatch: the workspace drifted
// since the diff was generated, or the patch produced unexpected content.
var ErrIntegrity = errors.New("diff integrity mismatch")

// Diff is one file change: a patch plus content hashes on both sides.
type Diff struct {
	Path      string `json:"path"`
	BeforeSHA string `json:"before_sha,omitempty"`
	AfterSHA  string `json:"after_sha,omitempty"`
	Patch     string `json:"patch"`
}

// Applier mutates files under a single workspace root. It is the only
// writer of reviewed changes; everything outside the root is rejected.
type Applier struct {
	workspace string
}

// NewApplier creates an applier rooted at the given workspace directory.
// The root is resolved to an absolute path so containment checks hold even
// when callers pass a relative one.
func NewApplier(workspace string) *Applier {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		abs = filepath.Clean(workspace)
	}
	return &Applier{workspace: abs}
}

// Apply applies each diff in order. The first failure aborts the batch;
// nothing is written for a diff whose integrity check fails.
func (a *Applier) Apply(diffs []Diff) error {
	if len(diffs) == 0 {
		return fmt.Errorf("no diffs to apply")
	}
	for _, d := range diffs {
		if err := a.applyOne(d); err != nil {
			return fmt.Errorf("apply %s: %w", d.Path, err)
		}
	}
	return nil
}

func (a *Applier) applyOne(d Diff) error {
	target, err := a.resolvePath(d.Path)
	if err != nil {
		return err
	}

	current := ""
	data, err := os.ReadFile(target)
	switch {
	case err == nil:
		current = string(data)
	case os.IsNotExist(err):
		// Diff against an empty baseline creates the file.
	default:
		return fmt.Errorf("read current content: %w", err)
	}

	if d.BeforeSHA != "" && hashContent(current) != strings.ToLower(d.BeforeSHA) {
		return fmt.Errorf("%w: workspace content differs from before_sha, re-diff required", ErrIntegrity)
	}

	updated, err := applyPatch(current, d.Patch)
	if err != nil {
		return err
	}

	if d.AfterSHA != "" && hashContent(updated) != strings.ToLower(d.AfterSHA) {
		return fmt.Errorf("%w: patched content differs from after_sha", ErrIntegrity)
	}

	if err := os.MkdirAll(filepath.Dir(target), diffDirMode); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.WriteFile(target, []byte(updated), diffFileMode); err != nil {
		return fmt.Errorf("write patched file: %w", err)
	}
	return nil
}

// resolvePath joins a diff path onto the workspace root and rejects any
// path that escapes it, regardless of how the traversal is spelled.
func (a *Applier) resolvePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("diff path is empty")
	}

	joined := path
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(a.workspace, joined)
	}
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	abs = filepath.Clean(abs)

	if !strings.HasPrefix(abs, a.workspace+string(filepath.Separator)) {
		return "", fmt.Errorf("access denied: path %q is outside workspace %q", abs, a.workspace)
	}
	return abs, nil
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// HashContent returns the sha256 hex digest used for diff integrity checks.
func HashContent(content string) string {
	return hashContent(content)
}
