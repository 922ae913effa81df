// Package workspace is the scoped directory allocation manager (component
// C): every build gets its own directory under the configured root, with
// guaranteed cleanup.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sremani/chengis/internal/pathsafe"
	"github.com/sremani/chengis/internal/telemetry/logging"
)

var log = logging.New("workspace")

// Manager allocates and reclaims per-build workspace directories rooted at
// Root.
type Manager struct {
	Root string
}

// New constructs a Manager rooted at root. root must be absolute.
func New(root string) (*Manager, error) {
	clean, err := pathsafe.ValidateAbsolute(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: invalid root: %w", err)
	}
	return &Manager{Root: clean}, nil
}

// Handle is an allocated workspace directory and its cleanup.
type Handle struct {
	Path string
}

// Allocate creates a fresh directory for buildID under the manager's root
// and returns a Handle. The caller must call Release when the build is
// done, regardless of outcome.
func (m *Manager) Allocate(buildID string) (Handle, error) {
	dir := filepath.Join(m.Root, buildID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Handle{}, fmt.Errorf("workspace: allocate %s: %w", buildID, err)
	}
	return Handle{Path: dir}, nil
}

// Release recursively removes the workspace directory. It is safe to call
// more than once.
func (m *Manager) Release(h Handle) error {
	if h.Path == "" {
		return nil
	}
	if err := os.RemoveAll(h.Path); err != nil {
		log.Warn("workspace cleanup failed", "path", h.Path, "error", err)
		return fmt.Errorf("workspace: release %s: %w", h.Path, err)
	}
	return nil
}

// ResolveMountTarget substitutes a docker volume token's ":workspace"
// prefix or any "${WORKSPACE}" occurrence with the workspace's absolute
// path, then validates the result is absolute and traversal-free. A token
// with neither form is validated unchanged.
func (h Handle) ResolveMountTarget(token string) (string, error) {
	resolved := token
	switch {
	case strings.HasPrefix(token, ":workspace"):
		resolved = h.Path + strings.TrimPrefix(token, ":workspace")
	case strings.Contains(token, "${WORKSPACE}"):
		resolved = strings.ReplaceAll(token, "${WORKSPACE}", h.Path)
	}
	return pathsafe.ValidateMountTarget(resolved)
}
