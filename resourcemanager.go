package parsepipe

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ResourceManager owns one pipeline's scratch directory tree: every
// downloaded, extracted, and converted ScratchFile lives under it for the
// lifetime of the pipeline. Dispose removes the whole subtree and is
// always invoked from the pipeline's terminating block, whether the
// pipeline exits normally or exceptionally.
type ResourceManager struct {
	root   string
	logger *slog.Logger

	mu    sync.Mutex
	files []ScratchFile
}

// NewResourceManager creates the per-task scratch directory
// filepath.Join(workDir, taskID) and returns a ResourceManager owning it.
func NewResourceManager(workDir, taskID string, logger *slog.Logger) (*ResourceManager, error) {
	root := filepath.Join(workDir, taskID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceManager{root: root, logger: logger}, nil
}

// Root returns the scratch directory's absolute path.
func (r *ResourceManager) Root() string { return r.root }

// NewSubdir creates and returns a fresh, uniquely named subdirectory under
// Root, for callers (like the pipeline's fetch and archive-extract
// directories) that need isolation from other files in the same scratch tree.
func (r *ResourceManager) NewSubdir() (string, error) {
	dir := filepath.Join(r.root, NewID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Track registers a ScratchFile as owned by this pipeline run. Tracking is
// informational (for logging/metrics on dispose) — actual removal is the
// recursive directory delete in Dispose, since files are always created
// under Root.
func (r *ResourceManager) Track(f ScratchFile) {
	r.mu.Lock()
	r.files = append(r.files, f)
	r.mu.Unlock()
}

// Dispose removes the entire scratch subtree. It never returns an error:
// a missing directory is not an error (some other caller may have already
// cleaned up, or nothing was ever written), and any other removal failure
// is logged, not propagated.
func (r *ResourceManager) Dispose() {
	r.mu.Lock()
	n := len(r.files)
	r.mu.Unlock()

	err := os.RemoveAll(r.root)
	if err == nil {
		r.logger.Debug("scratch directory disposed", "root", r.root, "tracked_files", n)
		return
	}
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	r.logger.Error("scratch directory disposal failed", "root", r.root, "err", err)
}
