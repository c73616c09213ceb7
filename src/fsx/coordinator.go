// Package fsx is the filesystem coordinator: a single process-wide lock
// plus an atomic-rename write primitive and a recursive directory removal
// helper. Per §1 this is an out-of-scope external collaborator — the real
// filesystem is treated as a given, not a place to plug in a storage
// engine — so this package stays intentionally thin.
package fsx

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ESPToolKit/esp-jsondb/src/dbtypes"
)

// Coordinator serializes every filesystem call behind one mutex, the Go
// analogue of the original's global FrMutex/FrLock pair guarding a
// non-reentrant device driver.
type Coordinator struct {
	mu     sync.Mutex
	logger *zap.SugaredLogger
}

func New(logger *zap.SugaredLogger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Coordinator{logger: logger}
}

// EnsureDir recursively creates path if it doesn't already exist.
func (c *Coordinator) EnsureDir(path string) dbtypes.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureDirLocked(path)
}

func (c *Coordinator) ensureDirLocked(path string) dbtypes.Status {
	if path == "" || path == "/" {
		return dbtypes.OK()
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return dbtypes.Wrap(dbtypes.IoError, fmt.Errorf("ensure dir %s: %w", path, err))
	}
	return dbtypes.OK()
}

// ReadFile reads the full contents of path. A missing file reports
// NotFound rather than IoError, matching the rest of the database's
// "absence is not failure" rule.
func (c *Coordinator) ReadFile(path string) ([]byte, dbtypes.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dbtypes.New(dbtypes.NotFound, "file not found: "+path)
		}
		return nil, dbtypes.Wrap(dbtypes.IoError, fmt.Errorf("read %s: %w", path, err))
	}
	return data, dbtypes.OK()
}

// AtomicWrite implements §4.H's write-to-tmp-then-rename primitive: either
// the final file ends up with the new contents, or it's untouched.
func (c *Coordinator) AtomicWrite(path string, data []byte) dbtypes.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st := c.ensureDirLocked(filepath.Dir(path)); !st.IsOK() {
		return st
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return dbtypes.Wrap(dbtypes.IoError, fmt.Errorf("open %s: %w", tmpPath, err))
	}

	n, werr := f.Write(data)
	if werr == nil {
		werr = f.Sync()
	}
	closeErr := f.Close()

	if werr != nil || n != len(data) {
		os.Remove(tmpPath)
		if werr == nil {
			werr = fmt.Errorf("short write: wrote %d of %d bytes", n, len(data))
		}
		return dbtypes.Wrap(dbtypes.IoError, fmt.Errorf("write %s: %w", tmpPath, werr))
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return dbtypes.Wrap(dbtypes.IoError, fmt.Errorf("close %s: %w", tmpPath, closeErr))
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return dbtypes.Wrap(dbtypes.IoError, fmt.Errorf("rename %s -> %s: %w", tmpPath, path, err))
	}
	return dbtypes.OK()
}

// Remove deletes a single file. A missing file is not an error.
func (c *Coordinator) Remove(path string) dbtypes.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return dbtypes.Wrap(dbtypes.IoError, fmt.Errorf("remove %s: %w", path, err))
	}
	return dbtypes.OK()
}

// ListFiles returns the base names of every regular file directly under
// dir matching suffix (e.g. ".mp"). A missing directory yields an empty,
// non-error result.
func (c *Coordinator) ListFiles(dir, suffix string) ([]string, dbtypes.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dbtypes.OK()
		}
		return nil, dbtypes.Wrap(dbtypes.IoError, fmt.Errorf("list %s: %w", dir, err))
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(suffix) > 0 && (len(name) < len(suffix) || name[len(name)-len(suffix):] != suffix) {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, dbtypes.OK()
}

// ListDirs returns the base names of every subdirectory directly under
// dir. A missing dir yields an empty, non-error result, mirroring
// ListFiles.
func (c *Coordinator) ListDirs(dir string) ([]string, dbtypes.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dbtypes.OK()
		}
		return nil, dbtypes.Wrap(dbtypes.IoError, fmt.Errorf("list %s: %w", dir, err))
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, dbtypes.OK()
}

// RemoveTree recursively removes path, depth-first: it checks
// directory-ness and enumerates children under the lock, but recurses into
// subdirectories without holding it, so a long tree removal doesn't starve
// unrelated filesystem calls. Non-existent paths are no-ops.
func (c *Coordinator) RemoveTree(path string) dbtypes.Status {
	c.mu.Lock()
	info, err := os.Stat(path)
	if err != nil {
		c.mu.Unlock()
		if os.IsNotExist(err) {
			return dbtypes.OK()
		}
		return dbtypes.Wrap(dbtypes.IoError, fmt.Errorf("stat %s: %w", path, err))
	}
	if !info.IsDir() {
		defer c.mu.Unlock()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return dbtypes.Wrap(dbtypes.IoError, fmt.Errorf("remove %s: %w", path, err))
		}
		return dbtypes.OK()
	}
	entries, err := os.ReadDir(path)
	c.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return dbtypes.OK()
		}
		return dbtypes.Wrap(dbtypes.IoError, fmt.Errorf("read dir %s: %w", path, err))
	}

	for _, e := range entries {
		child := filepath.Join(path, e.Name())
		if st := c.RemoveTree(child); !st.IsOK() {
			return st
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return dbtypes.Wrap(dbtypes.IoError, fmt.Errorf("remove dir %s: %w", path, err))
	}
	return dbtypes.OK()
}
