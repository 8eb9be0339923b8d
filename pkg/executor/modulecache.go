package executor

import (
	"fmt"
	"os"
	"path/filepath"
)

// DiskModuleCache persists a compiled contract's module bytes (WASM
// bytecode, or JS source) to its own directory keyed by src_tx_id,
// generalizing the teacher's LocalDriver: a directory-per-key store that
// survives process restarts, where LocalDriver kept a mounted volume's
// files and this keeps one immutable blob per source.
type DiskModuleCache struct {
	basePath string
}

// NewDiskModuleCache returns a cache rooted at basePath, creating it if
// necessary.
func NewDiskModuleCache(basePath string) (*DiskModuleCache, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("executor: failed to create module cache directory: %w", err)
	}
	return &DiskModuleCache{basePath: basePath}, nil
}

// Path returns the directory holding srcTxID's cached module, whether or
// not anything has been written there yet.
func (c *DiskModuleCache) Path(srcTxID string) string {
	return filepath.Join(c.basePath, srcTxID)
}

func (c *DiskModuleCache) modulePath(srcTxID string) string {
	return filepath.Join(c.Path(srcTxID), "module.bin")
}

// Put writes data for srcTxID, creating its directory if needed. Safe to
// call repeatedly with the same bytes: sources are content-addressed and
// immutable once fetched.
func (c *DiskModuleCache) Put(srcTxID string, data []byte) error {
	dir := c.Path(srcTxID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("executor: failed to create module directory for %s: %w", srcTxID, err)
	}
	if err := os.WriteFile(c.modulePath(srcTxID), data, 0o644); err != nil {
		return fmt.Errorf("executor: failed to write module for %s: %w", srcTxID, err)
	}
	return nil
}

// Get returns the cached module bytes for srcTxID, or ok=false if nothing
// has been cached yet.
func (c *DiskModuleCache) Get(srcTxID string) (data []byte, ok bool, err error) {
	data, err = os.ReadFile(c.modulePath(srcTxID))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("executor: failed to read module for %s: %w", srcTxID, err)
	}
	return data, true, nil
}

// Delete removes a cached module's entire directory, e.g. after the source
// is blacklisted.
func (c *DiskModuleCache) Delete(srcTxID string) error {
	if err := os.RemoveAll(c.Path(srcTxID)); err != nil {
		return fmt.Errorf("executor: failed to delete module directory for %s: %w", srcTxID, err)
	}
	return nil
}
