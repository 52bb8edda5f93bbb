package infra

import (
	"os"
	"path/filepath"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/domain"
)

// FileSystemManagerImpl implements domain.FileSystemManager.
type FileSystemManagerImpl struct {
	dirPerm os.FileMode
}

// NewFileSystemManager creates a new filesystem manager.
func NewFileSystemManager() domain.FileSystemManager {
	return &FileSystemManagerImpl{dirPerm: 0755}
}

// Exists checks if a path exists.
func (fm *FileSystemManagerImpl) Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// Delete removes a file or directory recursively. The path is taken
// literally, never as a glob.
func (fm *FileSystemManagerImpl) Delete(path string) error {
	return os.RemoveAll(path)
}

// EnsureDir creates a directory and its parents if missing.
func (fm *FileSystemManagerImpl) EnsureDir(path string) error {
	return os.MkdirAll(path, fm.dirPerm)
}

// EnsureParent creates the parent directory of path if missing.
func (fm *FileSystemManagerImpl) EnsureParent(path string) error {
	return fm.EnsureDir(filepath.Dir(path))
}

// Ensure FileSystemManagerImpl implements domain.FileSystemManager.
var _ domain.FileSystemManager = (*FileSystemManagerImpl)(nil)
