package engine

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// RealFS implements [FS] against the host filesystem. All methods are
// passthroughs to the [os] package except CopyFile and Exists, which add the
// atomic-rename and not-found-is-not-an-error conveniences the engine needs.
type RealFS struct{}

// NewRealFS returns the production [FS] implementation.
func NewRealFS() *RealFS {
	return &RealFS{}
}

func (r *RealFS) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(path, flag, perm)
}

func (r *RealFS) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

func (r *RealFS) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

func (r *RealFS) MkdirAll(dir string, perm os.FileMode) error {
	return os.MkdirAll(dir, perm)
}

func (r *RealFS) Remove(path string) error {
	return os.Remove(path)
}

func (r *RealFS) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

// CopyFile reads src in full and writes it to dst via a temp-file-plus-rename
// so that a crash mid-copy never leaves a truncated file at dst. Backup files
// are small enough (configuration/window-state scale, per the store's design)
// that buffering the whole copy in memory is acceptable.
func (r *RealFS) CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}

	if err := atomic.WriteFile(dst, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}

	return nil
}

var _ FS = (*RealFS)(nil)
var _ File = (*os.File)(nil)
