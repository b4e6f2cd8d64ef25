package engine

import (
	"io"
	"os"
)

// File is the positioned-I/O handle the BackingFile operates on. It is
// satisfied by [os.File] and by any fake substituted in tests.
//
// The engine never does streaming Read/Write against the store file — every
// access names an offset, so the interface only exposes ReadAt/WriteAt plus
// the handful of whole-file operations (Truncate, Stat, Sync) the allocator
// and recovery code need.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Truncate resizes the file to exactly size bytes. See [os.File.Truncate].
	Truncate(size int64) error

	// Stat returns the current file metadata. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync forces previously written data to durable storage. See [os.File.Sync].
	Sync() error
}

// FS is the filesystem seam the engine is built against. Production code
// uses [RealFS]; tests substitute an in-memory or fault-injecting fake to
// exercise Io error paths deterministically.
type FS interface {
	// OpenFile opens or creates the store file with the given flags. See
	// [os.OpenFile].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// Stat returns file metadata. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether path exists, returning (false, nil) if not
	// found and (false, err) for any other Stat failure.
	Exists(path string) (bool, error)

	// MkdirAll creates dir and any missing parents. See [os.MkdirAll].
	MkdirAll(dir string, perm os.FileMode) error

	// Remove deletes a single file. See [os.Remove].
	Remove(path string) error

	// Rename moves oldpath to newpath, atomic on the same filesystem. See
	// [os.Rename].
	Rename(oldpath, newpath string) error

	// CopyFile produces a byte-identical copy of src at dst, used by
	// Engine.Backup. The copy is written via a temp file and renamed into
	// place so a reader never observes a partially written backup.
	CopyFile(src, dst string) error
}
