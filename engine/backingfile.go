package engine

import (
	"fmt"
	"io"
)

// backingFile implements §4.1's contract (read/write/truncate/flush/copy_to)
// on top of the [FS]/[File] seam using positioned I/O. It never seeks and
// never does a streaming read/write against the store file: every access
// names an explicit offset, so concurrent BackingFile users would be safe
// even without the Engine's store-wide mutex (the mutex exists for
// Directory/Allocator consistency, not for file-handle safety).
type backingFile struct {
	fsys FS
	path string
	f    File
}

// openBackingFile opens (creating if necessary) the file at path with the
// given flags. The caller is responsible for closing the returned
// backingFile.
func openBackingFile(fsys FS, path string, flag int) (*backingFile, error) {
	f, err := fsys.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrIO, path, err)
	}

	return &backingFile{fsys: fsys, path: path, f: f}, nil
}

// readAt reads exactly n bytes starting at offset, failing with ErrIO on a
// short read or any OS error, per §4.1.
func (b *backingFile) readAt(offset int64, n int) ([]byte, error) {
	buf := make([]byte, n)

	if _, err := io.ReadFull(io.NewSectionReader(b.f, offset, int64(n)), buf); err != nil {
		return nil, fmt.Errorf("%w: read %d bytes at %d in %s: %w", ErrIO, n, offset, b.path, err)
	}

	return buf, nil
}

// writeAt overwrites data starting at offset, implicitly growing the file
// when offset+len(data) exceeds the current size.
func (b *backingFile) writeAt(offset int64, data []byte) error {
	if _, err := b.f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("%w: write %d bytes at %d in %s: %w", ErrIO, len(data), offset, b.path, err)
	}

	return nil
}

// truncate resizes the file to exactly size bytes.
func (b *backingFile) truncate(size int64) error {
	if err := b.f.Truncate(size); err != nil {
		return fmt.Errorf("%w: truncate %s to %d: %w", ErrIO, b.path, size, err)
	}

	return nil
}

// flush forces durable write of cached data.
func (b *backingFile) flush() error {
	if err := b.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", ErrIO, b.path, err)
	}

	return nil
}

// size returns the current file size.
func (b *backingFile) size() (int64, error) {
	info, err := b.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %w", ErrIO, b.path, err)
	}

	return info.Size(), nil
}

// copyTo flushes pending writes and produces a byte-identical copy of the
// backing file at dst. The Engine calls this while holding its mutex, so no
// other goroutine can mutate the file mid-copy (§4.1).
func (b *backingFile) copyTo(dst string) error {
	if err := b.flush(); err != nil {
		return err
	}

	if err := b.fsys.CopyFile(b.path, dst); err != nil {
		return fmt.Errorf("%w: backup %s to %s: %w", ErrIO, b.path, dst, err)
	}

	return nil
}

func (b *backingFile) close() error {
	if err := b.f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrIO, b.path, err)
	}

	return nil
}
