// Package transport provides the byte-addressable handles devices write
// firmware to: raw files and block device nodes, and Bluetooth GATT
// characteristics.
package transport

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/DylanVanAssche/fwupd/internal/fwerr"
)

// ErrClosed is returned when a closed handle is used.
var ErrClosed = errors.New("transport: handle closed")

// File is a positioned read/write handle on a regular file or block device.
type File struct {
	f    *os.File
	path string
}

// OpenFile opens path with the given os.O_* flags.
//
// Permission denied is reported as fwerr.ErrNotSupported so the caller can
// skip the device or retry with elevated privileges; other failures are
// returned as fwerr.ErrFailed. Both keep the cause in the chain.
func OpenFile(path string, flag int) (*File, error) {
	f, err := os.OpenFile(path, flag, 0o644) //nolint:gosec // device node or volume path
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fwerr.Reclassify(fwerr.ErrNotSupported, err, "opening "+path)
		}
		return nil, fwerr.Reclassify(fwerr.ErrFailed, err, "opening "+path)
	}
	return &File{f: f, path: path}, nil
}

// Path returns the path the handle was opened with.
func (t *File) Path() string {
	return t.path
}

// Seek implements io.Seeker.
func (t *File) Seek(offset int64, whence int) (int64, error) {
	if t.f == nil {
		return 0, ErrClosed
	}
	return t.f.Seek(offset, whence)
}

// Read implements io.Reader.
func (t *File) Read(p []byte) (int, error) {
	if t.f == nil {
		return 0, ErrClosed
	}
	return t.f.Read(p)
}

// WriteAt implements io.WriterAt. A short write is reported as an error.
func (t *File) WriteAt(p []byte, off int64) (int, error) {
	if t.f == nil {
		return 0, ErrClosed
	}
	n, err := t.f.WriteAt(p, off)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

// Size returns the size of the file or block device in bytes.
func (t *File) Size() (int64, error) {
	if t.f == nil {
		return 0, ErrClosed
	}
	fi, err := t.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", t.path, err)
	}
	if fi.Mode()&fs.ModeDevice != 0 {
		return blockDeviceSize(t.f)
	}
	return fi.Size(), nil
}

// Sync flushes written data to stable storage.
func (t *File) Sync() error {
	if t.f == nil {
		return ErrClosed
	}
	return syncData(t.f)
}

// Close releases the handle. Closing twice is a no-op.
func (t *File) Close() error {
	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f = nil
	return err
}
