// Package firmware supplies firmware payloads to devices.
//
// Archive extraction and signature checks happen before a payload reaches
// this package; a Firmware only has to hand out its bytes.
package firmware

import (
	"errors"
	"fmt"
	"os"
)

// ErrEmpty is returned for a payload without any bytes.
var ErrEmpty = errors.New("firmware: empty payload")

// Firmware yields the immutable payload of one firmware image.
type Firmware interface {
	Bytes() ([]byte, error)
}

// Blob is an in-memory payload.
type Blob []byte

// Bytes returns the payload.
func (b Blob) Bytes() ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrEmpty
	}
	return b, nil
}

// File is a payload read lazily from disk.
type File struct {
	Path    string
	MaxSize int64
}

// FromFile returns a payload backed by path. maxSize of zero disables the
// size limit.
func FromFile(path string, maxSize int64) *File {
	return &File{Path: path, MaxSize: maxSize}
}

// Bytes reads the file.
func (f *File) Bytes() ([]byte, error) {
	fi, err := os.Stat(f.Path)
	if err != nil {
		return nil, fmt.Errorf("firmware: %w", err)
	}
	if f.MaxSize > 0 && fi.Size() > f.MaxSize {
		return nil, fmt.Errorf("firmware: %s is %d bytes, limit is %d", f.Path, fi.Size(), f.MaxSize)
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("firmware: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return data, nil
}
