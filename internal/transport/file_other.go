//go:build !linux

package transport

import (
	"io"
	"os"
)

func blockDeviceSize(f *os.File) (int64, error) {
	return f.Seek(0, io.SeekEnd)
}

func syncData(f *os.File) error {
	return f.Sync()
}
