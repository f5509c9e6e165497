//go:build linux

package transport

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// blockDeviceSize asks the kernel for the size of a block device node.
func blockDeviceSize(f *os.File) (int64, error) {
	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, fmt.Errorf("BLKGETSIZE64 %s: %w", f.Name(), err)
	}
	return int64(size), nil
}

// syncData flushes file data without forcing a metadata update.
func syncData(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
