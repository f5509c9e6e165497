package dd

import (
	"github.com/DylanVanAssche/fwupd/internal/cmdline"
	"github.com/DylanVanAssche/fwupd/internal/udev"
)

// Discover returns a candidate for every block device udev reports as a
// partition. Candidates still have to be probed; most will be rejected.
func Discover(reader *udev.Reader, props cmdline.Source, opts ...Option) ([]*Partition, error) {
	devices, err := reader.EnumerateBlock()
	if err != nil {
		return nil, err
	}

	var parts []*Partition
	for _, u := range devices {
		if t, _ := u.Property("DEVTYPE"); t != "partition" {
			continue
		}
		parts = append(parts, NewPartition(u, props, opts...))
	}
	return parts, nil
}
