package block

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/DylanVanAssche/fwupd/internal/udev"
)

// Filesystem is the filesystem type volumes are discovered for.
const Filesystem = "vfat"

// PartitionLister lists mounted partitions, see disk.PartitionsWithContext.
type PartitionLister func(ctx context.Context, all bool) ([]disk.PartitionStat, error)

// Discoverer finds mounted volumes and pairs them with their kernel device.
type Discoverer struct {
	Reader     *udev.Reader
	Partitions PartitionLister
	Options    []Option
}

// NewDiscoverer returns a discoverer for the live system.
func NewDiscoverer(reader *udev.Reader, opts ...Option) *Discoverer {
	return &Discoverer{
		Reader:     reader,
		Partitions: disk.PartitionsWithContext,
		Options:    opts,
	}
}

// Discover returns one volume per mounted vfat partition. Mounts whose
// device is not a block device known to udev are skipped; the same
// device mounted twice is returned once, at its first mount point.
func (d *Discoverer) Discover(ctx context.Context) ([]*Volume, error) {
	parts, err := d.Partitions(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("listing partitions: %w", err)
	}

	seen := make(map[string]bool)
	var volumes []*Volume
	for _, p := range parts {
		if p.Fstype != Filesystem || seen[p.Device] {
			continue
		}
		u, err := d.Reader.Block(p.Device)
		if errors.Is(err, udev.ErrNoSuchDevice) {
			continue
		}
		if err != nil {
			return nil, err
		}
		seen[p.Device] = true
		volumes = append(volumes, NewVolume(u, p.Mountpoint, d.Options...))
	}
	return volumes, nil
}
