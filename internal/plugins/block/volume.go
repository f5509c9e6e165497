// Package block implements firmware updates for devices that expose a
// mass-storage volume, typically FAT32, and pick up a firmware file
// written to it.
package block

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/DylanVanAssche/fwupd/internal/device"
	"github.com/DylanVanAssche/fwupd/internal/firmware"
	"github.com/DylanVanAssche/fwupd/internal/fwerr"
	"github.com/DylanVanAssche/fwupd/internal/transfer"
	"github.com/DylanVanAssche/fwupd/internal/transport"
	"github.com/DylanVanAssche/fwupd/internal/udev"
)

// PluginName is recorded on every volume.
const PluginName = "block"

// Protocol is the update protocol id of volumes.
const Protocol = "com.microsoft.vfat"

// QuirkFilename names the file the firmware is written to.
const QuirkFilename = "BlockDeviceFilename"

// Dump bounds.
const (
	MaxDumpSize = 16 * 1024 * 1024
	ReadTimeout = 15 * time.Second
)

// Volume is a mounted filesystem that accepts firmware as a file.
//
// The logical id is the mount point. Writing requires both the mount point
// and a filename, which usually comes from the BlockDeviceFilename quirk.
type Volume struct {
	device.UdevDevice

	uuid     string
	label    string
	filename string

	engine *transfer.Engine
	usage  func(ctx context.Context, path string) (*disk.UsageStat, error)
}

// Option configures a Volume.
type Option func(*Volume)

// WithEngine sets the transfer engine used for writes and dumps.
func WithEngine(e *transfer.Engine) Option {
	return func(v *Volume) {
		if e != nil {
			v.engine = e
		}
	}
}

// WithFilename presets the firmware filename.
func WithFilename(name string) Option {
	return func(v *Volume) {
		v.filename = name
	}
}

// NewVolume creates a volume for the kernel device u mounted at mountpoint.
func NewVolume(u *udev.Device, mountpoint string, opts ...Option) *Volume {
	v := &Volume{
		UdevDevice: device.NewUdevDevice(u),
		engine:     transfer.New(),
		usage:      disk.UsageWithContext,
	}
	for _, opt := range opts {
		opt(v)
	}

	rec := v.Record()
	rec.SetPlugin(PluginName)
	rec.SetLogicalID(mountpoint)
	rec.AddProtocol(Protocol)
	rec.AddFlag(device.FlagUpdatable)
	rec.AddFlag(device.FlagCanVerifyImage)
	return v
}

// UUID returns the filesystem UUID, e.g. "E478-FA50".
func (v *Volume) UUID() string { return v.uuid }

// SetUUID sets the filesystem UUID.
func (v *Volume) SetUUID(uuid string) { v.uuid = uuid }

// Label returns the filesystem label.
func (v *Volume) Label() string { return v.label }

// SetLabel sets the filesystem label.
func (v *Volume) SetLabel(label string) { v.label = label }

// Filename returns the name of the firmware file on the volume.
func (v *Volume) Filename() string { return v.filename }

// SetFilename sets the name of the firmware file on the volume.
func (v *Volume) SetFilename(name string) { v.filename = name }

// Probe reads the filesystem UUID and label and derives the instance ids
// BLOCK\UUID_<uuid> and BLOCK\UUID_<uuid>&LABEL_<label>.
func (v *Volume) Probe(ctx context.Context) error {
	if err := v.UdevDevice.Probe(ctx); err != nil {
		return err
	}
	if v.uuid == "" {
		v.uuid, _ = v.Property("ID_FS_UUID")
	}
	if v.label == "" {
		v.label, _ = v.Property("ID_FS_LABEL")
	}
	if v.uuid == "" {
		return fwerr.NotSupported("no filesystem UUID")
	}

	rec := v.Record()
	if rec.Name() == "" && v.label != "" {
		rec.SetName(v.label)
	}
	device.NewInstanceIDBuilder("BLOCK").
		Add("UUID", v.uuid).
		Add("LABEL", v.label).
		Apply(rec)
	return nil
}

// Open checks that the volume is still mounted. The firmware file itself
// is opened per transfer.
func (v *Volume) Open(context.Context) error {
	mnt := v.Record().LogicalID()
	if mnt == "" {
		return fwerr.Failed("no mount point")
	}
	fi, err := os.Stat(mnt)
	if err != nil {
		return fwerr.Reclassify(fwerr.ErrFailed, err, "checking mount point")
	}
	if !fi.IsDir() {
		return fwerr.Failed("mount point %s is not a directory", mnt)
	}
	return nil
}

// Close has nothing to release.
func (v *Volume) Close() error {
	return nil
}

// path returns the firmware file path or a Failed error when the mount
// point or filename is missing.
func (v *Volume) path() (string, error) {
	mnt := v.Record().LogicalID()
	if mnt == "" || v.filename == "" {
		return "", fwerr.Failed("no valid path")
	}
	return filepath.Join(mnt, v.filename), nil
}

// WriteFirmware writes the payload to <mount point>/<filename>.
func (v *Volume) WriteFirmware(ctx context.Context, fw firmware.Firmware, progress transfer.ProgressCallback) error {
	blob, err := fw.Bytes()
	if err != nil {
		return fwerr.Reclassify(fwerr.ErrReadError, err, "getting firmware payload")
	}
	path, err := v.path()
	if err != nil {
		return err
	}

	if err := v.checkSpace(ctx, len(blob)); err != nil {
		return err
	}

	f, err := transport.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck // Sync reports write-back errors

	eng := v.engine.With(transfer.WithProgressCallback(progress))
	if err := eng.Write(ctx, f, blob, 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fwerr.Reclassify(fwerr.ErrFailed, err, "syncing "+path)
	}
	return nil
}

// checkSpace fails when the volume cannot hold size more bytes. A volume
// whose usage cannot be queried is not rejected.
func (v *Volume) checkSpace(ctx context.Context, size int) error {
	if v.usage == nil {
		return nil
	}
	stat, err := v.usage(ctx, v.Record().LogicalID())
	if err != nil {
		return nil //nolint:nilerr // best effort
	}
	if stat.Free < uint64(size) { //nolint:gosec // size is a slice length
		return fwerr.Failed("%d bytes free on %s, firmware needs %d", stat.Free, stat.Path, size)
	}
	return nil
}

// DumpFirmware reads the firmware file back, at most MaxDumpSize bytes.
func (v *Volume) DumpFirmware(ctx context.Context, progress transfer.ProgressCallback) ([]byte, error) {
	path, err := v.path()
	if err != nil {
		return nil, err
	}
	f, err := transport.OpenFile(path, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // read-only

	eng := v.engine.With(transfer.WithProgressCallback(progress))
	return eng.Read(ctx, f, MaxDumpSize, ReadTimeout)
}

// SetQuirkKV handles BlockDeviceFilename and defers everything else to
// the common keys.
func (v *Volume) SetQuirkKV(key, value string) error {
	if key == QuirkFilename {
		if value == "" || strings.ContainsAny(value, `/\`) {
			return fmt.Errorf("%w: filename %q", device.ErrInvalidQuirkValue, value)
		}
		v.filename = value
		return nil
	}
	return v.UdevDevice.SetQuirkKV(key, value)
}

// ToString adds the volume fields.
func (v *Volume) ToString(sb *strings.Builder, indent int) {
	v.UdevDevice.ToString(sb, indent)
	device.AppendKV(sb, indent, "Uuid", v.uuid)
	device.AppendKV(sb, indent, "Label", v.label)
	device.AppendKV(sb, indent, "Filename", v.filename)
}

// Incorporate fills unset volume fields from a donor volume.
func (v *Volume) Incorporate(donor device.Device) {
	v.UdevDevice.Incorporate(donor)
	other, ok := donor.(*Volume)
	if !ok || other == nil {
		return
	}
	if v.uuid == "" {
		v.uuid = other.uuid
	}
	if v.label == "" {
		v.label = other.label
	}
	if v.filename == "" {
		v.filename = other.filename
	}
}
