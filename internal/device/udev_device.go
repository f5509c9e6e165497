package device

import (
	"context"
	"os"
	"strings"

	"github.com/DylanVanAssche/fwupd/internal/fwerr"
	"github.com/DylanVanAssche/fwupd/internal/transport"
	"github.com/DylanVanAssche/fwupd/internal/udev"
)

// UdevDevice is the base for devices discovered through udev. It owns the
// environment properties of the kernel device and, between Open and Close,
// a file handle on its device node.
type UdevDevice struct {
	Base

	udev      *udev.Device
	file      *transport.File
	openFlags int
}

// NewUdevDevice returns a base for the kernel device u. The device node is
// opened read-write unless SetOpenFlags says otherwise.
func NewUdevDevice(u *udev.Device) UdevDevice {
	return UdevDevice{udev: u, openFlags: os.O_RDWR}
}

// Udev returns the kernel device, or nil when it is unknown.
func (d *UdevDevice) Udev() *udev.Device {
	return d.udev
}

// Property returns an environment property of the kernel device.
func (d *UdevDevice) Property(key string) (string, bool) {
	return d.udev.Property(key)
}

// DeviceFile returns the device node, e.g. /dev/sda1.
func (d *UdevDevice) DeviceFile() string {
	if d.udev == nil {
		return ""
	}
	return d.udev.DevNode
}

// SetOpenFlags sets the os.O_* flags used by Open.
func (d *UdevDevice) SetOpenFlags(flag int) {
	d.openFlags = flag
}

// File returns the open handle, or nil when the device is closed.
func (d *UdevDevice) File() *transport.File {
	return d.file
}

// Probe derives the physical id from DEVPATH.
func (d *UdevDevice) Probe(context.Context) error {
	devpath, ok := d.Property("DEVPATH")
	if !ok || devpath == "" {
		return fwerr.NotSupported("no DEVPATH property")
	}
	d.rec.SetPhysicalID("DEVPATH=" + devpath)
	return nil
}

// Open opens the device node.
func (d *UdevDevice) Open(context.Context) error {
	path := d.DeviceFile()
	if path == "" {
		return fwerr.Failed("no device file")
	}
	f, err := transport.OpenFile(path, d.openFlags)
	if err != nil {
		return err
	}
	d.file = f
	return nil
}

// Close closes the device node if it is open.
func (d *UdevDevice) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

// ToString renders the record followed by the kernel device details.
func (d *UdevDevice) ToString(sb *strings.Builder, indent int) {
	d.Base.ToString(sb, indent)
	if d.udev != nil {
		AppendKV(sb, indent, "Subsystem", d.udev.Subsystem)
		AppendKV(sb, indent, "DeviceFile", d.udev.DevNode)
	}
}

// Incorporate merges the record and adopts the donor's kernel device when
// this one has none.
func (d *UdevDevice) Incorporate(donor Device) {
	d.Base.Incorporate(donor)
	if d.udev != nil {
		return
	}
	if u, ok := donor.(interface{ Udev() *udev.Device }); ok {
		d.udev = u.Udev()
	}
}
