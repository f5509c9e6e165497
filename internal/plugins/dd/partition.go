// Package dd implements raw firmware updates of boot partitions on
// A/B partitioned devices such as phones running a mainline kernel.
//
// A partition is only offered for update when it belongs to the active
// boot slot. Version and serial are seeded from the kernel command line
// and can be redirected per device with the DdVersionArg and DdSerialArg
// quirks.
package dd

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/DylanVanAssche/fwupd/internal/cmdline"
	"github.com/DylanVanAssche/fwupd/internal/device"
	"github.com/DylanVanAssche/fwupd/internal/firmware"
	"github.com/DylanVanAssche/fwupd/internal/fwerr"
	"github.com/DylanVanAssche/fwupd/internal/transfer"
	"github.com/DylanVanAssche/fwupd/internal/udev"
)

// PluginName is recorded on every partition.
const PluginName = "dd"

// Protocol is the update protocol id of raw partitions.
const Protocol = "be.dylanvanassche.dd"

// legacyTypeSuffix follows the partition type in legacy instance ids.
const legacyTypeSuffix = "_E478-FA50"

// Quirk keys owned by partitions. DdVersionArg and DdSerialArg arrive
// already resolved against the boot properties.
const (
	QuirkVendor     = "DdVendor"
	QuirkVendorID   = "DdVendorId"
	QuirkVersionArg = "DdVersionArg"
	QuirkSerialArg  = "DdSerialArg"
)

// Dump bounds.
const (
	MaxDumpSize = 64 * 1024 * 1024
	ReadTimeout = 30 * time.Second
)

// Partition is one GPT partition written raw from offset zero.
type Partition struct {
	device.UdevDevice

	label    string
	bootSlot string
	typeUUID string

	engine *transfer.Engine
	logger Logger
}

// Logger is the logging interface used by partitions.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// Option configures a Partition.
type Option func(*Partition)

// WithEngine sets the transfer engine.
func WithEngine(e *transfer.Engine) Option {
	return func(p *Partition) {
		if e != nil {
			p.engine = e
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(p *Partition) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPartition creates a partition for the kernel device u. Boot slot,
// version and serial are taken from props when present; props may be nil.
func NewPartition(u *udev.Device, props cmdline.Source, opts ...Option) *Partition {
	p := &Partition{
		UdevDevice: device.NewUdevDevice(u),
		engine:     transfer.New(),
		logger:     noopLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}

	rec := p.Record()
	rec.SetPlugin(PluginName)
	rec.AddProtocol(Protocol)
	rec.SetVersionFormat(device.VersionFormatPlain)
	rec.AddFlag(device.FlagUpdatable)
	rec.AddFlag(device.FlagInternal)
	rec.AddFlag(device.FlagRequireAC)
	rec.AddFlag(device.FlagNeedsReboot)

	if props == nil {
		return p
	}
	if slot, ok := props.Lookup(cmdline.KeyBootSlot); ok && slot != "" {
		p.bootSlot = slot
		p.logger.Info("found A/B partitioning scheme", "boot_slot", slot)
	}
	if v, ok := props.Lookup(cmdline.KeyABLVersion); ok && v != "" {
		rec.SetVersion(v)
	}
	if s, ok := props.Lookup(cmdline.KeySerial); ok && s != "" {
		rec.SetSerial(s)
	}
	return p
}

// Label returns the partition label, e.g. "abl_a".
func (p *Partition) Label() string { return p.label }

// BootSlot returns the active boot slot suffix, e.g. "_a", or "".
func (p *Partition) BootSlot() string { return p.bootSlot }

// TypeUUID returns the GPT partition type.
func (p *Partition) TypeUUID() string { return p.typeUUID }

// Probe reads the partition label and type and derives
//
//	DRIVE\UUID_<type>
//	DRIVE\UUID_<type>&LABEL_<label>
//	DRIVE\UUID_<type>&LABEL_<label>&SLOT_<slot>
//
// followed by the legacy ids, see legacyInstanceIDs.
//
// Partitions without a type, and partitions of the inactive slot, are not
// supported.
func (p *Partition) Probe(ctx context.Context) error {
	if err := p.UdevDevice.Probe(ctx); err != nil {
		return err
	}

	p.label, _ = p.Property("ID_PART_ENTRY_NAME")
	p.typeUUID, _ = p.Property("ID_PART_ENTRY_TYPE")
	if p.typeUUID == "" {
		return fwerr.NotSupported("no partition type")
	}
	if p.bootSlot != "" && !strings.HasSuffix(p.label, p.bootSlot) {
		return fwerr.NotSupported("device is on a different bootslot")
	}

	rec := p.Record()
	if p.label != "" {
		rec.SetLogicalID(p.label)
		if rec.Name() == "" {
			rec.SetName(p.label)
		}
	}
	device.NewInstanceIDBuilder("DRIVE").
		Add("UUID", p.typeUUID).
		Add("LABEL", p.label).
		Add("SLOT", p.bootSlot).
		Apply(rec)
	for _, id := range p.legacyInstanceIDs() {
		rec.AddInstanceID(id)
	}

	p.logger.Debug("partition probed", "label", p.label, "type", p.typeUUID)
	return nil
}

// legacyInstanceIDs returns the ids published metadata for these
// partitions was written against:
//
//	DRIVE\<type>_E478-FA50
//	DRIVE\<type>_E478-FA50&LABEL=<label>
//	DRIVE\<type>_E478-FA50&LABEL=<label>&SLOT=<slot>
//
// They do not follow the KEY_value grammar and are added after the
// builder ids so both kinds of quirk entries match.
func (p *Partition) legacyInstanceIDs() []string {
	base := `DRIVE\` + p.typeUUID + legacyTypeSuffix
	ids := []string{base}
	if p.label == "" {
		return ids
	}
	ids = append(ids, base+"&LABEL="+p.label)
	if p.bootSlot != "" {
		ids = append(ids, base+"&LABEL="+p.label+"&SLOT="+p.bootSlot)
	}
	return ids
}

// Setup falls back to device.UnknownVersion when neither the boot
// properties nor a quirk supplied a version.
func (p *Partition) Setup(context.Context) error {
	rec := p.Record()
	if rec.Version() == "" {
		p.logger.Info("no version information available", "label", p.label)
		rec.SetVersion(device.UnknownVersion)
	}
	return nil
}

// WriteFirmware writes the payload to the partition from offset zero.
func (p *Partition) WriteFirmware(ctx context.Context, fw firmware.Firmware, progress transfer.ProgressCallback) error {
	blob, err := fw.Bytes()
	if err != nil {
		return fwerr.Reclassify(fwerr.ErrReadError, err, "getting firmware payload")
	}
	f := p.File()
	if f == nil {
		return fwerr.Failed("device %s is not open", p.DeviceFile())
	}
	if size, err := f.Size(); err == nil && size > 0 && int64(len(blob)) > size {
		return fwerr.Failed("firmware is %d bytes, partition %s holds %d", len(blob), p.label, size)
	}

	eng := p.engine.With(transfer.WithProgressCallback(progress))
	if err := eng.Write(ctx, f, blob, 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fwerr.Reclassify(fwerr.ErrFailed, err, "syncing "+f.Path())
	}
	return nil
}

// DumpFirmware reads the partition back, at most MaxDumpSize bytes.
func (p *Partition) DumpFirmware(ctx context.Context, progress transfer.ProgressCallback) ([]byte, error) {
	f := p.File()
	if f == nil {
		return nil, fwerr.Failed("device %s is not open", p.DeviceFile())
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fwerr.Reclassify(fwerr.ErrReadError, err, "rewinding "+f.Path())
	}

	limit := MaxDumpSize
	if size, err := f.Size(); err == nil && size > 0 && size < int64(limit) {
		limit = int(size)
	}
	eng := p.engine.With(transfer.WithProgressCallback(progress))
	return eng.Read(ctx, f, limit, ReadTimeout)
}

// SetQuirkKV handles the partition keys and defers everything else to the
// common keys.
func (p *Partition) SetQuirkKV(key, value string) error {
	rec := p.Record()
	switch key {
	case QuirkVendor:
		rec.SetVendor(value)
	case QuirkVendorID:
		rec.AddVendorID(value)
	case QuirkVersionArg:
		rec.SetVersion(value)
	case QuirkSerialArg:
		rec.SetSerial(value)
	default:
		return p.UdevDevice.SetQuirkKV(key, value)
	}
	return nil
}

// ToString adds the partition fields.
func (p *Partition) ToString(sb *strings.Builder, indent int) {
	p.UdevDevice.ToString(sb, indent)
	device.AppendKV(sb, indent, "BootSlot", p.bootSlot)
	device.AppendKV(sb, indent, "Label", p.label)
	device.AppendKV(sb, indent, "TypeUuid", p.typeUUID)
}

// Incorporate fills unset partition fields from a donor partition.
func (p *Partition) Incorporate(donor device.Device) {
	p.UdevDevice.Incorporate(donor)
	other, ok := donor.(*Partition)
	if !ok || other == nil {
		return
	}
	if p.label == "" {
		p.label = other.label
	}
	if p.typeUUID == "" {
		p.typeUUID = other.typeUUID
	}
	if p.bootSlot == "" {
		p.bootSlot = other.bootSlot
	}
}
