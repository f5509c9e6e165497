package device

import (
	"context"
	"fmt"
	"strings"

	"github.com/DylanVanAssche/fwupd/internal/firmware"
	"github.com/DylanVanAssche/fwupd/internal/fwerr"
	"github.com/DylanVanAssche/fwupd/internal/transfer"
)

// Device is the operation set every device variant conforms to.
//
// Variants embed Base (or another base such as UdevDevice) and override the
// operations they implement. Operations that are not overridden fall back to
// the embedded default. A variant that needs the base behaviour as well calls
// it explicitly, e.g. d.UdevDevice.Probe(ctx), there is no implicit chaining.
type Device interface {
	// Record returns the identity and state of the device.
	Record() *Record

	// Probe inspects environment-supplied properties and populates the
	// instance ids. It never touches the hardware.
	Probe(ctx context.Context) error

	// Setup resolves the final version and version format.
	Setup(ctx context.Context) error

	// Open acquires the transport handle.
	Open(ctx context.Context) error

	// Close releases the transport handle.
	Close() error

	// WriteFirmware transfers the payload of fw to the device.
	WriteFirmware(ctx context.Context, fw firmware.Firmware, progress transfer.ProgressCallback) error

	// DumpFirmware reads the current firmware back from the device.
	DumpFirmware(ctx context.Context, progress transfer.ProgressCallback) ([]byte, error)

	// ToString appends a Key: value diagnostic dump at the given indent.
	ToString(sb *strings.Builder, indent int)

	// Incorporate copies every unset field from donor.
	Incorporate(donor Device)

	// SetQuirkKV applies one quirk. Keys the device does not own fail with
	// fwerr.ErrNotSupported.
	SetQuirkKV(key, value string) error
}

// Quirk keys understood by every device.
const (
	QuirkName          = "Name"
	QuirkSummary       = "Summary"
	QuirkVendor        = "Vendor"
	QuirkVendorID      = "VendorId"
	QuirkFlags         = "Flags"
	QuirkProtocol      = "Protocol"
	QuirkVersionFormat = "VersionFormat"
)

// Base provides the default implementation of every Device operation.
// The zero value is ready to use.
type Base struct {
	rec Record
}

// Record returns the device record.
func (b *Base) Record() *Record {
	return &b.rec
}

// Probe succeeds without inspecting anything.
func (b *Base) Probe(context.Context) error {
	return nil
}

// Setup succeeds without changes.
func (b *Base) Setup(context.Context) error {
	return nil
}

// Open succeeds without acquiring anything.
func (b *Base) Open(context.Context) error {
	return nil
}

// Close succeeds without releasing anything.
func (b *Base) Close() error {
	return nil
}

// WriteFirmware is not supported by devices that do not override it.
func (b *Base) WriteFirmware(context.Context, firmware.Firmware, transfer.ProgressCallback) error {
	return fwerr.NotSupported("writing firmware is not supported")
}

// DumpFirmware is not supported by devices that do not override it.
func (b *Base) DumpFirmware(context.Context, transfer.ProgressCallback) ([]byte, error) {
	return nil, fwerr.NotSupported("dumping firmware is not supported")
}

// ToString renders the record fields. Unset fields are omitted.
func (b *Base) ToString(sb *strings.Builder, indent int) {
	r := &b.rec
	AppendKV(sb, indent, "DeviceId", r.ID())
	AppendKV(sb, indent, "Name", r.name)
	AppendKV(sb, indent, "Summary", r.summary)
	AppendKV(sb, indent, "Plugin", r.plugin)
	AppendKV(sb, indent, "PhysicalId", r.physicalID)
	AppendKV(sb, indent, "LogicalId", r.logicalID)
	for i, id := range r.instanceIDs {
		AppendKV(sb, indent, "InstanceId", id)
		if i < len(r.guids) {
			AppendKV(sb, indent+1, "Guid", r.guids[i])
		}
	}
	AppendKV(sb, indent, "Vendor", r.vendor)
	for _, id := range r.vendorIDs {
		AppendKV(sb, indent, "VendorId", id)
	}
	for _, p := range r.protocols {
		AppendKV(sb, indent, "Protocol", p)
	}
	AppendKV(sb, indent, "Serial", r.serial)
	AppendKV(sb, indent, "Version", r.version)
	AppendKV(sb, indent, "VersionFormat", string(r.versionFormat))
	if len(r.flags) > 0 {
		names := make([]string, len(r.flags))
		for i, f := range r.flags {
			names[i] = string(f)
		}
		AppendKV(sb, indent, "Flags", strings.Join(names, "|"))
	}
}

// Incorporate merges the donor record into this one.
func (b *Base) Incorporate(donor Device) {
	if donor == nil {
		return
	}
	b.rec.Incorporate(donor.Record())
}

// SetQuirkKV handles the quirk keys shared by all devices.
func (b *Base) SetQuirkKV(key, value string) error {
	switch key {
	case QuirkName:
		b.rec.SetName(value)
	case QuirkSummary:
		b.rec.SetSummary(value)
	case QuirkVendor:
		b.rec.SetVendor(value)
	case QuirkVendorID:
		b.rec.AddVendorID(value)
	case QuirkProtocol:
		b.rec.AddProtocol(value)
	case QuirkVersionFormat:
		f, ok := ParseVersionFormat(value)
		if !ok {
			return fmt.Errorf("%w: version format %q", ErrInvalidQuirkValue, value)
		}
		b.rec.SetVersionFormat(f)
	case QuirkFlags:
		return applyFlags(&b.rec, value)
	default:
		return fwerr.NotSupported("quirk key %s not supported", key)
	}
	return nil
}

// applyFlags parses a comma separated flag list. A leading "~" clears the flag.
func applyFlags(rec *Record, value string) error {
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		remove := strings.HasPrefix(item, "~")
		f := Flag(strings.TrimPrefix(item, "~"))
		if !ValidFlag(f) {
			return fmt.Errorf("%w: flag %q", ErrInvalidQuirkValue, f)
		}
		if remove {
			rec.RemoveFlag(f)
		} else {
			rec.AddFlag(f)
		}
	}
	return nil
}

// keyColumn is the column values are aligned to in ToString output.
const keyColumn = 24

// AppendKV appends "Key: value" at indent, two spaces per level.
// Empty values are omitted.
func AppendKV(sb *strings.Builder, indent int, key, value string) {
	if value == "" {
		return
	}
	prefix := strings.Repeat("  ", indent) + key + ":"
	sb.WriteString(prefix)
	if pad := keyColumn - len(prefix); pad > 0 {
		sb.WriteString(strings.Repeat(" ", pad))
	} else {
		sb.WriteByte(' ')
	}
	sb.WriteString(value)
	sb.WriteByte('\n')
}

// String renders a complete diagnostic dump of d.
func String(d Device) string {
	var sb strings.Builder
	title := d.Record().Name()
	if title == "" {
		title = d.Record().ID()
	}
	sb.WriteString(title)
	sb.WriteByte('\n')
	d.ToString(&sb, 1)
	return sb.String()
}
