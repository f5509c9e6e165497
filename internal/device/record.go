package device

import (
	"crypto/sha1" //nolint:gosec // identifier derivation, not a security boundary
	"encoding/hex"
	"slices"
)

// Field names passed to change observers.
const (
	FieldPhysicalID    = "physical-id"
	FieldLogicalID     = "logical-id"
	FieldInstanceIDs   = "instance-ids"
	FieldVersion       = "version"
	FieldVersionFormat = "version-format"
	FieldVendor        = "vendor"
	FieldVendorIDs     = "vendor-ids"
	FieldProtocols     = "protocols"
	FieldSerial        = "serial"
	FieldName          = "name"
	FieldSummary       = "summary"
	FieldFlags         = "flags"
)

// ChangeFunc is called after a Record field changed.
// Observers run synchronously on the mutating goroutine and must not block.
type ChangeFunc func(field string)

// Record holds the identity and state of one hardware unit.
//
// Instance ids are append-only and every instance id has exactly one GUID
// derived from it. Fields are only replaced through the explicit setters or
// filled through Incorporate, which never overwrites a set field.
//
// Record is not safe for concurrent mutation; callers serialize operations
// on a single device.
type Record struct {
	physicalID    string
	logicalID     string
	instanceIDs   []string
	guids         []string
	version       string
	versionFormat VersionFormat
	vendor        string
	vendorIDs     []string
	protocols     []string
	serial        string
	name          string
	summary       string
	plugin        string
	flags         []Flag

	observers []ChangeFunc
}

// OnChange registers an observer that is invoked after every field change.
func (r *Record) OnChange(fn ChangeFunc) {
	if fn != nil {
		r.observers = append(r.observers, fn)
	}
}

func (r *Record) notify(field string) {
	for _, fn := range r.observers {
		fn(field)
	}
}

// ID returns the stable device id: the hex SHA-1 of "physical:logical",
// or of the physical id alone when no logical id is set. Two devices on
// the same kernel device (a mounted volume and its raw partition) differ
// by logical id. It is empty until a physical id has been set.
func (r *Record) ID() string {
	if r.physicalID == "" {
		return ""
	}
	key := r.physicalID
	if r.logicalID != "" {
		key += ":" + r.logicalID
	}
	sum := sha1.Sum([]byte(key)) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}

// PhysicalID returns the transport-scoped physical path.
func (r *Record) PhysicalID() string { return r.physicalID }

// SetPhysicalID sets the physical id.
func (r *Record) SetPhysicalID(id string) {
	if r.physicalID == id {
		return
	}
	r.physicalID = id
	r.notify(FieldPhysicalID)
}

// LogicalID returns the logical id, e.g. a mount point or partition name.
func (r *Record) LogicalID() string { return r.logicalID }

// SetLogicalID sets the logical id.
func (r *Record) SetLogicalID(id string) {
	if r.logicalID == id {
		return
	}
	r.logicalID = id
	r.notify(FieldLogicalID)
}

// InstanceIDs returns a copy of the instance ids in insertion order.
func (r *Record) InstanceIDs() []string { return slices.Clone(r.instanceIDs) }

// GUIDs returns a copy of the derived GUIDs in instance id order.
func (r *Record) GUIDs() []string { return slices.Clone(r.guids) }

// AddInstanceID appends an instance id and its GUID.
// Adding an id that is already present is a no-op.
func (r *Record) AddInstanceID(id string) {
	if id == "" || slices.Contains(r.instanceIDs, id) {
		return
	}
	r.instanceIDs = append(r.instanceIDs, id)
	if guid := GUIDFromString(id); !slices.Contains(r.guids, guid) {
		r.guids = append(r.guids, guid)
	}
	r.notify(FieldInstanceIDs)
}

// HasGUID reports whether guid was derived for this record.
func (r *Record) HasGUID(guid string) bool {
	return slices.Contains(r.guids, guid)
}

// Version returns the firmware version.
func (r *Record) Version() string { return r.version }

// SetVersion sets the firmware version.
func (r *Record) SetVersion(v string) {
	if r.version == v {
		return
	}
	r.version = v
	r.notify(FieldVersion)
}

// VersionFormat returns the version format.
func (r *Record) VersionFormat() VersionFormat { return r.versionFormat }

// SetVersionFormat sets the version format.
func (r *Record) SetVersionFormat(f VersionFormat) {
	if r.versionFormat == f {
		return
	}
	r.versionFormat = f
	r.notify(FieldVersionFormat)
}

// Vendor returns the vendor display name.
func (r *Record) Vendor() string { return r.vendor }

// SetVendor sets the vendor display name.
func (r *Record) SetVendor(v string) {
	if r.vendor == v {
		return
	}
	r.vendor = v
	r.notify(FieldVendor)
}

// VendorIDs returns a copy of the vendor ids.
func (r *Record) VendorIDs() []string { return slices.Clone(r.vendorIDs) }

// AddVendorID adds a vendor id such as "BLOCK:0x1234".
func (r *Record) AddVendorID(id string) {
	if id == "" || slices.Contains(r.vendorIDs, id) {
		return
	}
	r.vendorIDs = append(r.vendorIDs, id)
	r.notify(FieldVendorIDs)
}

// Protocols returns a copy of the update protocol ids.
func (r *Record) Protocols() []string { return slices.Clone(r.protocols) }

// AddProtocol adds an update protocol id, e.g. "com.microsoft.vfat".
func (r *Record) AddProtocol(p string) {
	if p == "" || slices.Contains(r.protocols, p) {
		return
	}
	r.protocols = append(r.protocols, p)
	r.notify(FieldProtocols)
}

// Serial returns the serial number.
func (r *Record) Serial() string { return r.serial }

// SetSerial sets the serial number.
func (r *Record) SetSerial(s string) {
	if r.serial == s {
		return
	}
	r.serial = s
	r.notify(FieldSerial)
}

// Name returns the display name.
func (r *Record) Name() string { return r.name }

// SetName sets the display name.
func (r *Record) SetName(n string) {
	if r.name == n {
		return
	}
	r.name = n
	r.notify(FieldName)
}

// Summary returns the one-line description.
func (r *Record) Summary() string { return r.summary }

// SetSummary sets the one-line description.
func (r *Record) SetSummary(s string) {
	if r.summary == s {
		return
	}
	r.summary = s
	r.notify(FieldSummary)
}

// Plugin returns the name of the plugin that created the device.
func (r *Record) Plugin() string { return r.plugin }

// SetPlugin sets the owning plugin name. It does not notify observers.
func (r *Record) SetPlugin(p string) { r.plugin = p }

// Flags returns a copy of the flag set.
func (r *Record) Flags() []Flag { return slices.Clone(r.flags) }

// HasFlag reports whether f is set.
func (r *Record) HasFlag(f Flag) bool { return slices.Contains(r.flags, f) }

// AddFlag sets f.
func (r *Record) AddFlag(f Flag) {
	if r.HasFlag(f) {
		return
	}
	r.flags = append(r.flags, f)
	r.notify(FieldFlags)
}

// RemoveFlag clears f.
func (r *Record) RemoveFlag(f Flag) {
	i := slices.Index(r.flags, f)
	if i < 0 {
		return
	}
	r.flags = slices.Delete(r.flags, i, i+1)
	r.notify(FieldFlags)
}

// Incorporate copies every field that is unset on r from donor.
// Fields already set on r are left untouched, so calling it again with the
// same donor does not change r.
func (r *Record) Incorporate(donor *Record) {
	if donor == nil || donor == r {
		return
	}
	if r.physicalID == "" {
		r.SetPhysicalID(donor.physicalID)
	}
	if r.logicalID == "" {
		r.SetLogicalID(donor.logicalID)
	}
	if len(r.instanceIDs) == 0 {
		for _, id := range donor.instanceIDs {
			r.AddInstanceID(id)
		}
	}
	if r.version == "" {
		r.SetVersion(donor.version)
	}
	if r.versionFormat == VersionFormatUnknown {
		r.SetVersionFormat(donor.versionFormat)
	}
	if r.vendor == "" {
		r.SetVendor(donor.vendor)
	}
	if len(r.vendorIDs) == 0 {
		for _, id := range donor.vendorIDs {
			r.AddVendorID(id)
		}
	}
	if len(r.protocols) == 0 {
		for _, p := range donor.protocols {
			r.AddProtocol(p)
		}
	}
	if r.serial == "" {
		r.SetSerial(donor.serial)
	}
	if r.name == "" {
		r.SetName(donor.name)
	}
	if r.summary == "" {
		r.SetSummary(donor.summary)
	}
	if r.plugin == "" {
		r.plugin = donor.plugin
	}
	if len(r.flags) == 0 {
		for _, f := range donor.flags {
			r.AddFlag(f)
		}
	}
}
