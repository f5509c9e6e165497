package device

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Snapshot is the persisted form of a Record. It is what the history
// repository keeps for devices that have been removed so that a replugged
// unit can incorporate the state it had before.
type Snapshot struct {
	ID            string   `cbor:"1,keyasint"`
	PhysicalID    string   `cbor:"2,keyasint"`
	LogicalID     string   `cbor:"3,keyasint,omitempty"`
	InstanceIDs   []string `cbor:"4,keyasint,omitempty"`
	Version       string   `cbor:"5,keyasint,omitempty"`
	VersionFormat string   `cbor:"6,keyasint,omitempty"`
	Vendor        string   `cbor:"7,keyasint,omitempty"`
	VendorIDs     []string `cbor:"8,keyasint,omitempty"`
	Protocols     []string `cbor:"9,keyasint,omitempty"`
	Serial        string   `cbor:"10,keyasint,omitempty"`
	Name          string   `cbor:"11,keyasint,omitempty"`
	Summary       string   `cbor:"12,keyasint,omitempty"`
	Plugin        string   `cbor:"13,keyasint,omitempty"`
	Flags         []string `cbor:"14,keyasint,omitempty"`

	// Bookkeeping, stored in their own columns rather than the blob.
	FirstSeen time.Time  `cbor:"-"`
	LastSeen  time.Time  `cbor:"-"`
	RemovedAt *time.Time `cbor:"-"`
}

var (
	snapshotEncMode cbor.EncMode
	snapshotDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}
	snapshotEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("device: snapshot CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyQuiet,
	}
	snapshotDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("device: snapshot CBOR decoder mode: %v", err))
	}
}

// SnapshotOf captures the persisted fields of rec.
func SnapshotOf(rec *Record) *Snapshot {
	flags := make([]string, len(rec.flags))
	for i, f := range rec.flags {
		flags[i] = string(f)
	}
	return &Snapshot{
		ID:            rec.ID(),
		PhysicalID:    rec.physicalID,
		LogicalID:     rec.logicalID,
		InstanceIDs:   rec.InstanceIDs(),
		Version:       rec.version,
		VersionFormat: string(rec.versionFormat),
		Vendor:        rec.vendor,
		VendorIDs:     rec.VendorIDs(),
		Protocols:     rec.Protocols(),
		Serial:        rec.serial,
		Name:          rec.name,
		Summary:       rec.summary,
		Plugin:        rec.plugin,
		Flags:         flags,
	}
}

// Record rebuilds a detached Record. GUIDs are derived again from the
// instance ids; unknown flags and version formats are dropped.
func (s *Snapshot) Record() *Record {
	rec := &Record{
		physicalID: s.PhysicalID,
		logicalID:  s.LogicalID,
		version:    s.Version,
		vendor:     s.Vendor,
		serial:     s.Serial,
		name:       s.Name,
		summary:    s.Summary,
		plugin:     s.Plugin,
	}
	if f, ok := ParseVersionFormat(s.VersionFormat); ok {
		rec.versionFormat = f
	}
	for _, id := range s.InstanceIDs {
		rec.AddInstanceID(id)
	}
	for _, id := range s.VendorIDs {
		rec.AddVendorID(id)
	}
	for _, p := range s.Protocols {
		rec.AddProtocol(p)
	}
	for _, f := range s.Flags {
		if ValidFlag(Flag(f)) {
			rec.AddFlag(Flag(f))
		}
	}
	return rec
}

// MarshalSnapshot encodes the record fields of s as canonical CBOR.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return snapshotEncMode.Marshal(s)
}

// UnmarshalSnapshot decodes data produced by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := snapshotDecMode.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &s, nil
}
