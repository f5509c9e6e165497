package device

import (
	"slices"
	"testing"
)

func TestRecord_ID(t *testing.T) {
	var rec Record
	if rec.ID() != "" {
		t.Errorf("ID() without physical id = %q, want empty", rec.ID())
	}
	rec.SetPhysicalID("DEVPATH=/devices/sda1")
	id := rec.ID()
	if len(id) != 40 {
		t.Errorf("ID() = %q, want 40 hex characters", id)
	}

	var other Record
	other.SetPhysicalID("DEVPATH=/devices/sda1")
	if other.ID() != id {
		t.Error("ID() differs for the same physical id")
	}
}

func TestRecord_ID_LogicalID(t *testing.T) {
	tests := []struct {
		name      string
		physical  string
		logical   string
		wantEqual bool
	}{
		{"same physical and logical", "DEVPATH=/devices/sda1", "/mnt/fw", true},
		{"different logical", "DEVPATH=/devices/sda1", "EFI", false},
		{"no logical", "DEVPATH=/devices/sda1", "", false},
		{"different physical", "DEVPATH=/devices/sda2", "/mnt/fw", false},
	}

	var base Record
	base.SetPhysicalID("DEVPATH=/devices/sda1")
	base.SetLogicalID("/mnt/fw")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec Record
			rec.SetPhysicalID(tt.physical)
			rec.SetLogicalID(tt.logical)
			if got := rec.ID() == base.ID(); got != tt.wantEqual {
				t.Errorf("ID() equal = %v, want %v (%s vs %s)", got, tt.wantEqual, rec.ID(), base.ID())
			}
		})
	}
}

func TestRecord_AddInstanceID_AppendOnly(t *testing.T) {
	var rec Record
	var changes []string
	rec.OnChange(func(field string) { changes = append(changes, field) })

	rec.AddInstanceID("A")
	rec.AddInstanceID("B")
	rec.AddInstanceID("A")
	rec.AddInstanceID("")

	if got := rec.InstanceIDs(); !slices.Equal(got, []string{"A", "B"}) {
		t.Errorf("InstanceIDs() = %v, want [A B]", got)
	}
	if len(rec.GUIDs()) != 2 {
		t.Errorf("GUIDs() = %v, want 2 entries", rec.GUIDs())
	}
	if !rec.HasGUID(GUIDFromString("B")) {
		t.Error("HasGUID() = false for derived GUID")
	}
	if len(changes) != 2 {
		t.Errorf("observer called %d times, want 2", len(changes))
	}
}

func TestRecord_SettersNotifyOnlyOnChange(t *testing.T) {
	var rec Record
	var changes []string
	rec.OnChange(func(field string) { changes = append(changes, field) })

	rec.SetVersion("1.0")
	rec.SetVersion("1.0")
	rec.SetName("Volume")
	rec.AddFlag(FlagUpdatable)
	rec.AddFlag(FlagUpdatable)
	rec.RemoveFlag(FlagInternal)
	rec.RemoveFlag(FlagUpdatable)

	want := []string{FieldVersion, FieldName, FieldFlags, FieldFlags}
	if !slices.Equal(changes, want) {
		t.Errorf("changes = %v, want %v", changes, want)
	}
}

func donorRecord() *Record {
	d := &Record{}
	d.SetPhysicalID("DEVPATH=/devices/sda1")
	d.SetLogicalID("/mnt/fw")
	d.AddInstanceID(`BLOCK\UUID_1`)
	d.SetVersion("2.0")
	d.SetVersionFormat(VersionFormatTriplet)
	d.SetVendor("Acme")
	d.AddVendorID("BLOCK:0x1234")
	d.AddProtocol("com.microsoft.vfat")
	d.SetSerial("S1")
	d.SetName("Donor")
	d.SetSummary("summary")
	d.SetPlugin("block")
	d.AddFlag(FlagUpdatable)
	return d
}

func TestRecord_Incorporate(t *testing.T) {
	rec := &Record{}
	rec.SetName("Self")
	rec.SetVersion("1.0")

	donor := donorRecord()
	rec.Incorporate(donor)

	if rec.Name() != "Self" || rec.Version() != "1.0" {
		t.Errorf("set fields were overwritten: name=%q version=%q", rec.Name(), rec.Version())
	}
	if rec.Vendor() != "Acme" || rec.Serial() != "S1" || rec.LogicalID() != "/mnt/fw" || rec.Plugin() != "block" {
		t.Errorf("unset fields not copied: %+v", SnapshotOf(rec))
	}
	if !rec.HasFlag(FlagUpdatable) || rec.VersionFormat() != VersionFormatTriplet {
		t.Error("flags or version format not copied")
	}
	if !slices.Equal(rec.InstanceIDs(), donor.InstanceIDs()) || !slices.Equal(rec.GUIDs(), donor.GUIDs()) {
		t.Error("instance ids not copied")
	}
}

func TestRecord_Incorporate_Idempotent(t *testing.T) {
	donor := donorRecord()

	once := &Record{}
	once.SetSerial("mine")
	once.Incorporate(donor)

	twice := &Record{}
	twice.SetSerial("mine")
	twice.Incorporate(donor)
	twice.Incorporate(donor)

	a, b := SnapshotOf(once), SnapshotOf(twice)
	if a.Serial != "mine" || a.Name != b.Name || !slices.Equal(a.InstanceIDs, b.InstanceIDs) ||
		!slices.Equal(a.Flags, b.Flags) || !slices.Equal(a.VendorIDs, b.VendorIDs) {
		t.Errorf("incorporating twice differs from once:\n%+v\n%+v", a, b)
	}
}

func TestRecord_Incorporate_EmptyDonor(t *testing.T) {
	rec := donorRecord()
	before := SnapshotOf(rec)
	rec.Incorporate(&Record{})
	rec.Incorporate(nil)
	rec.Incorporate(rec)

	after := SnapshotOf(rec)
	if before.Name != after.Name || !slices.Equal(before.InstanceIDs, after.InstanceIDs) {
		t.Error("empty donor changed the record")
	}
}
