package quirk

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/DylanVanAssche/fwupd/internal/cmdline"
	"github.com/DylanVanAssche/fwupd/internal/device"
)

// testDevice records every quirk it receives and owns the keys in owned.
type testDevice struct {
	device.Base
	owned   map[string]bool
	failKey string
	got     [][2]string
}

func (d *testDevice) SetQuirkKV(key, value string) error {
	if key == d.failKey {
		return errors.New("boom")
	}
	if d.owned[key] {
		d.got = append(d.got, [2]string{key, value})
		return nil
	}
	if err := d.Base.SetQuirkKV(key, value); err != nil {
		return err
	}
	d.got = append(d.got, [2]string{key, value})
	return nil
}

func newTestDevice(ids ...string) *testDevice {
	d := &testDevice{owned: map[string]bool{KeyDdVersionArg: true, KeyDdSerialArg: true}}
	d.Record().SetPhysicalID("test")
	for _, id := range ids {
		d.Record().AddInstanceID(id)
	}
	return d
}

func TestMemoryStore_LookupByInstanceIDOrGUID(t *testing.T) {
	s := NewMemoryStore()
	s.Set(`BLOCK\UUID_1`, "Name", "Volume")

	if got := s.Lookup(`BLOCK\UUID_1`)["Name"]; got != "Volume" {
		t.Errorf("Lookup(instance id) = %q", got)
	}
	if got := s.Lookup(device.GUIDFromString(`BLOCK\UUID_1`))["Name"]; got != "Volume" {
		t.Errorf("Lookup(guid) = %q", got)
	}
	if s.Lookup("other") != nil {
		t.Error("Lookup(other) should be nil")
	}
}

func TestResolver_Apply(t *testing.T) {
	s := NewMemoryStore()
	s.SetAll(`DRIVE\UUID_1`, map[string]string{
		"Name":     "Partition",
		"Vendor":   "Acme",
		"Unknown":  "x",
		"Protocol": "be.dylanvanassche.dd",
	})
	s.Set(`DRIVE\UUID_1&LABEL_system_a`, "Summary", "Specific")

	d := newTestDevice(`DRIVE\UUID_1`, `DRIVE\UUID_1&LABEL_system_a`)
	rep, err := NewResolver(s).Apply(d)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	wantOrder := []string{"Name", "Protocol", "Vendor", "Summary"}
	var gotOrder []string
	for _, kv := range d.got {
		gotOrder = append(gotOrder, kv[0])
	}
	if !slices.Equal(gotOrder, wantOrder) {
		t.Errorf("applied order = %v, want %v", gotOrder, wantOrder)
	}
	if len(rep.Applied) != 4 || len(rep.Unsupported) != 1 {
		t.Errorf("report = %+v", rep)
	}
	if d.Record().Summary() != "Specific" || d.Record().Vendor() != "Acme" {
		t.Error("quirks not applied to the record")
	}
}

func TestResolver_Apply_AbortsOnOtherErrors(t *testing.T) {
	s := NewMemoryStore()
	s.Set("id", "Broken", "1")
	s.Set("id", "Name", "x")

	d := newTestDevice("id")
	d.failKey = "Broken"
	if _, err := NewResolver(s).Apply(d); err == nil {
		t.Fatal("Apply() should fail")
	}
	if len(d.got) != 0 {
		t.Errorf("keys after the failure were applied: %v", d.got)
	}
}

func TestResolver_Apply_InvalidValue(t *testing.T) {
	s := NewMemoryStore()
	s.Set("id", "Flags", "not-a-flag")

	_, err := NewResolver(s).Apply(newTestDevice("id"))
	if !errors.Is(err, device.ErrInvalidQuirkValue) {
		t.Errorf("Apply() error = %v, want ErrInvalidQuirkValue", err)
	}
}

func TestResolver_Indirect(t *testing.T) {
	s := NewMemoryStore()
	s.Set("id", KeyDdVersionArg, "androidboot.abl.version")
	s.Set("id", KeyDdSerialArg, "androidboot.serialno")

	props := cmdline.FromMap(map[string]string{"androidboot.abl.version": "1.2.3"})
	d := newTestDevice("id")
	rep, err := NewResolver(s, WithBootProperties(props)).Apply(d)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if len(d.got) != 1 || d.got[0] != [2]string{KeyDdVersionArg, "1.2.3"} {
		t.Errorf("got = %v, want DdVersionArg resolved to 1.2.3", d.got)
	}
	if !slices.Equal(rep.Unresolved, []string{"id:" + KeyDdSerialArg}) {
		t.Errorf("Unresolved = %v", rep.Unresolved)
	}
}

func TestResolver_NotIndirectUnlessMarked(t *testing.T) {
	s := NewMemoryStore()
	s.Set("id", KeyDdVersionArg, "androidboot.abl.version")

	d := newTestDevice("id")
	props := cmdline.FromMap(map[string]string{"androidboot.abl.version": "1.2.3"})
	if _, err := NewResolver(s, WithBootProperties(props), WithIndirectKeys()).Apply(d); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if d.got[0][1] != "androidboot.abl.version" {
		t.Errorf("value = %q, want the literal value", d.got[0][1])
	}
}

func TestResolver_MatchesOnce(t *testing.T) {
	s := NewMemoryStore()
	s.Set("id", "Vendor", "Acme")

	d := newTestDevice("id")
	rep, err := NewResolver(s).Apply(d)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(rep.Applied) != 1 {
		t.Errorf("Applied = %v, entry should be applied once", rep.Applied)
	}
}

func TestParseKeyFile(t *testing.T) {
	data := []byte(`# comment
[BLOCK\UUID_E478-FA50]
Name = Firmware volume
BlockDeviceFilename = firmware.bin

; another comment
[886313e1-3b8a-5372-9b90-0c9aee199e5d]
Flags = updatable
`)
	s := NewMemoryStore()
	if err := ParseKeyFile(s, data); err != nil {
		t.Fatalf("ParseKeyFile() error = %v", err)
	}
	if got := s.Lookup(`BLOCK\UUID_E478-FA50`)["BlockDeviceFilename"]; got != "firmware.bin" {
		t.Errorf("BlockDeviceFilename = %q", got)
	}
	if got := s.Lookup("python.org")["Flags"]; got != "updatable" {
		t.Errorf("Flags via hashed id = %q", got)
	}
}

func TestParseKeyFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"key outside group", "Name = x\n"},
		{"missing equals", "[id]\nName\n"},
		{"bad group", "[id\nName = x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ParseKeyFile(NewMemoryStore(), []byte(tt.data)); !errors.Is(err, ErrSyntax) {
				t.Errorf("ParseKeyFile() error = %v, want ErrSyntax", err)
			}
		})
	}
}

func TestLoadPaths(t *testing.T) {
	dir := t.TempDir()
	yamlData := `quirks:
  - match: 'DRIVE\UUID_1'
    values:
      DdVendor: Acme
      VendorId: "0x1234"
`
	if err := os.WriteFile(filepath.Join(dir, "10-dd.yaml"), []byte(yamlData), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "20-dd.quirk"), []byte("[DRIVE\\UUID_1]\nDdVendor = Override\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("ignored"), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := LoadPaths(dir)
	if err != nil {
		t.Fatalf("LoadPaths() error = %v", err)
	}
	entry := s.Lookup(`DRIVE\UUID_1`)
	if entry["DdVendor"] != "Override" {
		t.Errorf("DdVendor = %q, later file should win", entry["DdVendor"])
	}
	if entry["VendorId"] != "0x1234" {
		t.Errorf("VendorId = %q", entry["VendorId"])
	}
}

func TestLoadPaths_Errors(t *testing.T) {
	if _, err := LoadPaths(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("LoadPaths() should fail for a missing path")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("quirks:\n  - values: {Name: x}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPaths(bad); !errors.Is(err, ErrSyntax) {
		t.Errorf("LoadPaths() error = %v, want ErrSyntax", err)
	}
}

func TestMemoryStore_Merge(t *testing.T) {
	a, b := NewMemoryStore(), NewMemoryStore()
	a.Set("id", "Name", "A")
	a.Set("id", "Vendor", "A")
	b.Set("id", "Name", "B")
	b.Set("other", "Name", "B")
	a.Merge(b)

	if a.Len() != 2 || a.Lookup("id")["Name"] != "B" || a.Lookup("id")["Vendor"] != "A" {
		t.Errorf("Merge() result: id=%v len=%d", a.Lookup("id"), a.Len())
	}
}
