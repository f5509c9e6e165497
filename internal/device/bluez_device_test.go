package device

import (
	"context"
	"errors"
	"testing"

	"github.com/DylanVanAssche/fwupd/internal/fwerr"
	"github.com/DylanVanAssche/fwupd/internal/transport"
)

const testRevisionUUID = "00002a26-0000-1000-8000-00805f9b34fb"

func TestBluezDevice_Probe(t *testing.T) {
	d := NewBluezDevice(transport.NewMemoryGATT("aa:bb:cc:dd:ee:ff", nil))
	if err := d.Probe(context.Background()); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if got := d.Record().PhysicalID(); got != "BLUETOOTH=AA:BB:CC:DD:EE:FF" {
		t.Errorf("PhysicalID() = %q", got)
	}

	empty := NewBluezDevice(transport.NewMemoryGATT("", nil))
	if err := empty.Probe(context.Background()); !errors.Is(err, fwerr.ErrNotSupported) {
		t.Errorf("Probe() error = %v, want ErrNotSupported", err)
	}
}

func TestBluezDevice_ReadString(t *testing.T) {
	g := transport.NewMemoryGATT("AA", map[string][]byte{testRevisionUUID: []byte("1.10.0\x00")})
	d := NewBluezDevice(g)

	got, err := d.ReadString(context.Background(), testRevisionUUID)
	if err != nil || got != "1.10.0" {
		t.Errorf("ReadString() = %q, %v", got, err)
	}
	if _, err := d.ReadString(context.Background(), "missing"); !errors.Is(err, fwerr.ErrReadError) {
		t.Errorf("ReadString() error = %v, want ErrReadError", err)
	}
}

func TestBluezDevice_WriteUUID(t *testing.T) {
	g := transport.NewMemoryGATT("AA", nil)
	d := NewBluezDevice(g)
	if err := d.WriteUUID(context.Background(), "cp", []byte{0x01}); err != nil {
		t.Fatalf("WriteUUID() error = %v", err)
	}
	if len(g.Writes("cp")) != 1 {
		t.Errorf("writes = %v", g.Writes("cp"))
	}

	g.FailOn = "cp"
	if err := d.WriteUUID(context.Background(), "cp", []byte{0x02}); !errors.Is(err, fwerr.ErrFailed) {
		t.Errorf("WriteUUID() error = %v, want ErrFailed", err)
	}
}
