package device

import (
	"context"
	"strings"

	"github.com/DylanVanAssche/fwupd/internal/fwerr"
	"github.com/DylanVanAssche/fwupd/internal/transport"
)

// BluezDevice is the base for Bluetooth LE peripherals reached through
// GATT characteristics.
type BluezDevice struct {
	Base

	gatt transport.GATT
}

// NewBluezDevice returns a base for the peripheral behind g.
func NewBluezDevice(g transport.GATT) BluezDevice {
	return BluezDevice{gatt: g}
}

// GATT returns the GATT client.
func (d *BluezDevice) GATT() transport.GATT {
	return d.gatt
}

// Address returns the Bluetooth address, or "" when unknown.
func (d *BluezDevice) Address() string {
	if d.gatt == nil {
		return ""
	}
	return d.gatt.Address()
}

// Probe derives the physical id from the Bluetooth address.
func (d *BluezDevice) Probe(context.Context) error {
	addr := d.Address()
	if addr == "" {
		return fwerr.NotSupported("no bluetooth address")
	}
	d.rec.SetPhysicalID("BLUETOOTH=" + strings.ToUpper(addr))
	return nil
}

// ReadString reads a characteristic as a string with trailing NUL bytes
// and whitespace trimmed.
func (d *BluezDevice) ReadString(ctx context.Context, uuid string) (string, error) {
	if d.gatt == nil {
		return "", fwerr.Failed("no GATT client")
	}
	data, err := d.gatt.ReadCharacteristic(ctx, uuid)
	if err != nil {
		return "", fwerr.Reclassify(fwerr.ErrReadError, err, "reading "+uuid)
	}
	return strings.TrimRight(string(data), "\x00 \t\r\n"), nil
}

// WriteUUID writes data to a characteristic.
func (d *BluezDevice) WriteUUID(ctx context.Context, uuid string, data []byte) error {
	if d.gatt == nil {
		return fwerr.Failed("no GATT client")
	}
	if err := d.gatt.WriteCharacteristic(ctx, uuid, data); err != nil {
		return fwerr.Reclassify(fwerr.ErrFailed, err, "writing "+uuid)
	}
	return nil
}

// ToString renders the record followed by the Bluetooth address.
func (d *BluezDevice) ToString(sb *strings.Builder, indent int) {
	d.Base.ToString(sb, indent)
	AppendKV(sb, indent, "BluetoothAddress", d.Address())
}
