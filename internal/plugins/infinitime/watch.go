// Package infinitime updates PineTime smartwatches running InfiniTime
// over Bluetooth LE.
//
// The firmware is sent with the legacy Nordic DFU protocol: opcodes go to
// the control point characteristic, image data to the packet
// characteristic in 20 byte writes.
package infinitime

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/DylanVanAssche/fwupd/internal/device"
	"github.com/DylanVanAssche/fwupd/internal/firmware"
	"github.com/DylanVanAssche/fwupd/internal/fwerr"
	"github.com/DylanVanAssche/fwupd/internal/transfer"
	"github.com/DylanVanAssche/fwupd/internal/transport"
)

// PluginName is recorded on every watch.
const PluginName = "infinitime"

// Protocol is the update protocol id of InfiniTime watches.
const Protocol = "io.infinitime"

// GATT characteristics.
const (
	UUIDFirmwareRevision = "00002a26-0000-1000-8000-00805f9b34fb"
	UUIDControlPoint     = "00001531-1212-efde-1523-785feabcd123"
	UUIDPacket           = "00001532-1212-efde-1523-785feabcd123"
)

// PacketSize is the largest write the packet characteristic accepts.
const PacketSize = 20

// DFU control point opcodes and parameters.
const (
	opStartDFU         byte = 0x01
	opInitParams       byte = 0x02
	opReceiveImage     byte = 0x03
	opValidate         byte = 0x04
	opActivateAndReset byte = 0x05

	imageTypeApp       byte = 0x04
	initParamsReceive  byte = 0x00
	initParamsComplete byte = 0x01
)

const imageSizeHeaderSize = 12

// DefaultName is used until a quirk or donor provides one.
const DefaultName = "InfiniTime"

// Watch is one InfiniTime device.
type Watch struct {
	device.BluezDevice

	engine *transfer.Engine
}

// Option configures a Watch.
type Option func(*Watch)

// WithEngine sets the transfer engine. The chunk size is always capped at
// PacketSize.
func WithEngine(e *transfer.Engine) Option {
	return func(w *Watch) {
		if e != nil {
			w.engine = e
		}
	}
}

// NewWatch creates a watch reached through g.
func NewWatch(g transport.GATT, opts ...Option) *Watch {
	w := &Watch{
		BluezDevice: device.NewBluezDevice(g),
		engine:      transfer.New(),
	}
	for _, opt := range opts {
		opt(w)
	}

	rec := w.Record()
	rec.SetPlugin(PluginName)
	rec.SetName(DefaultName)
	rec.AddProtocol(Protocol)
	rec.SetVersionFormat(device.VersionFormatTriplet)
	rec.AddFlag(device.FlagUpdatable)
	rec.AddFlag(device.FlagUnsignedPayload)
	return w
}

// Probe reads the firmware revision. A peripheral without the revision
// characteristic is not an InfiniTime watch.
func (w *Watch) Probe(ctx context.Context) error {
	if err := w.BluezDevice.Probe(ctx); err != nil {
		return err
	}

	rev, err := w.ReadString(ctx, UUIDFirmwareRevision)
	if errors.Is(err, transport.ErrNoCharacteristic) {
		return fwerr.NotSupported("no firmware revision characteristic")
	}
	if err != nil {
		return err
	}
	if rev == "" {
		return fwerr.NotSupported("empty firmware revision")
	}

	rec := w.Record()
	rec.SetVersion(rev)
	device.NewInstanceIDBuilder("BLUETOOTH").
		Add("NAME", DefaultName).
		Apply(rec)
	return nil
}

// WriteFirmware runs a DFU session: start, image size, receive, data,
// validate, activate.
func (w *Watch) WriteFirmware(ctx context.Context, fw firmware.Firmware, progress transfer.ProgressCallback) error {
	blob, err := fw.Bytes()
	if err != nil {
		return fwerr.Reclassify(fwerr.ErrReadError, err, "getting firmware payload")
	}
	g := w.GATT()
	if g == nil {
		return fwerr.Failed("no GATT client")
	}
	if uint64(len(blob)) > uint64(^uint32(0)) {
		return fwerr.Failed("firmware of %d bytes does not fit the image size header", len(blob))
	}

	if err := w.control(ctx, opStartDFU, imageTypeApp); err != nil {
		return err
	}
	if err := w.WriteUUID(ctx, UUIDPacket, imageSizeHeader(len(blob))); err != nil {
		return err
	}
	if err := w.control(ctx, opInitParams, initParamsReceive); err != nil {
		return err
	}
	if err := w.control(ctx, opInitParams, initParamsComplete); err != nil {
		return err
	}
	if err := w.control(ctx, opReceiveImage); err != nil {
		return err
	}

	chunk := min(w.engine.Config().ChunkSize, PacketSize)
	eng := w.engine.With(transfer.WithChunkSize(chunk), transfer.WithAlignment(0), transfer.WithProgressCallback(progress))
	if err := eng.Write(ctx, transport.NewCharacteristicWriter(ctx, g, UUIDPacket), blob, 0); err != nil {
		return err
	}

	if err := w.control(ctx, opValidate); err != nil {
		return err
	}
	return w.control(ctx, opActivateAndReset)
}

func (w *Watch) control(ctx context.Context, op ...byte) error {
	if err := w.WriteUUID(ctx, UUIDControlPoint, op); err != nil {
		return fmt.Errorf("dfu opcode 0x%02x: %w", op[0], err)
	}
	return nil
}

// imageSizeHeader encodes the softdevice, bootloader and application
// sizes, little endian. Only the application is ever sent.
func imageSizeHeader(appSize int) []byte {
	b := make([]byte, imageSizeHeaderSize)
	binary.LittleEndian.PutUint32(b[8:], uint32(appSize)) //nolint:gosec // checked by caller
	return b
}

// ToString adds the characteristics used for updates.
func (w *Watch) ToString(sb *strings.Builder, indent int) {
	w.BluezDevice.ToString(sb, indent)
	device.AppendKV(sb, indent, "ControlPoint", UUIDControlPoint)
	device.AppendKV(sb, indent, "Packet", UUIDPacket)
}
