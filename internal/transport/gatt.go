package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrNoCharacteristic is returned when a GATT characteristic is not exposed
// by the peripheral.
var ErrNoCharacteristic = errors.New("transport: characteristic not found")

// GATT is the subset of a BlueZ GATT client used by Bluetooth devices.
// Characteristics are addressed by their 128-bit UUID string.
type GATT interface {
	Address() string
	ReadCharacteristic(ctx context.Context, uuid string) ([]byte, error)
	WriteCharacteristic(ctx context.Context, uuid string, data []byte) error
	Close() error
}

// CharacteristicWriter adapts one GATT characteristic to the positioned
// write interface of the transfer engine. Chunks must arrive in order;
// the address is only used to detect gaps.
type CharacteristicWriter struct {
	ctx  context.Context
	gatt GATT
	uuid string
	next int64
}

// NewCharacteristicWriter returns a writer that sends every chunk to uuid.
func NewCharacteristicWriter(ctx context.Context, gatt GATT, uuid string) *CharacteristicWriter {
	return &CharacteristicWriter{ctx: ctx, gatt: gatt, uuid: uuid}
}

// Seek sets the address the next chunk is expected at.
// Only io.SeekStart is supported.
func (w *CharacteristicWriter) Seek(offset int64, whence int) (int64, error) {
	if whence != io.SeekStart {
		return 0, fmt.Errorf("transport: unsupported whence %d", whence)
	}
	w.next = offset
	return offset, nil
}

// WriteAt sends p as a single characteristic write.
func (w *CharacteristicWriter) WriteAt(p []byte, off int64) (int, error) {
	if off != w.next {
		return 0, fmt.Errorf("transport: non-sequential write at 0x%x, expected 0x%x", off, w.next)
	}
	if err := w.gatt.WriteCharacteristic(w.ctx, w.uuid, p); err != nil {
		return 0, err
	}
	w.next += int64(len(p))
	return len(p), nil
}

// MemoryGATT is an in-process GATT peripheral. It records every write and
// serves reads from a fixed table.
type MemoryGATT struct {
	mu      sync.Mutex
	addr    string
	values  map[string][]byte
	writes  map[string][][]byte
	closed  bool
	FailOn  string
	FailErr error
}

// NewMemoryGATT creates a peripheral with the given address and readable
// characteristic values.
func NewMemoryGATT(addr string, values map[string][]byte) *MemoryGATT {
	if values == nil {
		values = map[string][]byte{}
	}
	return &MemoryGATT{addr: addr, values: values, writes: map[string][][]byte{}}
}

// Address returns the Bluetooth address.
func (g *MemoryGATT) Address() string { return g.addr }

// ReadCharacteristic returns the stored value of uuid.
func (g *MemoryGATT) ReadCharacteristic(_ context.Context, uuid string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.values[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoCharacteristic, uuid)
	}
	return append([]byte(nil), v...), nil
}

// WriteCharacteristic records data for uuid.
func (g *MemoryGATT) WriteCharacteristic(_ context.Context, uuid string, data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	if g.FailOn != "" && g.FailOn == uuid {
		if g.FailErr != nil {
			return g.FailErr
		}
		return fmt.Errorf("write to %s failed", uuid)
	}
	g.writes[uuid] = append(g.writes[uuid], append([]byte(nil), data...))
	return nil
}

// Writes returns every payload written to uuid, in order.
func (g *MemoryGATT) Writes(uuid string) [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.writes[uuid]
}

// Close marks the peripheral closed.
func (g *MemoryGATT) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}
