package transport

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

// MemoryBus is an in-process BluezBus serving a fixed object tree.
type MemoryBus struct {
	mu     sync.Mutex
	objs   ManagedObjects
	values map[dbus.ObjectPath][]byte
	writes map[dbus.ObjectPath][][]byte
	closed bool

	// ListErr is returned by ManagedObjects when set.
	ListErr error
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		objs:   make(ManagedObjects),
		values: make(map[dbus.ObjectPath][]byte),
		writes: make(map[dbus.ObjectPath][][]byte),
	}
}

// AddPeripheral exports a device at path with one characteristic per entry
// of chars, holding its initial value.
func (b *MemoryBus) AddPeripheral(path dbus.ObjectPath, addr, name string, connected bool, chars map[string][]byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.objs[path] = map[string]map[string]dbus.Variant{
		BluezDeviceIface: {
			"Address":          dbus.MakeVariant(addr),
			"Name":             dbus.MakeVariant(name),
			"Connected":        dbus.MakeVariant(connected),
			"ServicesResolved": dbus.MakeVariant(connected),
		},
	}

	uuids := make([]string, 0, len(chars))
	for uuid := range chars {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)
	for i, uuid := range uuids {
		charPath := dbus.ObjectPath(fmt.Sprintf("%s/service0001/char%04x", path, i+1))
		b.objs[charPath] = map[string]map[string]dbus.Variant{
			BluezCharacteristic: {"UUID": dbus.MakeVariant(strings.ToLower(uuid))},
		}
		if chars[uuid] != nil {
			b.values[charPath] = chars[uuid]
		}
	}
}

// ManagedObjects returns the exported tree.
func (b *MemoryBus) ManagedObjects(context.Context) (ManagedObjects, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ListErr != nil {
		return nil, b.ListErr
	}
	out := make(ManagedObjects, len(b.objs))
	for k, v := range b.objs {
		out[k] = v
	}
	return out, nil
}

// ReadValue returns the value stored for path.
func (b *MemoryBus) ReadValue(_ context.Context, path dbus.ObjectPath) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[path]
	if !ok {
		return nil, fmt.Errorf("org.bluez.Error.NotPermitted: %s", path)
	}
	return append([]byte(nil), v...), nil
}

// WriteValue records data for path.
func (b *MemoryBus) WriteValue(_ context.Context, path dbus.ObjectPath, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.writes[path] = append(b.writes[path], append([]byte(nil), data...))
	return nil
}

// WritesTo returns every payload written to the characteristic uuid of the
// device at devPath.
func (b *MemoryBus) WritesTo(devPath dbus.ObjectPath, uuid string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	for path, ifaces := range b.objs {
		props, ok := ifaces[BluezCharacteristic]
		if !ok || !strings.HasPrefix(string(path), string(devPath)+"/") {
			continue
		}
		if stringProp(props, "UUID") == strings.ToLower(uuid) {
			return b.writes[path]
		}
	}
	return nil
}

// Close marks the bus closed.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
