package transport

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

// BlueZ D-Bus names.
const (
	BluezService          = "org.bluez"
	BluezDeviceIface      = "org.bluez.Device1"
	BluezCharacteristic   = "org.bluez.GattCharacteristic1"
	objectManagerMethod   = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
	characteristicRead    = BluezCharacteristic + ".ReadValue"
	characteristicWrite   = BluezCharacteristic + ".WriteValue"
	writeTypeWithResponse = "request"
)

// ManagedObjects is the reply of ObjectManager.GetManagedObjects:
// object path -> interface -> property -> value.
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// BluezBus is the part of the system bus the BlueZ transport talks to.
type BluezBus interface {
	ManagedObjects(ctx context.Context) (ManagedObjects, error)
	ReadValue(ctx context.Context, path dbus.ObjectPath) ([]byte, error)
	WriteValue(ctx context.Context, path dbus.ObjectPath, data []byte) error
	Close() error
}

// SystemBus is a BluezBus on the D-Bus system bus.
type SystemBus struct {
	conn *dbus.Conn
}

// ConnectSystemBus opens a private connection to the system bus.
func ConnectSystemBus() (*SystemBus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to system bus: %w", err)
	}
	return &SystemBus{conn: conn}, nil
}

// ManagedObjects lists every object BlueZ exports.
func (b *SystemBus) ManagedObjects(ctx context.Context) (ManagedObjects, error) {
	var objs ManagedObjects
	call := b.conn.Object(BluezService, "/").CallWithContext(ctx, objectManagerMethod, 0)
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("listing bluez objects: %w", err)
	}
	return objs, nil
}

// ReadValue reads the characteristic at path.
func (b *SystemBus) ReadValue(ctx context.Context, path dbus.ObjectPath) ([]byte, error) {
	var data []byte
	call := b.conn.Object(BluezService, path).CallWithContext(ctx, characteristicRead, 0, map[string]dbus.Variant{})
	if err := call.Store(&data); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteValue writes data to the characteristic at path and waits for the
// peripheral to acknowledge it.
func (b *SystemBus) WriteValue(ctx context.Context, path dbus.ObjectPath, data []byte) error {
	opts := map[string]dbus.Variant{"type": dbus.MakeVariant(writeTypeWithResponse)}
	return b.conn.Object(BluezService, path).CallWithContext(ctx, characteristicWrite, 0, data, opts).Err
}

// Close closes the connection.
func (b *SystemBus) Close() error {
	return b.conn.Close()
}

// Peripheral is a connected Bluetooth LE device exported by BlueZ.
type Peripheral struct {
	Path    dbus.ObjectPath
	Address string
	Name    string

	// characteristic UUID (lowercase) -> object path
	chars map[string]dbus.ObjectPath
}

// HasCharacteristic reports whether the peripheral exposes uuid.
func (p *Peripheral) HasCharacteristic(uuid string) bool {
	_, ok := p.chars[strings.ToLower(uuid)]
	return ok
}

// Peripherals returns the connected devices whose GATT services have been
// resolved, sorted by object path.
func Peripherals(ctx context.Context, bus BluezBus) ([]*Peripheral, error) {
	objs, err := bus.ManagedObjects(ctx)
	if err != nil {
		return nil, err
	}

	byPath := make(map[dbus.ObjectPath]*Peripheral)
	for path, ifaces := range objs {
		props, ok := ifaces[BluezDeviceIface]
		if !ok {
			continue
		}
		if !boolProp(props, "Connected") || !boolProp(props, "ServicesResolved") {
			continue
		}
		name := stringProp(props, "Alias")
		if name == "" {
			name = stringProp(props, "Name")
		}
		byPath[path] = &Peripheral{
			Path:    path,
			Address: stringProp(props, "Address"),
			Name:    name,
			chars:   make(map[string]dbus.ObjectPath),
		}
	}

	// Characteristics live below their device:
	// /org/bluez/hci0/dev_XX/service000c/char000d
	for path, ifaces := range objs {
		props, ok := ifaces[BluezCharacteristic]
		if !ok {
			continue
		}
		uuid := strings.ToLower(stringProp(props, "UUID"))
		if uuid == "" {
			continue
		}
		for devPath, p := range byPath {
			if strings.HasPrefix(string(path), string(devPath)+"/") {
				p.chars[uuid] = path
				break
			}
		}
	}

	out := make([]*Peripheral, 0, len(byPath))
	for _, p := range byPath {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func boolProp(props map[string]dbus.Variant, key string) bool {
	v, ok := props[key]
	if !ok {
		return false
	}
	b, _ := v.Value().(bool)
	return b
}

func stringProp(props map[string]dbus.Variant, key string) string {
	v, ok := props[key]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

// BluezGATT is a GATT client for one peripheral. The bus is shared and not
// closed by Close.
type BluezGATT struct {
	bus BluezBus
	p   *Peripheral

	mu     sync.Mutex
	closed bool
}

// NewBluezGATT returns a GATT client for p.
func NewBluezGATT(bus BluezBus, p *Peripheral) *BluezGATT {
	return &BluezGATT{bus: bus, p: p}
}

// Address returns the Bluetooth address.
func (g *BluezGATT) Address() string { return g.p.Address }

// Peripheral returns the device the client talks to.
func (g *BluezGATT) Peripheral() *Peripheral { return g.p }

func (g *BluezGATT) path(uuid string) (dbus.ObjectPath, error) {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return "", ErrClosed
	}
	path, ok := g.p.chars[strings.ToLower(uuid)]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrNoCharacteristic, uuid, g.p.Address)
	}
	return path, nil
}

// ReadCharacteristic reads the value of uuid.
func (g *BluezGATT) ReadCharacteristic(ctx context.Context, uuid string) ([]byte, error) {
	path, err := g.path(uuid)
	if err != nil {
		return nil, err
	}
	data, err := g.bus.ReadValue(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", uuid, err)
	}
	return data, nil
}

// WriteCharacteristic writes data to uuid.
func (g *BluezGATT) WriteCharacteristic(ctx context.Context, uuid string, data []byte) error {
	path, err := g.path(uuid)
	if err != nil {
		return err
	}
	if err := g.bus.WriteValue(ctx, path, data); err != nil {
		return fmt.Errorf("writing %s: %w", uuid, err)
	}
	return nil
}

// Close stops further reads and writes.
func (g *BluezGATT) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}
