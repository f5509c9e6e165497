package lifecycle

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/DylanVanAssche/fwupd/internal/device"
	"github.com/DylanVanAssche/fwupd/internal/firmware"
	"github.com/DylanVanAssche/fwupd/internal/fwerr"
	"github.com/DylanVanAssche/fwupd/internal/quirk"
	"github.com/DylanVanAssche/fwupd/internal/transfer"
)

// fakeDevice is a scriptable device that records which operations ran.
type fakeDevice struct {
	device.Base

	physicalID string
	probeErr   error
	setupErr   error
	openErr    error
	closeErr   error
	writeErr   error
	dump       []byte

	calls   []string
	written []byte
}

func newFakeDevice(physicalID string) *fakeDevice {
	return &fakeDevice{physicalID: physicalID}
}

func (d *fakeDevice) Probe(context.Context) error {
	d.calls = append(d.calls, "probe")
	if d.probeErr != nil {
		return d.probeErr
	}
	d.Record().SetPhysicalID(d.physicalID)
	d.Record().AddInstanceID("FAKE\\ID_" + d.physicalID)
	d.Record().AddFlag(device.FlagUpdatable)
	return nil
}

func (d *fakeDevice) Setup(context.Context) error {
	d.calls = append(d.calls, "setup")
	if d.setupErr != nil {
		return d.setupErr
	}
	if d.Record().Version() == "" {
		d.Record().SetVersion(device.UnknownVersion)
	}
	return nil
}

func (d *fakeDevice) Open(context.Context) error {
	d.calls = append(d.calls, "open")
	return d.openErr
}

func (d *fakeDevice) Close() error {
	d.calls = append(d.calls, "close")
	return d.closeErr
}

func (d *fakeDevice) WriteFirmware(_ context.Context, fw firmware.Firmware, progress transfer.ProgressCallback) error {
	d.calls = append(d.calls, "write")
	if d.writeErr != nil {
		return d.writeErr
	}
	data, err := fw.Bytes()
	if err != nil {
		return fwerr.Reclassify(fwerr.ErrReadError, err, "payload")
	}
	d.written = data
	progress(transfer.Progress{Phase: transfer.PhaseWriting, Chunk: 1, TotalChunks: 1, Bytes: len(data), Percentage: 100})
	return nil
}

func (d *fakeDevice) DumpFirmware(_ context.Context, progress transfer.ProgressCallback) ([]byte, error) {
	d.calls = append(d.calls, "dump")
	progress(transfer.Progress{Phase: transfer.PhaseReading, Chunk: 1, Bytes: len(d.dump)})
	return d.dump, nil
}

func (d *fakeDevice) SetQuirkKV(key, value string) error {
	d.calls = append(d.calls, "quirk:"+key)
	return d.Base.SetQuirkKV(key, value)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) OnEvent(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []EventKind
	for _, e := range l.events {
		out = append(out, e.Kind)
	}
	return out
}

func (l *eventLog) transitions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		if e.Kind == EventStateChanged {
			out = append(out, e.From.String()+">"+e.To.String())
		}
	}
	return out
}

func newTestController(t *testing.T, opts ...Option) (*Controller, *eventLog) {
	t.Helper()
	events := &eventLog{}
	opts = append(opts, WithObserver(events))
	return New(device.NewRegistry(nil), opts...), events
}

func TestController_Add(t *testing.T) {
	store := quirk.NewMemoryStore()
	store.Set(`FAKE\ID_a`, "Name", "Fake A")

	c, events := newTestController(t, WithResolver(quirk.NewResolver(store)))
	d := newFakeDevice("a")

	if err := c.Add(context.Background(), d, "fake"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if want := []string{"probe", "quirk:Name", "setup"}; !slices.Equal(d.calls, want) {
		t.Errorf("calls = %v, want %v", d.calls, want)
	}
	if d.Record().Name() != "Fake A" || d.Record().Plugin() != "fake" {
		t.Errorf("name=%q plugin=%q", d.Record().Name(), d.Record().Plugin())
	}
	if d.Record().Version() != device.UnknownVersion {
		t.Errorf("Version() = %q, want fallback", d.Record().Version())
	}
	state, err := c.State(d.Record().ID())
	if err != nil || state != StateProbed {
		t.Errorf("State() = %v, %v", state, err)
	}
	if want := []EventKind{EventStateChanged, EventAdded}; !slices.Equal(events.kinds(), want) {
		t.Errorf("events = %v, want %v", events.kinds(), want)
	}

	if err := c.Add(context.Background(), d, "fake"); !errors.Is(err, fwerr.ErrInvalidState) {
		t.Errorf("second Add() error = %v, want ErrInvalidState", err)
	}
}

func TestController_Add_NotSupported(t *testing.T) {
	c, events := newTestController(t)
	d := newFakeDevice("a")
	d.probeErr = fwerr.NotSupported("device is on a different bootslot")

	err := c.Add(context.Background(), d, "fake")
	if !errors.Is(err, fwerr.ErrNotSupported) {
		t.Fatalf("Add() error = %v, want ErrNotSupported", err)
	}
	if c.Registry().Count() != 0 {
		t.Error("unsupported device was registered")
	}
	if slices.Contains(d.calls, "setup") {
		t.Error("setup ran after a failed probe")
	}
	if len(events.kinds()) != 0 {
		t.Errorf("events = %v, want none", events.kinds())
	}
}

func TestController_Add_SetupFailure(t *testing.T) {
	c, _ := newTestController(t)
	d := newFakeDevice("a")
	d.setupErr = fwerr.Failed("no version")

	if err := c.Add(context.Background(), d, "fake"); !errors.Is(err, fwerr.ErrFailed) {
		t.Fatalf("Add() error = %v, want ErrFailed", err)
	}
	if c.Registry().Count() != 0 {
		t.Error("device registered after failed setup")
	}
}

func TestController_Install(t *testing.T) {
	c, events := newTestController(t)
	d := newFakeDevice("a")
	if err := c.Add(context.Background(), d, "fake"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	id := d.Record().ID()

	if err := c.Install(context.Background(), id, firmware.Blob("payload")); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if string(d.written) != "payload" {
		t.Errorf("written = %q", d.written)
	}

	want := []string{"unprobed>probed", "probed>opened", "opened>writing", "writing>closed"}
	if got := events.transitions(); !slices.Equal(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
	kinds := events.kinds()
	if !slices.Contains(kinds, EventProgress) || !slices.Contains(kinds, EventTransferFinished) {
		t.Errorf("events = %v, want progress and transfer-finished", kinds)
	}

	// Closed devices can be opened again.
	if err := c.Install(context.Background(), id, firmware.Blob("again")); err != nil {
		t.Fatalf("second Install() error = %v", err)
	}
}

func TestController_Install_AlwaysCloses(t *testing.T) {
	c, events := newTestController(t)
	d := newFakeDevice("a")
	d.writeErr = fwerr.Failed("chunk 3 failed")
	if err := c.Add(context.Background(), d, "fake"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	err := c.Install(context.Background(), d.Record().ID(), firmware.Blob("payload"))
	if !errors.Is(err, fwerr.ErrFailed) {
		t.Fatalf("Install() error = %v, want ErrFailed", err)
	}
	if d.calls[len(d.calls)-1] != "close" {
		t.Errorf("calls = %v, close must run last", d.calls)
	}
	state, _ := c.State(d.Record().ID())
	if state != StateClosed {
		t.Errorf("State() = %v, want closed", state)
	}

	var finished *Event
	for i := range events.events {
		if events.events[i].Kind == EventTransferFinished {
			finished = &events.events[i]
		}
	}
	if finished == nil || finished.Err == nil {
		t.Error("transfer-finished event should carry the error")
	}
}

func TestController_Install_OpenFailure(t *testing.T) {
	c, _ := newTestController(t)
	d := newFakeDevice("a")
	d.openErr = fwerr.NotSupported("permission denied")
	if err := c.Add(context.Background(), d, "fake"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	err := c.Install(context.Background(), d.Record().ID(), firmware.Blob("x"))
	if !errors.Is(err, fwerr.ErrNotSupported) {
		t.Fatalf("Install() error = %v, want ErrNotSupported", err)
	}
	if slices.Contains(d.calls, "write") {
		t.Error("write attempted after failed open")
	}
	state, _ := c.State(d.Record().ID())
	if state != StateProbed {
		t.Errorf("State() = %v, want probed", state)
	}
}

func TestController_Install_CloseFailure(t *testing.T) {
	c, _ := newTestController(t)
	d := newFakeDevice("a")
	d.closeErr = errors.New("sync failed")
	if err := c.Add(context.Background(), d, "fake"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := c.Install(context.Background(), d.Record().ID(), firmware.Blob("x")); err == nil {
		t.Error("Install() should report the close failure")
	}
	state, _ := c.State(d.Record().ID())
	if state != StateClosed {
		t.Errorf("State() = %v, want closed", state)
	}
}

func TestController_Install_NotUpdatable(t *testing.T) {
	c, _ := newTestController(t)
	d := newFakeDevice("a")
	if err := c.Add(context.Background(), d, "fake"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	d.Record().RemoveFlag(device.FlagUpdatable)

	if err := c.Install(context.Background(), d.Record().ID(), firmware.Blob("x")); !errors.Is(err, fwerr.ErrNotSupported) {
		t.Errorf("Install() error = %v, want ErrNotSupported", err)
	}
}

func TestController_Dump(t *testing.T) {
	c, events := newTestController(t)
	d := newFakeDevice("a")
	d.dump = []byte("current firmware")
	if err := c.Add(context.Background(), d, "fake"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	data, err := c.Dump(context.Background(), d.Record().ID())
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	if string(data) != "current firmware" {
		t.Errorf("Dump() = %q", data)
	}
	want := []string{"unprobed>probed", "probed>opened", "opened>reading", "reading>closed"}
	if got := events.transitions(); !slices.Equal(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestController_Remove(t *testing.T) {
	c, events := newTestController(t)
	d := newFakeDevice("a")
	if err := c.Add(context.Background(), d, "fake"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	id := d.Record().ID()

	if err := c.Remove(context.Background(), id); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if c.Registry().Count() != 0 {
		t.Error("device still registered")
	}
	state, err := c.State(id)
	if err != nil || state != StateRemoved {
		t.Errorf("State() = %v, %v; want removed", state, err)
	}
	if !slices.Contains(events.kinds(), EventRemoved) {
		t.Error("no removed event")
	}

	if err := c.Install(context.Background(), id, firmware.Blob("x")); !errors.Is(err, fwerr.ErrInvalidState) {
		t.Errorf("Install() on removed device error = %v, want ErrInvalidState", err)
	}
	if err := c.Remove(context.Background(), id); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("second Remove() error = %v, want ErrDeviceNotFound", err)
	}

	// A replugged unit is a new device with the same id.
	again := newFakeDevice("a")
	if err := c.Add(context.Background(), again, "fake"); err != nil {
		t.Fatalf("Add() after remove error = %v", err)
	}
	if state, _ := c.State(id); state != StateProbed {
		t.Errorf("State() after replug = %v, want probed", state)
	}
}

func TestController_ReplugKeepsVersion(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	old := newFakeDevice("b")
	if err := c.Add(ctx, old, "fake"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	old.Record().SetVersion("9.9")
	if err := c.Remove(ctx, old.Record().ID()); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	again := newFakeDevice("b")
	if err := c.Add(ctx, again, "fake"); err != nil {
		t.Fatalf("Add() after remove error = %v", err)
	}
	if got := again.Record().Version(); got != "9.9" {
		t.Errorf("Version() = %q, want 9.9 from the removed device", got)
	}
	if i, j := slices.Index(again.calls, "probe"), slices.Index(again.calls, "setup"); i < 0 || j < i {
		t.Errorf("calls = %v, want probe before setup", again.calls)
	}
}

func TestController_UnknownDevice(t *testing.T) {
	c, _ := newTestController(t)
	if err := c.Install(context.Background(), "nope", firmware.Blob("x")); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Install() error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := c.Dump(context.Background(), "nope"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Dump() error = %v, want ErrDeviceNotFound", err)
	}
}

// blockingDevice holds its write until released, to exercise concurrent
// operations on one device.
type blockingDevice struct {
	*fakeDevice
	started chan struct{}
	release chan struct{}
}

func (d *blockingDevice) WriteFirmware(ctx context.Context, fw firmware.Firmware, progress transfer.ProgressCallback) error {
	close(d.started)
	<-d.release
	return nil
}

func TestController_RejectsConcurrentOperationOnOneDevice(t *testing.T) {
	c, _ := newTestController(t)
	d := &blockingDevice{fakeDevice: newFakeDevice("a"), started: make(chan struct{}), release: make(chan struct{})}
	if err := c.Add(context.Background(), d, "fake"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	id := d.Record().ID()

	done := make(chan error, 1)
	go func() { done <- c.Install(context.Background(), id, firmware.Blob("x")) }()
	<-d.started

	if _, err := c.Dump(context.Background(), id); !errors.Is(err, fwerr.ErrInvalidState) {
		t.Errorf("Dump() during Install error = %v, want ErrInvalidState", err)
	}

	close(d.release)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Install() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Install() did not finish")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateUnprobed, StateProbed, true},
		{StateProbed, StateOpened, true},
		{StateOpened, StateWriting, true},
		{StateWriting, StateClosed, true},
		{StateClosed, StateRemoved, true},
		{StateUnprobed, StateOpened, false},
		{StateOpened, StateRemoved, false},
		{StateWriting, StateReading, false},
		{StateRemoved, StateProbed, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
	err := checkTransition(StateUnprobed, StateWriting)
	if !errors.Is(err, fwerr.ErrFailed) || !errors.Is(err, fwerr.ErrInvalidState) {
		t.Errorf("checkTransition() error = %v", err)
	}
}
