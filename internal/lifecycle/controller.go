package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DylanVanAssche/fwupd/internal/device"
	"github.com/DylanVanAssche/fwupd/internal/firmware"
	"github.com/DylanVanAssche/fwupd/internal/fwerr"
	"github.com/DylanVanAssche/fwupd/internal/quirk"
	"github.com/DylanVanAssche/fwupd/internal/transfer"
)

// Logger defines the logging interface used by the Controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Controller drives devices through their lifecycle.
//
// It is safe for concurrent use across different devices. Operations on
// the same device are rejected with fwerr.ErrInvalidState while another
// operation holds it open.
type Controller struct {
	registry *device.Registry
	resolver *quirk.Resolver
	logger   Logger

	mu        sync.Mutex
	states    map[*device.Record]State
	observers []Observer

	installTimeout time.Duration
	dumpTimeout    time.Duration
	now            func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithResolver sets the quirk resolver applied after probe.
func WithResolver(r *quirk.Resolver) Option {
	return func(c *Controller) {
		c.resolver = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithInstallTimeout bounds a whole Install. Zero means no bound.
func WithInstallTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.installTimeout = d
	}
}

// WithDumpTimeout bounds a whole Dump. Zero means no bound beyond the
// read timeout of the device.
func WithDumpTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.dumpTimeout = d
	}
}

// New creates a controller that registers devices in registry.
func New(registry *device.Registry, opts ...Option) *Controller {
	c := &Controller{
		registry: registry,
		logger:   noopLogger{},
		states:   make(map[*device.Record]State),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers an observer.
func (c *Controller) Subscribe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Registry returns the device registry.
func (c *Controller) Registry() *device.Registry {
	return c.registry
}

// State returns the lifecycle state of a registered or removed device.
func (c *Controller) State(id string) (State, error) {
	d, err := c.lookup(id)
	if err != nil {
		return StateUnprobed, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[d.Record()], nil
}

// Add probes d, applies quirks, restores the state of an earlier device
// with the same id, runs setup and registers the device.
//
// A device that is not supported (fwerr.ErrNotSupported) is not
// registered; the error is returned so the caller can skip it.
func (c *Controller) Add(ctx context.Context, d device.Device, plugin string) error {
	rec := d.Record()

	c.mu.Lock()
	if _, tracked := c.states[rec]; tracked {
		c.mu.Unlock()
		return fmt.Errorf("%w: device already added", fwerr.ErrInvalidState)
	}
	c.mu.Unlock()

	if rec.Plugin() == "" {
		rec.SetPlugin(plugin)
	}

	if err := d.Probe(ctx); err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	if rec.ID() == "" {
		return fwerr.Failed("probe set no physical id")
	}

	if c.resolver != nil {
		rep, err := c.resolver.Apply(d)
		if err != nil {
			return fmt.Errorf("quirks: %w", err)
		}
		if len(rep.Applied) > 0 || len(rep.Unresolved) > 0 {
			c.logger.Debug("quirks applied",
				"device_id", rec.ID(),
				"applied", len(rep.Applied),
				"unsupported", len(rep.Unsupported),
				"unresolved", rep.Unresolved,
			)
		}
	}

	// Setup only fills fields that are still empty, so a replugged device
	// picks up its earlier version before any fallback is applied.
	if c.registry.Restore(ctx, d) {
		c.logger.Debug("restored device state", "device_id", rec.ID())
	}

	if err := d.Setup(ctx); err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	if err := c.registry.Add(ctx, d); err != nil {
		return err
	}

	c.mu.Lock()
	c.states[rec] = StateProbed
	c.mu.Unlock()

	c.emit(Event{Kind: EventStateChanged, DeviceID: rec.ID(), Plugin: rec.Plugin(), From: StateUnprobed, To: StateProbed})
	c.emit(Event{Kind: EventAdded, DeviceID: rec.ID(), Plugin: rec.Plugin()})
	return nil
}

// Install writes fw to the device with the given id.
//
// The device is opened first and always closed afterwards. A close error
// is only returned when the write itself succeeded.
func (c *Controller) Install(ctx context.Context, id string, fw firmware.Firmware) error {
	d, err := c.lookup(id)
	if err != nil {
		return err
	}
	if !d.Record().HasFlag(device.FlagUpdatable) {
		return fwerr.NotSupported("device %s is not updatable", id)
	}
	if c.installTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.installTimeout)
		defer cancel()
	}

	_, err = c.transfer(ctx, d, StateWriting, func(progress transfer.ProgressCallback) ([]byte, error) {
		return nil, d.WriteFirmware(ctx, fw, progress)
	})
	return err
}

// Dump reads the current firmware back from the device with the given id.
func (c *Controller) Dump(ctx context.Context, id string) ([]byte, error) {
	d, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	if c.dumpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.dumpTimeout)
		defer cancel()
	}

	return c.transfer(ctx, d, StateReading, func(progress transfer.ProgressCallback) ([]byte, error) {
		return d.DumpFirmware(ctx, progress)
	})
}

// Remove unregisters the device. It must not be open.
func (c *Controller) Remove(ctx context.Context, id string) error {
	d, err := c.registry.Get(id)
	if err != nil {
		return err
	}
	rec := d.Record()

	from, err := c.advance(rec, StateRemoved)
	if err != nil {
		return err
	}
	if _, err := c.registry.Remove(ctx, id); err != nil {
		c.set(rec, from)
		return err
	}

	c.emit(Event{Kind: EventStateChanged, DeviceID: id, Plugin: rec.Plugin(), From: from, To: StateRemoved})
	c.emit(Event{Kind: EventRemoved, DeviceID: id, Plugin: rec.Plugin()})
	return nil
}

// transfer runs op between Open and Close with the device in phase.
func (c *Controller) transfer(ctx context.Context, d device.Device, phase State, op func(transfer.ProgressCallback) ([]byte, error)) ([]byte, error) {
	rec := d.Record()
	id := rec.ID()

	if err := c.step(rec, StateOpened, func() error { return d.Open(ctx) }); err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	var last *transfer.Progress
	progress := func(p transfer.Progress) {
		last = &p
		c.emit(Event{Kind: EventProgress, DeviceID: id, Plugin: rec.Plugin(), Progress: &p})
	}

	var (
		data  []byte
		opErr error
	)
	if err := c.step(rec, phase, nil); err != nil {
		opErr = err
	} else {
		started := c.now()
		data, opErr = op(progress)
		if last == nil {
			last = &transfer.Progress{Phase: transferPhase(phase)}
		}
		last.Elapsed = c.now().Sub(started)
		c.emit(Event{Kind: EventTransferFinished, DeviceID: id, Plugin: rec.Plugin(), Progress: last, Err: opErr})
	}

	closeErr := c.step(rec, StateClosed, d.Close)
	if opErr != nil {
		c.logger.Error("transfer failed", "device_id", id, "phase", phase.String(), "error", opErr)
		if closeErr != nil {
			c.logger.Warn("close after failed transfer", "device_id", id, "error", closeErr)
		}
		return nil, opErr
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close: %w", closeErr)
	}

	c.logger.Info("transfer complete", "device_id", id, "phase", phase.String(), "bytes", last.Bytes, "elapsed", last.Elapsed)
	return data, nil
}

// step advances rec to `to` and runs fn. When fn fails the device falls
// back to its previous state, except on the way to Closed: the handle is
// gone either way.
func (c *Controller) step(rec *device.Record, to State, fn func() error) error {
	from, err := c.advance(rec, to)
	if err != nil {
		return err
	}
	var fnErr error
	if fn != nil {
		fnErr = fn()
	}
	if fnErr != nil && to != StateClosed {
		c.set(rec, from)
		return fnErr
	}
	c.emit(Event{Kind: EventStateChanged, DeviceID: rec.ID(), Plugin: rec.Plugin(), From: from, To: to})
	return fnErr
}

// advance checks and applies a transition atomically and returns the
// previous state.
func (c *Controller) advance(rec *device.Record, to State) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	from, ok := c.states[rec]
	if !ok {
		return StateUnprobed, fmt.Errorf("%w: device not added", fwerr.ErrInvalidState)
	}
	if err := checkTransition(from, to); err != nil {
		return from, err
	}
	c.states[rec] = to
	return from, nil
}

func (c *Controller) set(rec *device.Record, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[rec] = s
}

func (c *Controller) lookup(id string) (device.Device, error) {
	d, err := c.registry.Get(id)
	if err == nil {
		return d, nil
	}
	if removed, ok := c.registry.Removed(id); ok && errors.Is(err, device.ErrDeviceNotFound) {
		return removed, nil
	}
	return nil, err
}

func (c *Controller) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = c.now()
	}
	c.mu.Lock()
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	for _, o := range observers {
		o.OnEvent(e)
	}
}

func transferPhase(s State) string {
	if s == StateReading {
		return transfer.PhaseReading
	}
	return transfer.PhaseWriting
}
