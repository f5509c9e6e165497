package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry tracks the devices that are currently present and remembers the
// ones that went away.
//
// When a device is added whose id matches a removed one, the new device
// incorporates the old state first: fields the fresh probe could not fill
// (for instance a version read before a reboot) survive the replug as long
// as Restore runs before setup fills them with fallbacks. Removed
// devices are kept in memory for the lifetime of the process and, when a
// HistoryRepository is configured, across restarts.
//
// All public methods are thread-safe. The devices themselves are not; see
// Record.
type Registry struct {
	repo    HistoryRepository
	mu      sync.RWMutex
	devices map[string]Device // present, by id
	removed map[string]Device // donors for replugs, by id
	logger  Logger
	now     func() time.Time
}

// NewRegistry creates a device registry. repo may be nil, in which case
// history is only kept in memory.
func NewRegistry(repo HistoryRepository) *Registry {
	return &Registry{
		repo:    repo,
		devices: make(map[string]Device),
		removed: make(map[string]Device),
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// Add registers a probed device. It returns ErrInvalidDevice when the
// device has no id yet and ErrDeviceExists when the id is already present.
//
// A matching removed device, or else a stored snapshot, is incorporated
// into d before it becomes visible.
func (r *Registry) Add(ctx context.Context, d Device) error {
	if d == nil || d.Record().ID() == "" {
		return ErrInvalidDevice
	}
	id := d.Record().ID()

	r.mu.RLock()
	_, present := r.devices[id]
	r.mu.RUnlock()
	if present {
		return fmt.Errorf("%w: %s", ErrDeviceExists, id)
	}

	r.Restore(ctx, d)

	r.mu.Lock()
	if _, ok := r.devices[id]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeviceExists, id)
	}
	delete(r.removed, id)
	r.devices[id] = d
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.Save(ctx, SnapshotOf(d.Record())); err != nil {
			r.logger.Warn("saving device history failed", "device_id", id, "error", err)
		}
	}

	r.logger.Info("device added", "device_id", id, "plugin", d.Record().Plugin(), "name", d.Record().Name())
	return nil
}

// Restore incorporates the removed device with the id of d, or else its
// stored snapshot, into d. It reports whether a donor was found. Restoring
// twice is harmless since Incorporate only fills unset fields.
//
// Callers that want the donor's state to take part in setup (a version
// that setup would otherwise replace with a fallback) call Restore after
// probing and before setup; Add restores again on its own.
func (r *Registry) Restore(ctx context.Context, d Device) bool {
	if d == nil {
		return false
	}
	id := d.Record().ID()
	if id == "" {
		return false
	}

	r.mu.RLock()
	donor, hadDonor := r.removed[id]
	r.mu.RUnlock()

	if hadDonor {
		d.Incorporate(donor)
		r.logger.Debug("incorporated removed device", "device_id", id)
		return true
	}
	if r.repo == nil {
		return false
	}

	snap, err := r.repo.Get(ctx, id)
	switch {
	case err == nil:
		d.Record().Incorporate(snap.Record())
		r.logger.Debug("incorporated device history", "device_id", id, "last_seen", snap.LastSeen)
		return true
	case errors.Is(err, ErrDeviceNotFound):
	default:
		r.logger.Warn("loading device history failed", "device_id", id, "error", err)
	}
	return false
}

// Remove moves a present device to the removed set and returns it.
func (r *Registry) Remove(ctx context.Context, id string) (Device, error) {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	delete(r.devices, id)
	r.removed[id] = d
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.Save(ctx, SnapshotOf(d.Record())); err != nil {
			r.logger.Warn("saving device history failed", "device_id", id, "error", err)
		} else if err := r.repo.MarkRemoved(ctx, id, r.now()); err != nil {
			r.logger.Warn("marking device removed failed", "device_id", id, "error", err)
		}
	}

	r.logger.Info("device removed", "device_id", id)
	return d, nil
}

// Get returns a present device by id.
func (r *Registry) Get(id string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d, nil
}

// Removed returns a removed device that is still remembered.
func (r *Registry) Removed(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.removed[id]
	return d, ok
}

// FindByGUID returns the present devices that derived guid, sorted by id.
func (r *Registry) FindByGUID(guid string) []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Device
	for _, d := range r.devices {
		if d.Record().HasGUID(guid) {
			out = append(out, d)
		}
	}
	sortByID(out)
	return out
}

// List returns the present devices sorted by id.
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	sortByID(out)
	return out
}

// Count returns the number of present devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

func sortByID(devices []Device) {
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Record().ID() < devices[j].Record().ID()
	})
}
