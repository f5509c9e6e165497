package quirk

import (
	"errors"
	"fmt"

	"github.com/DylanVanAssche/fwupd/internal/cmdline"
	"github.com/DylanVanAssche/fwupd/internal/device"
	"github.com/DylanVanAssche/fwupd/internal/fwerr"
)

// Indirect keys resolved against the boot property source by default.
const (
	KeyDdVersionArg = "DdVersionArg"
	KeyDdSerialArg  = "DdSerialArg"
)

// DefaultIndirectKeys returns the keys whose values name a boot property.
func DefaultIndirectKeys() []string {
	return []string{KeyDdVersionArg, KeyDdSerialArg}
}

// Logger is the logging interface used by the resolver.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Report lists what Apply did with each matched key, as "match:key".
type Report struct {
	Applied     []string
	Unsupported []string
	Unresolved  []string
}

// Resolver applies quirk entries to devices. It holds no per-device state
// and is safe for concurrent use on different devices.
type Resolver struct {
	store    Store
	props    cmdline.Source
	indirect map[string]bool
	logger   Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithBootProperties sets the source indirect keys are resolved against.
func WithBootProperties(src cmdline.Source) Option {
	return func(r *Resolver) {
		r.props = src
	}
}

// WithIndirectKeys replaces the set of indirect keys.
func WithIndirectKeys(keys ...string) Option {
	return func(r *Resolver) {
		r.indirect = make(map[string]bool, len(keys))
		for _, k := range keys {
			r.indirect[k] = true
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a resolver over store.
func NewResolver(store Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		props:  cmdline.Empty(),
		logger: noopLogger{},
	}
	WithIndirectKeys(DefaultIndirectKeys()...)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply looks up every instance id and then every GUID of dev and hands
// the matched key/value pairs to dev.SetQuirkKV, keys in sorted order.
// An identity is only consulted once even when it is reachable through
// both its instance id and its GUID.
//
// Keys the device does not own (fwerr.ErrNotSupported) are skipped and
// listed in the report. Any other error aborts.
func (r *Resolver) Apply(dev device.Device) (Report, error) {
	var rep Report
	if r.store == nil {
		return rep, nil
	}

	rec := dev.Record()
	seen := make(map[string]bool)
	candidates := append(rec.InstanceIDs(), rec.GUIDs()...)

	for _, match := range candidates {
		guid := device.GUIDFromString(match)
		if seen[guid] {
			continue
		}
		seen[guid] = true

		entry := r.store.Lookup(match)
		if len(entry) == 0 {
			continue
		}

		for _, key := range sortedKeys(entry) {
			value := entry[key]
			tag := match + ":" + key

			if r.indirect[key] {
				resolved, ok := r.props.Lookup(value)
				if !ok {
					r.logger.Debug("indirect quirk unresolved", "match", match, "key", key, "property", value)
					rep.Unresolved = append(rep.Unresolved, tag)
					continue
				}
				value = resolved
			}

			err := dev.SetQuirkKV(key, value)
			switch {
			case err == nil:
				rep.Applied = append(rep.Applied, tag)
			case errors.Is(err, fwerr.ErrNotSupported):
				r.logger.Debug("quirk key not supported", "match", match, "key", key)
				rep.Unsupported = append(rep.Unsupported, tag)
			default:
				r.logger.Warn("applying quirk failed", "match", match, "key", key, "error", err)
				return rep, fmt.Errorf("quirk %s=%s for %s: %w", key, value, match, err)
			}
		}
	}
	return rep, nil
}
