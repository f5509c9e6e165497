// Package cmdline exposes the kernel command line as a flat key=value
// property source.
//
// Device variants consult it opportunistically, e.g. to learn the active
// A/B boot slot (androidboot.slot_suffix) or the bootloader version. A
// missing or unreadable command line yields an empty source, never an error
// that stops device enumeration.
package cmdline

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// DefaultPath is the kernel command line on Linux.
const DefaultPath = "/proc/cmdline"

// maxSize bounds how much of the command line is read.
const maxSize = 4096

// Well-known Android boot properties.
const (
	KeyBootSlot   = "androidboot.slot_suffix"
	KeyABLVersion = "androidboot.abl.version"
	KeySerial     = "androidboot.serialno"
)

// Properties is an immutable set of command line arguments.
type Properties struct {
	values map[string]string
}

// Source is the read-only lookup interface consumed by devices and the
// quirk resolver.
type Source interface {
	Lookup(key string) (string, bool)
}

// Parse splits a command line into key=value pairs. Arguments without a
// value are ignored; later duplicates win, as they do for the kernel.
func Parse(s string) *Properties {
	p := &Properties{values: make(map[string]string)}
	for _, arg := range strings.Fields(s) {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" || value == "" {
			continue
		}
		p.values[key] = strings.Trim(value, `"`)
	}
	return p
}

// FromMap builds Properties from a map, for tests and static configuration.
func FromMap(m map[string]string) *Properties {
	p := &Properties{values: make(map[string]string, len(m))}
	for k, v := range m {
		p.values[k] = v
	}
	return p
}

// Load reads and parses the command line at path.
func Load(path string) (*Properties, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	buf := make([]byte, maxSize)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Parse(string(buf[:n])), nil
}

// Empty returns a source without any properties.
func Empty() *Properties {
	return &Properties{values: map[string]string{}}
}

// Lookup returns the value of key.
func (p *Properties) Lookup(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p.values[key]
	return v, ok
}

// Keys returns all keys in sorted order.
func (p *Properties) Keys() []string {
	if p == nil {
		return nil
	}
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
