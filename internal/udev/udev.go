// Package udev reads the environment properties of kernel devices from
// sysfs and the udev database without linking against libudev.
//
// Only the block subsystem is enumerated; the properties it exposes
// (ID_PART_ENTRY_NAME, ID_PART_ENTRY_TYPE, ID_FS_UUID, ID_FS_LABEL, ...)
// are what the block and partition device variants probe.
package udev

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Default filesystem roots.
const (
	DefaultSysRoot = "/sys"
	DefaultRunRoot = "/run"
)

// ErrNoSuchDevice is returned when a device is not present in sysfs.
var ErrNoSuchDevice = errors.New("udev: no such device")

// Device is a snapshot of one kernel device and its properties.
type Device struct {
	Name       string
	Subsystem  string
	SysPath    string
	DevNode    string
	Properties map[string]string
}

// Property returns a property and whether it is present.
func (d *Device) Property(key string) (string, bool) {
	if d == nil || d.Properties == nil {
		return "", false
	}
	v, ok := d.Properties[key]
	return v, ok
}

// Reader resolves devices relative to configurable roots so tests can use
// a fake tree.
type Reader struct {
	SysRoot string
	RunRoot string
}

// NewReader returns a Reader for the live system.
func NewReader() *Reader {
	return &Reader{SysRoot: DefaultSysRoot, RunRoot: DefaultRunRoot}
}

// EnumerateBlock returns every block device, sorted by name.
func (r *Reader) EnumerateBlock() ([]*Device, error) {
	entries, err := os.ReadDir(filepath.Join(r.SysRoot, "class", "block"))
	if err != nil {
		return nil, fmt.Errorf("listing block devices: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	devices := make([]*Device, 0, len(names))
	for _, name := range names {
		d, err := r.Block(name)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// Block reads a single block device by kernel name (e.g. "sda1") or by
// device node (e.g. "/dev/sda1").
func (r *Reader) Block(name string) (*Device, error) {
	name = strings.TrimPrefix(name, "/dev/")
	classPath := filepath.Join(r.SysRoot, "class", "block", name)

	uevent, err := readKeyValueFile(filepath.Join(classPath, "uevent"), "")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchDevice, name)
		}
		return nil, fmt.Errorf("reading uevent of %s: %w", name, err)
	}

	d := &Device{
		Name:       name,
		Subsystem:  "block",
		Properties: uevent,
	}

	if resolved, err := filepath.EvalSymlinks(classPath); err == nil {
		sysRoot := filepath.Clean(r.SysRoot)
		if rs, err := filepath.EvalSymlinks(sysRoot); err == nil {
			sysRoot = rs
		}
		d.SysPath = resolved
		if devpath := strings.TrimPrefix(resolved, sysRoot); devpath != resolved {
			d.Properties["DEVPATH"] = devpath
		}
	}
	if devname, ok := uevent["DEVNAME"]; ok {
		d.DevNode = "/dev/" + devname
		d.Properties["DEVNAME"] = d.DevNode
	}

	// udev database entries are optional; a device that udev has not
	// processed yet simply has fewer properties.
	if major, minor := uevent["MAJOR"], uevent["MINOR"]; major != "" && minor != "" {
		dbPath := filepath.Join(r.RunRoot, "udev", "data", fmt.Sprintf("b%s:%s", major, minor))
		db, err := readKeyValueFile(dbPath, "E:")
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading udev database of %s: %w", name, err)
		}
		for k, v := range db {
			d.Properties[k] = v
		}
	}

	return d, nil
}

// readKeyValueFile parses KEY=VALUE lines. When prefix is set only lines
// starting with it are considered and the prefix is stripped.
func readKeyValueFile(path, prefix string) (map[string]string, error) {
	f, err := os.Open(path) //nolint:gosec // path is built from sysfs roots
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // read-only

	props := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if prefix != "" {
			if !strings.HasPrefix(line, prefix) {
				continue
			}
			line = strings.TrimPrefix(line, prefix)
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			continue
		}
		props[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return props, nil
}
