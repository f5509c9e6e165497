package quirk

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrSyntax is returned for a malformed quirk file.
var ErrSyntax = errors.New("quirk: syntax error")

// File extensions recognised when loading a directory.
const (
	ExtQuirk = ".quirk"
	ExtYAML  = ".yaml"
	ExtYML   = ".yml"
)

// fileYAML is the YAML quirk file layout:
//
//	quirks:
//	  - match: BLOCK\UUID_E478-FA50
//	    values:
//	      Name: Firmware volume
//	      BlockDeviceFilename: firmware.bin
type fileYAML struct {
	Quirks []struct {
		Match  string            `yaml:"match"`
		Values map[string]string `yaml:"values"`
	} `yaml:"quirks"`
}

// LoadPaths loads every path into one store. A path may be a file or a
// directory; directories are read non-recursively in name order and files
// with unknown extensions are ignored. Later files override earlier ones.
func LoadPaths(paths ...string) (*MemoryStore, error) {
	store := NewMemoryStore()
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("quirk: %w", err)
		}
		if !fi.IsDir() {
			if err := loadFile(store, p); err != nil {
				return nil, err
			}
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("quirk: listing %s: %w", p, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() && knownExt(e.Name()) {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			if err := loadFile(store, filepath.Join(p, name)); err != nil {
				return nil, err
			}
		}
	}
	return store, nil
}

func knownExt(name string) bool {
	switch filepath.Ext(name) {
	case ExtQuirk, ExtYAML, ExtYML:
		return true
	}
	return false
}

func loadFile(store *MemoryStore, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return fmt.Errorf("quirk: reading %s: %w", path, err)
	}

	switch filepath.Ext(path) {
	case ExtYAML, ExtYML:
		err = ParseYAML(store, data)
	default:
		err = ParseKeyFile(store, data)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// ParseYAML adds the entries of a YAML quirk file to store.
func ParseYAML(store *MemoryStore, data []byte) error {
	var f fileYAML
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: %w", ErrSyntax, err)
	}
	for i, q := range f.Quirks {
		if strings.TrimSpace(q.Match) == "" {
			return fmt.Errorf("%w: entry %d has no match", ErrSyntax, i)
		}
		store.SetAll(strings.TrimSpace(q.Match), q.Values)
	}
	return nil
}

// ParseKeyFile adds the entries of a .quirk key file to store:
//
//	[BLOCK\UUID_E478-FA50]
//	Name = Firmware volume
//	# comments start with # or ;
func ParseKeyFile(store *MemoryStore, data []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	group := ""
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}
		if line[0] == '[' {
			if !strings.HasSuffix(line, "]") || len(line) < 3 {
				return fmt.Errorf("%w: line %d: bad group %q", ErrSyntax, lineNo, line)
			}
			group = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("%w: line %d: expected key = value", ErrSyntax, lineNo)
		}
		if group == "" {
			return fmt.Errorf("%w: line %d: key outside of a group", ErrSyntax, lineNo)
		}
		store.Set(group, strings.TrimSpace(key), strings.TrimSpace(value))
	}
	return scanner.Err()
}
