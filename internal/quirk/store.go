package quirk

import (
	"maps"
	"sort"
	"sync"

	"github.com/DylanVanAssche/fwupd/internal/device"
)

// Store is a read-only quirk database.
type Store interface {
	// Lookup returns the entry for an instance id or GUID, or nil.
	// The returned map must not be modified.
	Lookup(id string) map[string]string
}

// MemoryStore is an in-memory Store. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]map[string]string)}
}

// Set stores one key/value pair for id, replacing an earlier value.
func (s *MemoryStore) Set(id, key, value string) {
	guid := device.GUIDFromString(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[guid]
	if !ok {
		entry = make(map[string]string)
		s.entries[guid] = entry
	}
	entry[key] = value
}

// SetAll stores every pair of values for id.
func (s *MemoryStore) SetAll(id string, values map[string]string) {
	for k, v := range values {
		s.Set(id, k, v)
	}
}

// Lookup returns the entry for id.
func (s *MemoryStore) Lookup(id string) map[string]string {
	guid := device.GUIDFromString(id)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[guid]
}

// Len returns the number of entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Merge copies every entry of other into s. Keys in other win.
func (s *MemoryStore) Merge(other *MemoryStore) {
	other.mu.RLock()
	snapshot := make(map[string]map[string]string, len(other.entries))
	for guid, entry := range other.entries {
		snapshot[guid] = maps.Clone(entry)
	}
	other.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for guid, entry := range snapshot {
		dst, ok := s.entries[guid]
		if !ok {
			s.entries[guid] = entry
			continue
		}
		maps.Copy(dst, entry)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
