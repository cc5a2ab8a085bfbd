package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ManifestEntry summarizes one persisted snapshot.
type ManifestEntry struct {
	File    string    `json:"file"`
	Records int       `json:"records"`
	Pending int       `json:"pending"`
	SavedAt time.Time `json:"savedAt"`
}

// manifest is the per-directory summary stored under the system dir. It is
// advisory: a missing or corrupt manifest is rebuilt from subsequent saves.
type manifest struct {
	path string

	mu      sync.RWMutex
	Version int                       `json:"version"`
	Entries map[string]*ManifestEntry `json:"entries"`
	dirty   bool
}

func newManifest(dir, systemDir string) *manifest {
	return &manifest{
		path:    filepath.Join(dir, systemDir, "manifest.json"),
		Version: 1,
		Entries: make(map[string]*ManifestEntry),
	}
}

func (m *manifest) load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	if err := json.Unmarshal(data, m); err != nil || m.Entries == nil {
		m.Entries = make(map[string]*ManifestEntry)
		m.dirty = true
	}
	return nil
}

func (m *manifest) save() error {
	m.mu.RLock()
	if !m.dirty {
		m.mu.RUnlock()
		return nil
	}
	data, err := json.MarshalIndent(m, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	if err := writeFileAtomic(m.path, data, 0644); err != nil {
		return err
	}

	m.mu.Lock()
	m.dirty = false
	m.mu.Unlock()
	return nil
}

func (m *manifest) set(key string, entry ManifestEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries[key] = &entry
	m.dirty = true
}

func (m *manifest) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Entries[key]; ok {
		delete(m.Entries, key)
		m.dirty = true
	}
}

func (m *manifest) get(key string) (ManifestEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.Entries[key]
	if !ok {
		return ManifestEntry{}, false
	}
	return *e, true
}

// keys returns the manifest keys in sorted order.
func (m *manifest) keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.Entries))
	for k := range m.Entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *manifest) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Entries)
}
