package fs

import (
	"time"

	"github.com/aretw0/introspection"
)

// StoreState exposes internal state for observability.
type StoreState struct {
	Dir           string     `json:"dir"`
	SystemDir     string     `json:"system_dir"`
	Format        string     `json:"format"`
	Strict        bool       `json:"strict"`
	Snapshots     int        `json:"snapshots"`
	Saves         int        `json:"saves"`
	Serializers   []string   `json:"serializers"`
	WatcherActive bool       `json:"watcher_active"`
	LastSave      *time.Time `json:"last_save,omitempty"`
}

// State implements introspection.Introspectable.
func (s *Store) State() any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	serializers := make([]string, 0, len(s.config.Serializers))
	for ext := range s.config.Serializers {
		serializers = append(serializers, ext)
	}

	return StoreState{
		Dir:           s.dir,
		SystemDir:     s.config.SystemDir,
		Format:        s.config.Format,
		Strict:        s.config.Strict,
		Snapshots:     s.manifest.len(),
		Saves:         s.saves,
		Serializers:   serializers,
		WatcherActive: s.watcherActive,
		LastSave:      s.lastSave,
	}
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string {
	return "fs"
}

var _ introspection.Introspectable = (*Store)(nil)
var _ introspection.Component = (*Store)(nil)
