// Package fs implements core.Persistence on the local filesystem.
//
// Every collection snapshot lives in one file, <Dir>/<key><ext>, written
// atomically. A manifest under <Dir>/<SystemDir>/manifest.json summarizes
// what each snapshot holds so tools can report on a directory without
// decoding every file.
package fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/docsync/pkg/core"
)

// DefaultSystemDir holds the manifest inside a snapshot directory.
const DefaultSystemDir = ".docsync"

// DefaultFormat is the snapshot file extension used when none is set.
const DefaultFormat = ".json"

var (
	// ErrInvalidKey is returned for keys that are not a plain file stem.
	ErrInvalidKey = errors.New("invalid snapshot key")
	// ErrUnsupportedFormat is returned for an extension with no serializer.
	ErrUnsupportedFormat = errors.New("unsupported snapshot format")
	// ErrNewerSnapshot is returned when a file was written by a newer layout.
	ErrNewerSnapshot = errors.New("snapshot version is newer than supported")
)

// Config holds the configuration for the filesystem store.
type Config struct {
	Dir       string
	Format    string // file extension, e.g. ".json", ".yaml", ".cbor"
	SystemDir string
	Logger    *slog.Logger
	// Strict decodes JSON numbers as json.Number.
	Strict bool
	// MustExist fails NewStore when Dir does not exist instead of creating it.
	MustExist bool
	// Serializers overrides the codec table keyed by extension.
	Serializers map[string]Serializer
}

// Store persists snapshots as files in one directory.
type Store struct {
	dir        string
	config     Config
	logger     *slog.Logger
	serializer Serializer
	manifest   *manifest

	mu            sync.RWMutex
	watcherActive bool
	lastSave      *time.Time
	saves         int
}

// NewStore opens (or creates) a snapshot directory.
func NewStore(config Config) (*Store, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	if config.Format == "" {
		config.Format = DefaultFormat
	}
	if !strings.HasPrefix(config.Format, ".") {
		config.Format = "." + config.Format
	}
	if config.SystemDir == "" {
		config.SystemDir = DefaultSystemDir
	}
	if config.Serializers == nil {
		config.Serializers = DefaultSerializers(config.Strict)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	serializer, ok := config.Serializers[config.Format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, config.Format)
	}

	dir, err := filepath.Abs(config.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve directory %q: %w", config.Dir, err)
	}
	if info, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
		}
		if config.MustExist {
			return nil, fmt.Errorf("snapshot directory %s does not exist", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	s := &Store{
		dir:        dir,
		config:     config,
		logger:     logger,
		serializer: serializer,
		manifest:   newManifest(dir, config.SystemDir),
	}
	if err := s.manifest.load(); err != nil {
		logger.Warn("manifest unreadable, starting fresh", "error", err)
	}
	return s, nil
}

// Dir returns the absolute snapshot directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file a key is persisted to.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, key+s.config.Format)
}

// Load implements core.Persistence. A missing file yields (nil, nil).
func (s *Store) Load(ctx context.Context, key string) (*core.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.Path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %q: %w", key, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	snap, err := s.serializer.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %q: %w", key, err)
	}
	if snap.Version > core.SnapshotVersion {
		return nil, fmt.Errorf("%w: %q has version %d", ErrNewerSnapshot, key, snap.Version)
	}
	return snap, nil
}

// Save implements core.Persistence.
func (s *Store) Save(ctx context.Context, key string, snap *core.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("nil snapshot for %q", key)
	}

	data, err := s.serializer.Encode(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %q: %w", key, err)
	}
	if err := writeFileAtomic(s.Path(key), data, 0644); err != nil {
		return err
	}

	pending := 0
	for _, r := range snap.Records {
		if r.Unconfirmed() {
			pending++
		}
	}
	s.manifest.set(key, ManifestEntry{
		File:    key + s.config.Format,
		Records: len(snap.Records),
		Pending: pending,
		SavedAt: snap.SavedAt,
	})
	if err := s.manifest.save(); err != nil {
		s.logger.Warn("failed to save manifest", "error", err)
	}

	now := time.Now()
	s.mu.Lock()
	s.lastSave = &now
	s.saves++
	s.mu.Unlock()

	s.logger.Debug("snapshot saved", "key", key, "records", len(snap.Records))
	return nil
}

// Remove deletes a snapshot. Removing a missing key is not an error.
func (s *Store) Remove(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := os.Remove(s.Path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove snapshot %q: %w", key, err)
	}
	s.manifest.delete(key)
	return s.manifest.save()
}

// Keys lists the snapshot keys present in the directory, sorted.
func (s *Store) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || isTempFile(e.Name()) {
			continue
		}
		if key, ok := s.keyOf(e.Name()); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Entry returns the manifest summary for key.
func (s *Store) Entry(key string) (ManifestEntry, bool) {
	return s.manifest.get(key)
}

// keyOf maps a file name in the directory back to its snapshot key.
func (s *Store) keyOf(name string) (string, bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, s.config.Format) {
		return "", false
	}
	key := strings.TrimSuffix(base, s.config.Format)
	if validateKey(key) != nil {
		return "", false
	}
	return key, true
}

func validateKey(key string) error {
	if key == "" || key == "." || key == ".." ||
		strings.HasPrefix(key, ".") ||
		strings.ContainsAny(key, `/\`) ||
		strings.HasPrefix(key, TempFilePrefix) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func (s *Store) setWatcherActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watcherActive = active
}

var _ core.Persistence = (*Store)(nil)
