// Package webstorage persists per-extension key/value state backing the
// localStorage primitive exposed to extension scripts. Each extension
// owns one JSON file; writes go through a temp file and rename so a
// crash never leaves a torn file behind.
package webstorage

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"github.com/skiff-browser/exthost/internal/logging"
	"github.com/skiff-browser/exthost/internal/shared/faults"
)

// Store manages storage areas keyed by extension id.
type Store struct {
	root string
	log  *logging.Logger

	mu    sync.Mutex
	areas map[string]*Area
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, log *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to create web storage root")
	}
	return &Store{
		root:  dir,
		log:   log,
		areas: make(map[string]*Area),
	}, nil
}

// Area returns the storage area for an extension, loading it from disk on
// first use.
func (s *Store) Area(extID string) (*Area, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.areas[extID]; ok {
		return a, nil
	}

	a := &Area{
		path: filepath.Join(s.root, extID+".json"),
		data: make(map[string]string),
	}
	raw, err := os.ReadFile(a.path)
	switch {
	case os.IsNotExist(err):
		// Fresh area, nothing persisted yet.
	case err != nil:
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to read web storage")
	default:
		if err := sonic.Unmarshal(raw, &a.data); err != nil {
			s.log.Warn("web storage file unreadable, starting empty",
				zap.String("extension_id", extID), zap.Error(err))
			a.data = make(map[string]string)
		}
	}

	s.areas[extID] = a
	return a, nil
}

// Drop discards an extension's area and its file. Used on uninstall.
func (s *Store) Drop(extID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.areas, extID)
	path := filepath.Join(s.root, extID+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, faults.FilesystemFailure, "failed to remove web storage")
	}
	return nil
}

// Area is one extension's key/value space. All methods are safe for
// concurrent use.
type Area struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// Get returns the value for key and whether it exists.
func (a *Area) Get(key string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.data[key]
	return v, ok
}

// Set stores key and flushes the area.
func (a *Area) Set(key, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[key] = value
	return a.flush()
}

// Remove deletes key and flushes the area. Removing an absent key is not
// an error.
func (a *Area) Remove(key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.data[key]; !ok {
		return nil
	}
	delete(a.data, key)
	return a.flush()
}

// Clear empties the area and flushes it.
func (a *Area) Clear() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.data) == 0 {
		return nil
	}
	a.data = make(map[string]string)
	return a.flush()
}

// Keys returns the stored keys in sorted order.
func (a *Area) Keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.data))
	for k := range a.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored keys.
func (a *Area) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.data)
}

func (a *Area) flush() error {
	raw, err := sonic.Marshal(a.data)
	if err != nil {
		return errors.Wrap(err, faults.FilesystemFailure, "failed to encode web storage")
	}
	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errors.Wrap(err, faults.FilesystemFailure, "failed to write web storage")
	}
	if err := os.Rename(tmp, a.path); err != nil {
		return errors.Wrap(err, faults.FilesystemFailure, "failed to replace web storage")
	}
	return nil
}
