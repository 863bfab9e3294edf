// Package store provides the local key-value persistence surface used by the
// activation ledger and the device identity provider. Each value is a JSON
// document in a file under a variant-specific namespace directory, so two
// distribution variants never see each other's state.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned when no value has been stored under a key.
var ErrNotFound = errors.New("store: key not found")

// Store is a namespaced JSON file store. Writes are atomic (temp file plus
// rename) so no reader ever observes a partial document.
type Store struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

// Open creates the namespace directory under dataDir and returns a store
// scoped to it. A failure here means persistence is unavailable; callers are
// expected to degrade to session-only state rather than abort.
func Open(dataDir, namespace string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Join(dataDir, sanitize(namespace))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store directory %s: %w", dir, err)
	}
	logger.Debug("store opened",
		slog.String("namespace", namespace),
		slog.String("dir", dir),
	)
	return &Store{dir: dir, logger: logger}, nil
}

// Get unmarshals the value stored under key into v.
func (s *Store) Get(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// Put stores v under key, overwriting any previous value.
func (s *Store) Put(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	target := s.path(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit %s: %w", key, err)
	}

	s.logger.Debug("store value written",
		slog.String("key", key),
		slog.Int("size_bytes", len(data)),
	)
	return nil
}

// Delete removes the value stored under key. Deleting a missing key is a
// no-op.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, sanitize(key)+".json")
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
