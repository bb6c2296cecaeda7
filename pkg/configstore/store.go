// Package configstore implements the typed key-value file for user-local
// state (linked module/project sources, cached secrets) that spec §6
// places at "<root>/.garden/config-store.json".
package configstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/openfroyo/garden/pkg/gardenerr"
)

// Store is a JSON-file-backed typed key-value store, guarded by an
// in-process mutex (one Store per process per path is expected — the
// same discipline the teacher's sqlite store uses for its connection,
// just without a database engine, since spec §6 mandates a plain file).
type Store struct {
	path string
	mu   sync.Mutex
	data map[string]json.RawMessage
}

// Open loads path if it exists, or starts an empty store otherwise.
func Open(path string) (*Store, error) {
	s := &Store{path: path, data: map[string]json.RawMessage{}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, gardenerr.Wrap(gardenerr.KindRuntime, "failed to read config store", err).WithEntity(path)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindConfiguration, "config store is corrupt", err).WithEntity(path)
	}
	return s, nil
}

// Get unmarshals the stored value for key into out, reporting whether the
// key was present.
func (s *Store) Get(key string, out interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, gardenerr.Wrap(gardenerr.KindInternal, "failed to decode config store value", err).WithEntity(key)
	}
	return true, nil
}

// Set stores value under key and persists the store. Calling Set twice
// with the same key overwrites the previous value (spec §8 round-trip law).
func (s *Store) Set(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return gardenerr.Wrap(gardenerr.KindInternal, "failed to encode config store value", err).WithEntity(key)
	}

	s.mu.Lock()
	s.data[key] = raw
	snapshot := make(map[string]json.RawMessage, len(s.data))
	for k, v := range s.data {
		snapshot[k] = v
	}
	s.mu.Unlock()

	return s.persist(snapshot)
}

// Delete removes key from the store, if present.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	delete(s.data, key)
	snapshot := make(map[string]json.RawMessage, len(s.data))
	for k, v := range s.data {
		snapshot[k] = v
	}
	s.mu.Unlock()

	return s.persist(snapshot)
}

// Keys returns the current set of stored keys.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// persist writes the store atomically (write-temp + rename), per spec §5's
// atomicity requirement for the .garden cache directory.
func (s *Store) persist(snapshot map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return gardenerr.Wrap(gardenerr.KindInternal, "failed to marshal config store", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return gardenerr.Wrap(gardenerr.KindRuntime, "failed to create config store directory", err).WithEntity(dir)
	}

	tmp, err := os.CreateTemp(dir, ".config-store-*")
	if err != nil {
		return gardenerr.Wrap(gardenerr.KindRuntime, "failed to create temp config store file", err).WithEntity(dir)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return gardenerr.Wrap(gardenerr.KindRuntime, "failed to write config store", err).WithEntity(tmpPath)
	}
	if err := tmp.Close(); err != nil {
		return gardenerr.Wrap(gardenerr.KindRuntime, "failed to close temp config store file", err).WithEntity(tmpPath)
	}
	return os.Rename(tmpPath, s.path)
}
