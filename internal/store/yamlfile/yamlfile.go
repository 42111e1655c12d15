// Package yamlfile keeps the process table in a single YAML document.
package yamlfile

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/loykin/zapm/internal/process"
	"github.com/loykin/zapm/internal/store"
)

// Store reads and writes path atomically (temp file + rename).
type Store struct {
	path string

	mu   sync.Mutex
	last [sha256.Size]byte // digest of the bytes this store last read or wrote
}

func New(path string) *Store {
	return &Store{path: filepath.Clean(path)}
}

func (s *Store) Path() string { return s.path }

// Load returns an empty table when the file does not exist yet.
func (s *Store) Load(_ context.Context) (map[string]process.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.last = sha256.Sum256(nil)
			return make(map[string]process.Record), nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	s.last = sha256.Sum256(data)
	recs := make(map[string]process.Record)
	if len(bytes.TrimSpace(data)) == 0 {
		return recs, nil
	}
	if err := yaml.Unmarshal(data, &recs); err != nil {
		return nil, &store.ParseError{Source: s.path, Err: err}
	}
	return recs, nil
}

func (s *Store) Save(_ context.Context, recs map[string]process.Record) error {
	if recs == nil {
		recs = map[string]process.Record{}
	}
	data, err := yaml.Marshal(recs)
	if err != nil {
		return fmt.Errorf("encode process table: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	// the CLI and the server may save at the same time, so each writer gets
	// its own temp file
	f, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	_, werr := f.Write(data)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, werr)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	s.last = sha256.Sum256(data)
	return nil
}

// Changed reports whether the file on disk differs from what this store last
// read or wrote, i.e. whether another writer touched it.
func (s *Store) Changed() bool {
	data, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false
	}
	sum := sha256.Sum256(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	return sum != s.last
}

func (s *Store) Close() error { return nil }
