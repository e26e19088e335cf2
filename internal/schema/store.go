package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// FileStore keeps schemas in a single msgpack encoded file so that a restarted
// process does not repeat introspection.
type FileStore struct {
	path string

	mu      sync.Mutex
	entries map[string]*Schema
}

// NewFileStore returns a store backed by path. The file is read lazily.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) read() error {
	if f.entries != nil {
		return nil
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.entries = make(map[string]*Schema)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read schema store: %w", err)
	}
	entries := make(map[string]*Schema)
	if err := msgpack.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("decode schema store %s: %w", f.path, err)
	}
	f.entries = entries
	return nil
}

func (f *FileStore) write() error {
	data, err := msgpack.Marshal(f.entries)
	if err != nil {
		return fmt.Errorf("encode schema store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("write schema store: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".schema-*")
	if err != nil {
		return fmt.Errorf("write schema store: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write schema store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write schema store: %w", err)
	}
	return os.Rename(tmp.Name(), f.path)
}

// Load implements Store.
func (f *FileStore) Load(key string) (*Schema, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.read(); err != nil {
		return nil, false, err
	}
	s, ok := f.entries[key]
	return s, ok, nil
}

// Save implements Store.
func (f *FileStore) Save(key string, s *Schema) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.read(); err != nil {
		return err
	}
	f.entries[key] = s
	return f.write()
}

// Clear implements Store; it removes the backing file.
func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = make(map[string]*Schema)
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear schema store: %w", err)
	}
	return nil
}
