package engine

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// FS is the file system surface the engine needs: whole-file reads for
// load steps and whole-file writes for save steps.
type FS interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
}

// OSFS is the real file system. Writes create parent directories.
type OSFS struct{}

func (OSFS) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &SourceNotFoundError{Path: path}
	}
	return data, err
}

func (OSFS) WriteFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// MemFS is an in-memory FS for tests and one-shot dry runs. It counts
// reads per path so tests can assert that a step never touched a file.
type MemFS struct {
	mu    sync.Mutex
	files map[string][]byte
	reads map[string]int
}

func NewMemFS() *MemFS {
	return &MemFS{files: map[string][]byte{}, reads: map[string]int{}}
}

func (m *MemFS) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[path]++
	data, ok := m.files[path]
	if !ok {
		return nil, &SourceNotFoundError{Path: path}
	}
	return append([]byte(nil), data...), nil
}

func (m *MemFS) WriteFile(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = append([]byte(nil), data...)
	return nil
}

// Reads returns how many times a path was opened.
func (m *MemFS) Reads(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[path]
}

// TotalReads returns the total number of read calls across all paths.
func (m *MemFS) TotalReads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.reads {
		n += c
	}
	return n
}
