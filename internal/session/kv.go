package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
)

// KV is the durable key-value storage behind a Store. Update applies fn to the
// current contents and persists the result as one atomic change.
type KV interface {
	Load() (map[string]string, error)
	Update(fn func(m map[string]string)) error
}

// MemoryKV keeps values in process memory. It backs tests and ephemeral
// sessions that must not outlive the process.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

func (m *MemoryKV) Load() (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryKV) Update(fn func(map[string]string)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.values)
	return nil
}

// FileKV stores values as one JSON object on disk. An advisory file lock
// serializes access across processes sharing the data directory, and writes
// go through a temp file plus rename.
type FileKV struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// NewFileKV creates a FileKV persisting to path. The lock file lives next to
// it with a .lock suffix.
func NewFileKV(path string) *FileKV {
	return &FileKV{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the file backing this store.
func (f *FileKV) Path() string {
	return f.path
}

func (f *FileKV) Load() (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	if err := f.lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock session file: %w", err)
	}
	defer f.lock.Unlock()

	return f.read()
}

func (f *FileKV) Update(fn func(map[string]string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("lock session file: %w", err)
	}
	defer f.lock.Unlock()

	values, err := f.read()
	if err != nil {
		return err
	}
	fn(values)

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session file: %w", err)
	}
	if err := atomic.WriteFile(f.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// read loads the JSON file. Caller must hold the lock.
func (f *FileKV) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	values := make(map[string]string)
	if len(bytes.TrimSpace(data)) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("unmarshal session file: %w", err)
	}
	return values, nil
}
