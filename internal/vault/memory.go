package vault

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"miner-go/internal/miner"
)

// MemoryVault is an in-memory implementation of the Vault interface.
// It stores all objects in memory, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryVault struct {
	name     string
	layout   layout
	objects  map[string][]byte // object key -> body
	versions map[string]int64  // metadata name -> version
	puts     map[string]int    // object key -> number of writes
	mu       sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string, sharder miner.Sharder) *MemoryVault {
	return &MemoryVault{
		name:     name,
		layout:   layout{sharder: sharder},
		objects:  make(map[string][]byte),
		versions: make(map[string]int64),
		puts:     make(map[string]int),
	}
}

func (m *MemoryVault) put(key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = data
	m.puts[key]++
	return nil
}

func (m *MemoryVault) get(key string, w io.Writer, what string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", what, err)
	}
	return nil
}

// PutContent stores the body of content id.
func (m *MemoryVault) PutContent(id int64, r io.Reader, size int64) error {
	return m.put(m.layout.contentKey(id), r, size)
}

// GetContent retrieves the body of content id.
func (m *MemoryVault) GetContent(id int64, w io.Writer) error {
	return m.get(m.layout.contentKey(id), w, fmt.Sprintf("content %d", id))
}

// PutProject stores the record of project id.
func (m *MemoryVault) PutProject(id int64, r io.Reader, size int64) error {
	return m.put(m.layout.projectKey(id), r, size)
}

// GetProject retrieves the record of project id.
func (m *MemoryVault) GetProject(id int64, w io.Writer) error {
	return m.get(m.layout.projectKey(id), w, fmt.Sprintf("project %d", id))
}

// PutMetadata stores a named metadata item.
func (m *MemoryVault) PutMetadata(name string, r io.Reader, size int64, version int64) error {
	if err := m.put(m.layout.metadataKey(name), r, size); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[name] = version
	return nil
}

// GetMetadataVersion returns the version of a metadata item.
// Returns 0 if nothing has been stored under name.
func (m *MemoryVault) GetMetadataVersion(name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.versions[name], nil
}

// GetMetadata retrieves a named metadata item.
func (m *MemoryVault) GetMetadata(name string, w io.Writer) error {
	return m.get(m.layout.metadataKey(name), w, fmt.Sprintf("metadata %q", name))
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

// Keys returns the sorted keys of all stored objects under prefix.
func (m *MemoryVault) Keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// ContentWrites returns how many times the body of content id has been written.
func (m *MemoryVault) ContentWrites(id int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts[m.layout.contentKey(id)]
}

// Compile-time check that MemoryVault implements miner.Vault interface
var _ miner.Vault = (*MemoryVault)(nil)
