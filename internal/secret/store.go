package secret

import (
	"os"
	"sync"
)

// SecretStore looks up credentials referenced from connection URLs.
type SecretStore interface {
	// Get returns the value stored under key. A missing key yields an
	// empty value and no error.
	Get(key string) ([]byte, error)
}

// EnvStore reads secrets from environment variables.
type EnvStore struct{}

func (EnvStore) Get(key string) ([]byte, error) { return []byte(os.Getenv(key)), nil }

// MemoryStore keeps secrets in a map. Used in tests and as a scratch store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (m *MemoryStore) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key], nil
}
