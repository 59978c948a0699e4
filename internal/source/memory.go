package source

import (
	"fmt"
	"sync"

	"dbconduit/internal/domain"
)

// MemorySource holds specs in memory. Saved changes last for the process.
type MemorySource struct {
	name string

	mu    sync.RWMutex
	specs []domain.ConnectionSpec
}

func NewMemorySource(name string, specs ...domain.ConnectionSpec) *MemorySource {
	return &MemorySource{name: name, specs: specs}
}

func (m *MemorySource) Name() string { return m.name }

func (m *MemorySource) Load() ([]domain.ConnectionSpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.ConnectionSpec(nil), m.specs...), nil
}

func (m *MemorySource) Save(specs []domain.ConnectionSpec, op SaveOp) error {
	if op != SaveAdd && op != SaveDelete {
		return fmt.Errorf("unknown save op %q", op)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs = apply(m.specs, specs, op)
	return nil
}
