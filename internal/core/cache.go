package core

import (
	"fmt"
	"sync"

	"dbconduit/internal/domain"
)

// RowCache holds the rows already pulled from a cursor, indexed from 0.
// Append is always called with offset equal to the current length.
type RowCache interface {
	SetHeader(header domain.Header) error
	Header() domain.Header
	Append(offset int, rows []domain.Row) error
	Rows(from, to int) ([]domain.Row, error)
}

// Archive is the durable row store behind ArchiveCache.
type Archive interface {
	SetHeader(callID string, header domain.Header) error
	Header(callID string) (domain.Header, error)
	AppendRows(callID string, offset int, rows []domain.Row) error
	Rows(callID string, from, to int) ([]domain.Row, error)
	Count(callID string) (int, error)
}

// MemoryCache keeps rows in a slice.
type MemoryCache struct {
	mu     sync.RWMutex
	header domain.Header
	rows   []domain.Row
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (m *MemoryCache) SetHeader(header domain.Header) error {
	m.mu.Lock()
	m.header = header
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Header() domain.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.header
}

func (m *MemoryCache) Append(offset int, rows []domain.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset != len(m.rows) {
		return fmt.Errorf("append at %d, cache holds %d rows", offset, len(m.rows))
	}
	m.rows = append(m.rows, rows...)
	return nil
}

func (m *MemoryCache) Rows(from, to int) ([]domain.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if to > len(m.rows) {
		to = len(m.rows)
	}
	if from >= to {
		return nil, nil
	}
	out := make([]domain.Row, to-from)
	copy(out, m.rows[from:to])
	return out, nil
}

// ArchiveCache is a RowCache persisted in an Archive under one call ID.
type ArchiveCache struct {
	archive Archive
	callID  string

	mu     sync.RWMutex
	header domain.Header
}

// NewArchiveCache binds archive to callID.
func NewArchiveCache(archive Archive, callID string) *ArchiveCache {
	return &ArchiveCache{archive: archive, callID: callID}
}

func (a *ArchiveCache) SetHeader(header domain.Header) error {
	if err := a.archive.SetHeader(a.callID, header); err != nil {
		return err
	}
	a.mu.Lock()
	a.header = header
	a.mu.Unlock()
	return nil
}

func (a *ArchiveCache) Header() domain.Header {
	a.mu.RLock()
	h := a.header
	a.mu.RUnlock()
	if h != nil {
		return h
	}
	h, err := a.archive.Header(a.callID)
	if err != nil {
		return nil
	}
	a.mu.Lock()
	a.header = h
	a.mu.Unlock()
	return h
}

func (a *ArchiveCache) Append(offset int, rows []domain.Row) error {
	return a.archive.AppendRows(a.callID, offset, rows)
}

func (a *ArchiveCache) Rows(from, to int) ([]domain.Row, error) {
	return a.archive.Rows(a.callID, from, to)
}

// Count reports the archived row count, used when restoring history.
func (a *ArchiveCache) Count() (int, error) {
	return a.archive.Count(a.callID)
}
