package wal

import (
	"fmt"
	"sync"
	"time"
)

// MemoryBackend keeps entries in process memory. Replay and tests use it.
type MemoryBackend struct {
	mu      sync.Mutex
	entries []Entry
	meta    map[string]string
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{meta: make(map[string]string)}
}

func (m *MemoryBackend) Load() ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.clone()
	}
	return out, nil
}

func (m *MemoryBackend) Append(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e.clone())
	return nil
}

func (m *MemoryBackend) Commit(seq uint64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].Seq == seq {
			m.entries[i].Committed = true
			m.entries[i].CommittedAt = at
			return nil
		}
	}
	return fmt.Errorf("memory backend: seq %d not stored", seq)
}

func (m *MemoryBackend) Meta(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.meta[key]
	return v, ok, nil
}

func (m *MemoryBackend) SetMeta(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[key] = value
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
