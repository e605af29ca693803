package store

import (
	"context"
	"sort"
	"sync"
)

type node struct {
	value   []byte
	version int64
}

// MemoryBackend keeps every document in process memory.
type MemoryBackend struct {
	mu    sync.RWMutex
	nodes map[string]node
	seq   int64
}

// NewMemoryBackend builds an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{nodes: make(map[string]node)}
}

func (m *MemoryBackend) Get(_ context.Context, p string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[p]
	if !ok {
		return Snapshot{Path: p}, nil
	}
	return Snapshot{Path: p, Value: clone(n.value), Version: n.version}, nil
}

func (m *MemoryBackend) Children(_ context.Context, parent string) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Snapshot
	for p, n := range m.nodes {
		if Parent(p) != parent {
			continue
		}
		out = append(out, Snapshot{Path: p, Value: clone(n.value), Version: n.version})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *MemoryBackend) CompareAndSwap(_ context.Context, p string, version int64, value []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nodes[p].version != version {
		return 0, ErrConflict
	}
	if value == nil {
		delete(m.nodes, p)
		return 0, nil
	}
	m.seq++
	m.nodes[p] = node{value: clone(value), version: m.seq}
	return m.seq, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
