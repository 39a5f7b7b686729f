package embedcache

import (
	"container/list"
	"context"
	"slices"
	"sync"
)

var _ Cache = (*Memory)(nil)

// DefaultMaxEntries bounds a [Memory] cache created without WithMaxEntries.
const DefaultMaxEntries = 50_000

// MemoryOption configures a [Memory] cache.
type MemoryOption func(*Memory)

// WithMaxEntries sets the capacity. The least recently used entry is evicted
// once it is exceeded. Non-positive values keep the default.
func WithMaxEntries(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.maxEntries = n
		}
	}
}

// Memory is an in-process LRU embedding cache.
type Memory struct {
	mu         sync.Mutex
	maxEntries int
	order      *list.List
	items      map[string]*list.Element
}

type memoryItem struct {
	key    string
	vector []float32
}

// NewMemory returns an empty in-process cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		maxEntries: DefaultMaxEntries,
		order:      list.New(),
		items:      make(map[string]*list.Element),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Get implements [Cache]. Returned vectors are copies.
func (m *Memory) Get(_ context.Context, keys []string) (map[string][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]float32, len(keys))
	for _, k := range keys {
		el, ok := m.items[k]
		if !ok {
			continue
		}
		m.order.MoveToFront(el)
		out[k] = slices.Clone(el.Value.(*memoryItem).vector)
	}
	return out, nil
}

// Put implements [Cache].
func (m *Memory) Put(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		vec := slices.Clone(e.Vector)
		if el, ok := m.items[e.Key]; ok {
			el.Value.(*memoryItem).vector = vec
			m.order.MoveToFront(el)
			continue
		}
		m.items[e.Key] = m.order.PushFront(&memoryItem{key: e.Key, vector: vec})
		for m.order.Len() > m.maxEntries {
			oldest := m.order.Back()
			m.order.Remove(oldest)
			delete(m.items, oldest.Value.(*memoryItem).key)
		}
	}
	return nil
}

// Len returns the number of cached vectors.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
