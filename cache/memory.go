package cache

import (
	"container/list"
	"sync"

	digest "github.com/opencontainers/go-digest"
)

// Memory is an in-memory Store with least-recently-used eviction.
type Memory struct {
	mu       sync.Mutex
	maxBytes int64
	size     int64
	order    *list.List
	items    map[digest.Digest]*list.Element
}

type memoryItem struct {
	key  digest.Digest
	data []byte
}

// NewMemory returns a Memory store holding at most maxBytes of block data.
// A maxBytes of zero or less means unbounded.
func NewMemory(maxBytes int64) *Memory {
	return &Memory{
		maxBytes: maxBytes,
		order:    list.New(),
		items:    make(map[digest.Digest]*list.Element),
	}
}

// Get implements Store.
func (m *Memory) Get(key digest.Digest) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[key]
	if !ok {
		return nil, false
	}
	m.order.MoveToFront(el)
	item := el.Value.(*memoryItem) //nolint:forcetypeassert // only memoryItems are stored
	return item.data, true
}

// Put implements Store. Blocks larger than the limit are not stored.
func (m *Memory) Put(key digest.Digest, data []byte) error {
	size := int64(len(data))
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxBytes > 0 && size > m.maxBytes {
		return nil
	}
	if el, ok := m.items[key]; ok {
		m.order.MoveToFront(el)
		return nil
	}
	m.items[key] = m.order.PushFront(&memoryItem{key: key, data: data})
	m.size += size
	for m.maxBytes > 0 && m.size > m.maxBytes {
		m.evictOldest()
	}
	return nil
}

// SizeBytes returns the bytes currently held.
func (m *Memory) SizeBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// Len returns the number of blocks held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) evictOldest() {
	el := m.order.Back()
	if el == nil {
		return
	}
	item := m.order.Remove(el).(*memoryItem) //nolint:forcetypeassert // only memoryItems are stored
	delete(m.items, item.key)
	m.size -= int64(len(item.data))
}
