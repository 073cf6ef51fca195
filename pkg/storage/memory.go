package storage

import (
	"bytes"
	"context"
	"io"
	"sync"

	"mediavault/pkg/types"
)

// MemoryBackend 是并发安全的内存实现，用于测试和一次性的临时仓库
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[types.Hash][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[types.Hash][]byte)}
}

func (m *MemoryBackend) Put(ctx context.Context, hash types.Hash, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.objects[hash]; exists {
		return nil // 幂等
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[hash] = cp
	return nil
}

func (m *MemoryBackend) Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error) {
	m.mu.RLock()
	data, ok := m.objects[hash]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryBackend) Has(ctx context.Context, hash types.Hash) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[hash]
	return ok, nil
}

func (m *MemoryBackend) Delete(ctx context.Context, hash types.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, hash)
	return nil
}

// Len 返回物理对象数 (测试里用来断言“只存了一份”)
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Corrupt 原地翻转一个对象的首字节，模拟底层数据损坏 (仅测试用)
func (m *MemoryBackend) Corrupt(hash types.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[hash]
	if !ok || len(data) == 0 {
		return false
	}
	data[0] ^= 0x01
	return true
}
