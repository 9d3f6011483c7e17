package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryBackend is an in-process Backend for tests and throwaway setups.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

type memObject struct {
	data        []byte
	contentType string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string]memObject)}
}

func (b *MemoryBackend) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if !ValidKey(key) {
		return permanent(fmt.Errorf("invalid key %q", key))
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = memObject{data: cp, contentType: contentType}
	return nil
}

func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	cp := make([]byte, len(obj.data))
	copy(cp, obj.data)
	return cp, nil
}

// ContentType reports what Put declared for key, or empty when absent.
func (b *MemoryBackend) ContentType(key string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.objects[key].contentType
}

func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *MemoryBackend) Copy(ctx context.Context, srcKey, dstKey string) error {
	data, err := b.Get(ctx, srcKey)
	if err != nil {
		return err
	}
	return b.Put(ctx, dstKey, data, b.ContentType(srcKey))
}

func (b *MemoryBackend) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
