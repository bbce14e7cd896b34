package storage

import (
	"bytes"
	"context"
	"sync"
)

// MemoryBackend is an in-process Backend for tests and ephemeral stores.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[string][]byte

	// FailSave, when set, is returned by Save without storing anything.
	FailSave error
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string][]byte)}
}

func (b *MemoryBackend) Load(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(data), nil
}

func (b *MemoryBackend) Save(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.FailSave != nil {
		return b.FailSave
	}
	b.docs[key] = bytes.Clone(data)
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.docs, key)
	return nil
}

// Raw returns the stored bytes for key without copying.
func (b *MemoryBackend) Raw(key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.docs[key]
	return data, ok
}

// SetFailSave changes the injected Save failure.
func (b *MemoryBackend) SetFailSave(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.FailSave = err
}
