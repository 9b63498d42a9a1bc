package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore はプロセス内メモリをバックエンドとするStoreの実装。
// 単体テストおよびローカル開発用。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryValue
}

type memoryValue struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryStore は新しいインメモリキャッシュストアを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryValue)}
}

// Get はキーに対応する値を返す。期限切れのキーはErrCacheMissを返す。
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.entries[key]
	if !ok || time.Now().After(v.expiresAt) {
		return nil, ErrCacheMiss
	}
	return v.data, nil
}

// Set はキーに値をTTL付きで設定する。
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryValue{data: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// DeleteByPrefix はプレフィックスに一致するすべてのキーを削除する。
func (s *MemoryStore) DeleteByPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
		}
	}
	return nil
}
