package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore はプロセス内メモリをバックエンドとするCounterStoreの実装。
// 単体テストおよびローカル開発用。インスタンス間で共有されないため、
// 本番環境ではRedisStoreを使用すること。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryStore は新しいインメモリカウンターストアを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

// Incr はキーのカウンターをインクリメントし、現在値を返す。
// ウィンドウが経過したカウンターは新規作成し直す。
func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok || now.After(ent.expiresAt) {
		ent = &memoryEntry{expiresAt: now.Add(window)}
		s.entries[key] = ent
	}
	ent.count++
	return ent.count, nil
}
