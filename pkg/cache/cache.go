package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss はキーがキャッシュに存在しないことを表す。
var ErrCacheMiss = errors.New("キャッシュにキーが存在しない")

// Store はキャッシュストアの操作を定義する。
// 本番環境ではRedisStore、テストではMemoryStoreを使用する。
type Store interface {
	// Get はキーに対応する値を返す。キーが存在しない場合はErrCacheMissを返す。
	Get(ctx context.Context, key string) ([]byte, error)
	// Set はキーに値をTTL付きで設定する。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeleteByPrefix はプレフィックスに一致するすべてのキーを削除する。
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// RedisStore はRedisをバックエンドとするStoreの実装。
// 全サービスインスタンスがキャッシュを共有する。
type RedisStore struct {
	// client はRedisクライアント。
	client *redis.Client
}

// NewRedisStore は新しいRedisキャッシュストアを生成する。
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get はキーに対応する値を返す。
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("キャッシュの取得に失敗: %w", err)
	}
	return value, nil
}

// Set はキーに値をTTL付きで設定する。
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("キャッシュの設定に失敗: %w", err)
	}
	return nil
}

// DeleteByPrefix はプレフィックスに一致するすべてのキーをSCANで列挙して削除する。
// KEYSコマンドはRedisをブロックするため使用しない。
func (s *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("キャッシュキーの走査に失敗: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("キャッシュキーの削除に失敗: %w", err)
	}
	return nil
}
