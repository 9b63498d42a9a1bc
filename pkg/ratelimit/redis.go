package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript はカウンターのインクリメントとTTL設定をアトミックに行うLuaスクリプト。
// 新規キー（カウント1）の場合のみウィンドウ長のTTLを設定する。
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisStore はRedisをバックエンドとするCounterStoreの実装。
// 全gatewayインスタンスが同一のRedisを共有することで分散レートリミットを実現する。
type RedisStore struct {
	// client はRedisクライアント。
	client *redis.Client
}

// NewRedisStore は新しいRedisカウンターストアを生成する。
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Incr はキーのカウンターをアトミックにインクリメントし、現在値を返す。
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := incrScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("Redisカウンターの更新に失敗: %w", err)
	}
	return count, nil
}
