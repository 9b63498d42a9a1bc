package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// CounterStore はウィンドウ付きカウンターの永続化操作を定義する。
// Incrはキーのカウンターをインクリメントし、ウィンドウ内の現在値を返す。
// キーが新規に作成された場合はウィンドウ長のTTLを設定する。
// インクリメントとTTL設定は単一のアトミック操作でなければならない。
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Decision はレートリミット判定の結果を表す。
type Decision struct {
	// Allowed はリクエストが許可されたかどうか。
	Allowed bool
	// Limit はウィンドウ内で許可されるリクエスト数。
	Limit int
	// Remaining はウィンドウ内の残りリクエスト数。
	Remaining int
	// RetryAfter は拒否された場合に再試行までの待機時間。
	RetryAfter time.Duration
}

// Limiter は1つのレートリミット層（クォータ + キープレフィックス）を表す。
// gatewayではグローバル層とセンシティブエンドポイント層の2つを併用する。
type Limiter struct {
	// store はカウンターの共有ストア。
	store CounterStore
	// prefix はカウンターキーのスコープ（例: "global", "sensitive"）。
	prefix string
	// points はウィンドウ内で許可するリクエスト数。
	points int
	// window はカウンターのウィンドウ長。
	window time.Duration
}

// NewLimiter は新しいレートリミッターを生成する。
// prefixはカウンターキーのスコープ名、pointsはwindowあたりの許可リクエスト数。
func NewLimiter(store CounterStore, prefix string, points int, window time.Duration) *Limiter {
	return &Limiter{
		store:  store,
		prefix: prefix,
		points: points,
		window: window,
	}
}

// Allow は識別子（クライアントIP等）のカウンターをインクリメントし、
// クォータと比較して許可/拒否を判定する。
// ストアへのアクセスに失敗した場合はエラーを返す。呼び出し側は
// フェイルクローズ（リクエスト拒否）で扱うこと。
func (l *Limiter) Allow(ctx context.Context, identifier string) (Decision, error) {
	key := fmt.Sprintf("%s:%s", l.prefix, identifier)

	count, err := l.store.Incr(ctx, key, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("カウンターのインクリメントに失敗: %w", err)
	}

	remaining := l.points - int(count)
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		Allowed:   count <= int64(l.points),
		Limit:     l.points,
		Remaining: remaining,
	}
	if !d.Allowed {
		d.RetryAfter = l.window
	}
	return d, nil
}
