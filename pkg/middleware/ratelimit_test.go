package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/snshub/pkg/ratelimit"
)

// newRateLimitTestRouter は指定したリミッターを適用したテスト用ルーターを生成する。
func newRateLimitTestRouter(t *testing.T, limiters ...*ratelimit.Limiter) *gin.Engine {
	t.Helper()

	router := gin.New()
	handlers := make([]gin.HandlerFunc, 0, len(limiters)+1)
	for _, lim := range limiters {
		handlers = append(handlers, RateLimit(lim))
	}
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/", handlers...)
	return router
}

// TestRateLimit はレートリミットミドルウェアを検証する。
func TestRateLimit(t *testing.T) {
	t.Parallel()

	t.Run("正常系_クォータ以内は通過しクォータ超過で429を返すこと", func(t *testing.T) {
		t.Parallel()

		lim := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), "global", 3, time.Minute)
		router := newRateLimitTestRouter(t, lim)

		for i := 1; i <= 3; i++ {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.168.1.1:12345"
			router.ServeHTTP(w, req)
			if w.Code != http.StatusOK {
				t.Fatalf("%d回目のステータスコード = %d, want %d", i, w.Code, http.StatusOK)
			}
		}

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		router.ServeHTTP(w, req)

		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusTooManyRequests)
		}

		var resp map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("レスポンスのデシリアライズに失敗: %v", err)
		}
		if success, ok := resp["success"].(bool); !ok || success {
			t.Errorf("success = %v, want false", resp["success"])
		}
		if _, ok := resp["message"].(string); !ok {
			t.Error("messageフィールドがない")
		}
		if w.Header().Get("RateLimit-Limit") != "3" {
			t.Errorf("RateLimit-Limit = %q, want %q", w.Header().Get("RateLimit-Limit"), "3")
		}
		if w.Header().Get("Retry-After") == "" {
			t.Error("Retry-Afterヘッダーがない")
		}
	})

	t.Run("正常系_センシティブ層の50リクエスト超過で51回目が429を返すこと", func(t *testing.T) {
		t.Parallel()

		sensitive := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), "sensitive", 50, 15*time.Minute)
		router := newRateLimitTestRouter(t, sensitive)

		for i := 1; i <= 50; i++ {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.168.1.2:12345"
			router.ServeHTTP(w, req)
			if w.Code != http.StatusOK {
				t.Fatalf("%d回目のステータスコード = %d, want %d", i, w.Code, http.StatusOK)
			}
		}

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.2:12345"
		router.ServeHTTP(w, req)

		if w.Code != http.StatusTooManyRequests {
			t.Errorf("51回目のステータスコード = %d, want %d", w.Code, http.StatusTooManyRequests)
		}
	})

	t.Run("正常系_いずれかの層が拒否すればリクエストが拒否されること", func(t *testing.T) {
		t.Parallel()

		global := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), "global", 100, time.Second)
		sensitive := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), "sensitive", 1, 15*time.Minute)
		router := newRateLimitTestRouter(t, global, sensitive)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.3:12345"
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("初回のステータスコード = %d, want %d", w.Code, http.StatusOK)
		}

		w = httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.3:12345"
		router.ServeHTTP(w, req)
		if w.Code != http.StatusTooManyRequests {
			t.Errorf("2回目のステータスコード = %d, want %d", w.Code, http.StatusTooManyRequests)
		}
	})

	t.Run("異常系_ストア到達不能時は503でフェイルクローズすること", func(t *testing.T) {
		t.Parallel()

		lim := ratelimit.NewLimiter(unreachableStore{}, "global", 10, time.Minute)
		router := newRateLimitTestRouter(t, lim)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		router.ServeHTTP(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
	})
}

// unreachableStore は常に到達不能エラーを返すCounterStoreのテスト用実装。
type unreachableStore struct{}

func (unreachableStore) Incr(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}
