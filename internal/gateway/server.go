package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/snshub/pkg/middleware"
	"github.com/nao1215/snshub/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
)

// upstreamTimeout は内部サービスへのプロキシ呼び出しのタイムアウト。
// これを超えたリクエストは打ち切られ、UpstreamUnavailableとして応答する。
const upstreamTimeout = 30 * time.Second

// globalRateQuota はグローバル層のクォータ（1秒あたりのリクエスト数）。
const (
	globalRateQuota  = 10
	globalRateWindow = time.Second
)

// sensitiveRateQuota はセンシティブエンドポイント層のクォータ（15分あたり）。
// 登録・ログインへのブルートフォース攻撃対策として厳しめに設定する。
const (
	sensitiveRateQuota  = 50
	sensitiveRateWindow = 15 * time.Minute
)

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// jwtSecret はJWT検証用のプロセス共通秘密鍵。
	jwtSecret string
	// serviceURLs は内部サービスのURL。
	serviceURLs serviceURLConfig
	// globalLimiter は全リクエストに適用するレートリミッター。
	globalLimiter *ratelimit.Limiter
	// sensitiveLimiter は登録・ログインに適用する厳格なレートリミッター。
	sensitiveLimiter *ratelimit.Limiter
	// upstream は内部サービスへのプロキシ呼び出しに使用するHTTPクライアント。
	upstream *http.Client
}

// serviceURLConfig は内部サービスのURL設定。
type serviceURLConfig struct {
	User  string
	Post  string
	Media string
}

// NewServer は新しいGatewayサーバーを生成する。
// レートリミットカウンター用のRedisに接続できない場合はエラーを返す
// （フェイルファスト。デグレードモードでは起動しない）。
func NewServer(port string) (*Server, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     getEnvOr("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
	}

	counterStore := ratelimit.NewRedisStore(rdb)

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	urls := serviceURLConfig{
		User:  getEnvOr("USER_SERVICE_URL", "http://localhost:8081"),
		Post:  getEnvOr("POST_SERVICE_URL", "http://localhost:8082"),
		Media: getEnvOr("MEDIA_SERVICE_URL", "http://localhost:8083"),
	}

	frontendURL := getEnvOr("FRONTEND_URL", "http://localhost:3000")

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS([]string{frontendURL}))

	s := &Server{
		router:           router,
		port:             port,
		jwtSecret:        jwtSecret,
		serviceURLs:      urls,
		globalLimiter:    ratelimit.NewLimiter(counterStore, "global", globalRateQuota, globalRateWindow),
		sensitiveLimiter: ratelimit.NewLimiter(counterStore, "sensitive", sensitiveRateQuota, sensitiveRateWindow),
		upstream:         &http.Client{Timeout: upstreamTimeout},
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes は流入制御パイプラインとプロキシルーティングを設定する。
// 各リクエストはレートリミット → 認証 → プロキシの順に処理され、
// 拒否されたリクエストは後段に到達しない。
func (s *Server) setupRoutes() {
	// グローバルレートリミットはすべてのルートに適用する。
	s.router.Use(middleware.RateLimit(s.globalLimiter))

	// 認証エンドポイント（認証不要）。登録とログインは
	// ブルートフォース対策の厳格な層を重ねる。
	auth := s.router.Group("/v1/auth")
	{
		auth.POST("/register", middleware.RateLimit(s.sensitiveLimiter), s.handleProxy(s.serviceURLs.User))
		auth.POST("/login", middleware.RateLimit(s.sensitiveLimiter), s.handleProxy(s.serviceURLs.User))
		auth.POST("/refresh-token", s.handleProxy(s.serviceURLs.User))
		auth.POST("/logout", s.handleProxy(s.serviceURLs.User))
	}

	// 投稿エンドポイント（認証必須）
	posts := s.router.Group("/v1/posts")
	posts.Use(middleware.JWTAuth(s.jwtSecret))
	{
		posts.Any("/*path", s.handleProxy(s.serviceURLs.Post))
	}

	// メディアエンドポイント（認証必須）
	media := s.router.Group("/v1/media")
	media.Use(middleware.JWTAuth(s.jwtSecret))
	{
		media.Any("/*path", s.handleProxy(s.serviceURLs.Media))
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
