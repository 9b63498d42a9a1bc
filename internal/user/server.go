package user

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nao1215/snshub/pkg/middleware"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

// refreshTokenTTL はリフレッシュトークンの有効期間。
const refreshTokenTTL = 7 * 24 * time.Hour

// Server はユーザーサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sql.DB
	// jwtSecret はJWT署名用のプロセス共通秘密鍵。
	jwtSecret string
}

// NewServer は新しいユーザーサーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func NewServer(port string) (*Server, error) {
	dbPath := getEnvOr("USER_DB_PATH", "/data/user.db")
	sqlDB, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:    router,
		port:      port,
		db:        sqlDB,
		jwtSecret: jwtSecret,
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	auth := s.router.Group("/api/auth")
	{
		// ユーザー登録
		auth.POST("/register", s.handleRegister())
		// ログイン
		auth.POST("/login", s.handleLogin())
		// トークン更新
		auth.POST("/refresh-token", s.handleRefreshToken())
		// ログアウト
		auth.POST("/logout", s.handleLogout())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "user"})
	})
}

// registerRequest はユーザー登録リクエストのJSON構造。
type registerRequest struct {
	// UserName はユーザー名。
	UserName string `json:"user_name" binding:"required"`
	// Email はメールアドレス。
	Email string `json:"email" binding:"required,email"`
	// Password は平文パスワード。保存時にbcryptでハッシュ化する。
	Password string `json:"password" binding:"required,min=8"`
}

// loginRequest はログインリクエストのJSON構造。
type loginRequest struct {
	// Email はメールアドレス。
	Email string `json:"email" binding:"required"`
	// Password は平文パスワード。
	Password string `json:"password" binding:"required"`
}

// refreshRequest はトークン更新・ログアウトリクエストのJSON構造。
type refreshRequest struct {
	// RefreshToken はリフレッシュトークン。
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// tokenPair はアクセストークンとリフレッシュトークンの組。
type tokenPair struct {
	accessToken  string
	refreshToken string
}

// issueTokens はアクセストークンとリフレッシュトークンを発行する。
// リフレッシュトークンはSQLiteに永続化する。
func (s *Server) issueTokens(c *gin.Context, userID, userName string) (*tokenPair, error) {
	accessToken, err := middleware.GenerateAccessToken(s.jwtSecret, userID, userName)
	if err != nil {
		return nil, fmt.Errorf("アクセストークンの生成に失敗: %w", err)
	}

	raw := make([]byte, 40)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("リフレッシュトークンの生成に失敗: %w", err)
	}
	refreshToken := hex.EncodeToString(raw)

	expiresAt := time.Now().UTC().Add(refreshTokenTTL).Format(time.RFC3339)
	_, err = s.db.ExecContext(c.Request.Context(),
		"INSERT INTO refresh_tokens (token, user_id, expires_at) VALUES (?, ?, ?)",
		refreshToken, userID, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("リフレッシュトークンの保存に失敗: %w", err)
	}

	return &tokenPair{accessToken: accessToken, refreshToken: refreshToken}, nil
}

// handleRegister はユーザー登録を処理するハンドラを返す。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "リクエストボディが不正です"})
			return
		}

		// ユーザー名・メールアドレスの重複を確認する。
		var count int
		err := s.db.QueryRowContext(c.Request.Context(),
			"SELECT COUNT(*) FROM users WHERE email = ? OR user_name = ?",
			req.Email, req.UserName).Scan(&count)
		if err != nil {
			log.Printf("ユーザー重複確認に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "ユーザー登録に失敗しました"})
			return
		}
		if count > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "ユーザーはすでに存在します"})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("パスワードハッシュの生成に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "ユーザー登録に失敗しました"})
			return
		}

		userID := uuid.New().String()
		_, err = s.db.ExecContext(c.Request.Context(),
			"INSERT INTO users (id, user_name, email, password_hash) VALUES (?, ?, ?, ?)",
			userID, req.UserName, req.Email, string(hash))
		if err != nil {
			log.Printf("ユーザーの保存に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "ユーザー登録に失敗しました"})
			return
		}

		tokens, err := s.issueTokens(c, userID, req.UserName)
		if err != nil {
			log.Printf("トークン発行に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "トークンの発行に失敗しました"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"success":       true,
			"message":       "ユーザー登録が完了しました",
			"user_id":       userID,
			"access_token":  tokens.accessToken,
			"refresh_token": tokens.refreshToken,
		})
	}
}

// handleLogin はログインを処理するハンドラを返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "リクエストボディが不正です"})
			return
		}

		var userID, userName, passwordHash string
		err := s.db.QueryRowContext(c.Request.Context(),
			"SELECT id, user_name, password_hash FROM users WHERE email = ?",
			req.Email).Scan(&userID, &userName, &passwordHash)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "ユーザーが見つかりません"})
			return
		}
		if err != nil {
			log.Printf("ユーザー取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "ログインに失敗しました"})
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "パスワードが一致しません"})
			return
		}

		tokens, err := s.issueTokens(c, userID, userName)
		if err != nil {
			log.Printf("トークン発行に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "トークンの発行に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"message":       "ログインしました",
			"user_id":       userID,
			"access_token":  tokens.accessToken,
			"refresh_token": tokens.refreshToken,
		})
	}
}

// handleRefreshToken はトークン更新を処理するハンドラを返す。
// 有効なリフレッシュトークンを新しいトークンの組に交換し、
// 使用済みトークンは削除する（ローテーション）。
func (s *Server) handleRefreshToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "リフレッシュトークンが必要です"})
			return
		}

		var userID, expiresAtStr string
		err := s.db.QueryRowContext(c.Request.Context(),
			"SELECT user_id, expires_at FROM refresh_tokens WHERE token = ?",
			req.RefreshToken).Scan(&userID, &expiresAtStr)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "リフレッシュトークンが無効または期限切れです"})
			return
		}
		if err != nil {
			log.Printf("リフレッシュトークン取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "トークン更新に失敗しました"})
			return
		}

		expiresAt, err := time.Parse(time.RFC3339, expiresAtStr)
		if err != nil || time.Now().UTC().After(expiresAt) {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "リフレッシュトークンが無効または期限切れです"})
			return
		}

		var userName string
		err = s.db.QueryRowContext(c.Request.Context(),
			"SELECT user_name FROM users WHERE id = ?", userID).Scan(&userName)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "リフレッシュトークンが無効または期限切れです"})
			return
		}

		// 使用済みトークンを削除してから新しい組を発行する。
		if _, err := s.db.ExecContext(c.Request.Context(),
			"DELETE FROM refresh_tokens WHERE token = ?", req.RefreshToken); err != nil {
			log.Printf("使用済みリフレッシュトークンの削除に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "トークン更新に失敗しました"})
			return
		}

		tokens, err := s.issueTokens(c, userID, userName)
		if err != nil {
			log.Printf("トークン発行に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "トークンの発行に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"message":       "トークンを更新しました",
			"access_token":  tokens.accessToken,
			"refresh_token": tokens.refreshToken,
		})
	}
}

// handleLogout はログアウトを処理するハンドラを返す。
// リフレッシュトークンを削除し、以降のトークン更新を無効にする。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "リフレッシュトークンが必要です"})
			return
		}

		if _, err := s.db.ExecContext(c.Request.Context(),
			"DELETE FROM refresh_tokens WHERE token = ?", req.RefreshToken); err != nil {
			log.Printf("リフレッシュトークンの削除に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "ログアウトに失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "message": "ログアウトしました"})
	}
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
