package post

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nao1215/snshub/pkg/cache"
	"github.com/nao1215/snshub/pkg/event"
	"github.com/nao1215/snshub/pkg/middleware"
	_ "modernc.org/sqlite"
)

// cacheTTL は投稿キャッシュの有効期間。
const cacheTTL = time.Hour

// cacheKeyPrefix は投稿系キャッシュキーの共通プレフィックス。
// 書き込み時にはこのプレフィックス配下のすべてのキーを無効化する。
const cacheKeyPrefix = "posts:"

// Publisher はドメインイベントを発行する。
// 本番環境ではbroker.Client、テストではフェイクを使用する。
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Server は投稿サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sql.DB
	// cache は読み取りパスの共有キャッシュ。
	cache cache.Store
	// publisher はイベント発行クライアント。
	publisher Publisher
}

// NewServer は新しい投稿サーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func NewServer(port string, cacheStore cache.Store, publisher Publisher) (*Server, error) {
	dbPath := getEnvOr("POST_DB_PATH", "/data/post.db")
	sqlDB, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:    router,
		port:      port,
		db:        sqlDB,
		cache:     cacheStore,
		publisher: publisher,
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
// 全エンドポイントはGatewayが注入するX-User-IDヘッダーを必須とする。
func (s *Server) setupRoutes() {
	posts := s.router.Group("/api/posts")
	posts.Use(middleware.RequireUserID())
	{
		// 投稿作成
		posts.POST("/create-post", s.handleCreatePost())
		// 投稿一覧取得（ページネーション付き）
		posts.GET("/all-posts", s.handleAllPosts())
		// 投稿単体取得
		posts.GET("/:id", s.handleGetPost())
		// 投稿更新
		posts.PUT("/:id", s.handleUpdatePost())
		// 投稿削除
		posts.DELETE("/:id", s.handleDeletePost())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "post"})
	})
}

// Post は投稿のAPI表現。
type Post struct {
	// ID は投稿の一意識別子。
	ID string `json:"id"`
	// UserID は投稿者のユーザーID。
	UserID string `json:"user_id"`
	// Content は投稿本文。
	Content string `json:"content"`
	// MediaIDs は投稿が参照するメディアのIDリスト。
	MediaIDs []string `json:"media_ids"`
	// CreatedAt は作成日時。
	CreatedAt string `json:"created_at"`
}

// createPostRequest は投稿作成リクエストのJSON構造。
type createPostRequest struct {
	// Content は投稿本文。
	Content string `json:"content" binding:"required"`
	// MediaIDs は添付メディアのIDリスト。省略可能。
	MediaIDs []string `json:"media_ids"`
}

// updatePostRequest は投稿更新リクエストのJSON構造。
type updatePostRequest struct {
	// Content は更新後の投稿本文。
	Content string `json:"content" binding:"required"`
}

// invalidatePostCache は投稿系キャッシュ全体を無効化する。
// 書き込み操作は成功応答を返す前に必ずこれを呼ぶ。無効化に失敗した場合は
// 古いデータの提供を避けるため、書き込み自体を失敗として扱う。
func (s *Server) invalidatePostCache(ctx context.Context) error {
	if err := s.cache.DeleteByPrefix(ctx, cacheKeyPrefix); err != nil {
		return fmt.Errorf("投稿キャッシュの無効化に失敗: %w", err)
	}
	return nil
}

// scanMediaIDs はDB上のJSON文字列をメディアIDリストに復元する。
func scanMediaIDs(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("メディアIDリストのデシリアライズに失敗: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// fetchPost は投稿を1件取得する。存在しない場合はsql.ErrNoRowsを返す。
func (s *Server) fetchPost(ctx context.Context, id string) (*Post, error) {
	var p Post
	var rawMediaIDs string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, content, media_ids, created_at FROM posts WHERE id = ?",
		id).Scan(&p.ID, &p.UserID, &p.Content, &rawMediaIDs, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	mediaIDs, err := scanMediaIDs(rawMediaIDs)
	if err != nil {
		return nil, err
	}
	p.MediaIDs = mediaIDs

	return &p, nil
}

// handleCreatePost は投稿作成を処理するハンドラを返す。
func (s *Server) handleCreatePost() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createPostRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "リクエストボディが不正です"})
			return
		}

		userID := middleware.GetUserID(c)
		postID := uuid.New().String()

		mediaIDs := req.MediaIDs
		if mediaIDs == nil {
			mediaIDs = []string{}
		}
		rawMediaIDs, err := json.Marshal(mediaIDs)
		if err != nil {
			log.Printf("メディアIDリストのシリアライズに失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "投稿の作成に失敗しました"})
			return
		}

		_, err = s.db.ExecContext(c.Request.Context(),
			"INSERT INTO posts (id, user_id, content, media_ids) VALUES (?, ?, ?, ?)",
			postID, userID, req.Content, string(rawMediaIDs))
		if err != nil {
			log.Printf("投稿の保存に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "投稿の作成に失敗しました"})
			return
		}

		if err := s.invalidatePostCache(c.Request.Context()); err != nil {
			log.Printf("%v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "投稿の作成に失敗しました"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"message": "投稿を作成しました",
			"post_id": postID,
		})
	}
}

// handleAllPosts は投稿一覧取得を処理するハンドラを返す。
// ページと件数の組ごとにキャッシュし、ヒット時はDBを参照しない。
func (s *Server) handleAllPosts() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
		if err != nil || page < 1 {
			page = 1
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
		if err != nil || limit < 1 || limit > 100 {
			limit = 10
		}

		cacheKey := fmt.Sprintf("%s%d:%d", cacheKeyPrefix, page, limit)
		if cached, err := s.cache.Get(c.Request.Context(), cacheKey); err == nil {
			c.Data(http.StatusOK, "application/json", cached)
			return
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			log.Printf("キャッシュ取得に失敗（DBへフォールバック）: %v", err)
		}

		rows, err := s.db.QueryContext(c.Request.Context(),
			"SELECT id, user_id, content, media_ids, created_at FROM posts ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
			limit, (page-1)*limit)
		if err != nil {
			log.Printf("投稿一覧の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "投稿一覧の取得に失敗しました"})
			return
		}
		defer rows.Close()

		posts := []Post{}
		for rows.Next() {
			var p Post
			var rawMediaIDs string
			if err := rows.Scan(&p.ID, &p.UserID, &p.Content, &rawMediaIDs, &p.CreatedAt); err != nil {
				log.Printf("投稿行の読み取りに失敗: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "投稿一覧の取得に失敗しました"})
				return
			}
			mediaIDs, err := scanMediaIDs(rawMediaIDs)
			if err != nil {
				log.Printf("%v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "投稿一覧の取得に失敗しました"})
				return
			}
			p.MediaIDs = mediaIDs
			posts = append(posts, p)
		}
		if err := rows.Err(); err != nil {
			log.Printf("投稿一覧の走査に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "投稿一覧の取得に失敗しました"})
			return
		}

		body, err := json.Marshal(gin.H{
			"success": true,
			"posts":   posts,
			"page":    page,
			"limit":   limit,
		})
		if err != nil {
			log.Printf("レスポンスのシリアライズに失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "投稿一覧の取得に失敗しました"})
			return
		}

		// キャッシュ設定の失敗は致命的ではない。次回もDBから読めばよい。
		if err := s.cache.Set(c.Request.Context(), cacheKey, body, cacheTTL); err != nil {
			log.Printf("キャッシュ設定に失敗: %v", err)
		}

		c.Data(http.StatusOK, "application/json", body)
	}
}

// handleGetPost は投稿単体取得を処理するハンドラを返す。
func (s *Server) handleGetPost() gin.HandlerFunc {
	return func(c *gin.Context) {
		postID := c.Param("id")

		cacheKey := cacheKeyPrefix + postID
		if cached, err := s.cache.Get(c.Request.Context(), cacheKey); err == nil {
			c.Data(http.StatusOK, "application/json", cached)
			return
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			log.Printf("キャッシュ取得に失敗（DBへフォールバック）: %v", err)
		}

		p, err := s.fetchPost(c.Request.Context(), postID)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "投稿が見つかりません"})
			return
		}
		if err != nil {
			log.Printf("投稿の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "投稿の取得に失敗しました"})
			return
		}

		body, err := json.Marshal(gin.H{"success": true, "post": p})
		if err != nil {
			log.Printf("レスポンスのシリアライズに失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "投稿の取得に失敗しました"})
			return
		}

		if err := s.cache.Set(c.Request.Context(), cacheKey, body, cacheTTL); err != nil {
			log.Printf("キャッシュ設定に失敗: %v", err)
		}

		c.Data(http.StatusOK, "application/json", body)
	}
}

// handleUpdatePost は投稿更新を処理するハンドラを返す。
// 投稿の所有者のみが更新できる。
func (s *Server) handleUpdatePost() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updatePostRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "リクエストボディが不正です"})
			return
		}

		postID := c.Param("id")
		userID := middleware.GetUserID(c)

		p, err := s.fetchPost(c.Request.Context(), postID)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "投稿が見つかりません"})
			return
		}
		if err != nil {
			log.Printf("投稿の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "投稿の更新に失敗しました"})
			return
		}
		if p.UserID != userID {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "この投稿を更新する権限がありません"})
			return
		}

		_, err = s.db.ExecContext(c.Request.Context(),
			"UPDATE posts SET content = ? WHERE id = ?", req.Content, postID)
		if err != nil {
			log.Printf("投稿の更新に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "投稿の更新に失敗しました"})
			return
		}

		if err := s.invalidatePostCache(c.Request.Context()); err != nil {
			log.Printf("%v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "投稿の更新に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "message": "投稿を更新しました"})
	}
}

// handleDeletePost は投稿削除を処理するハンドラを返す。
// 投稿の所有者のみが削除できる。行の削除とキャッシュ無効化の後に
// post-deletedイベントを発行し、メディアの連鎖削除をトリガーする。
func (s *Server) handleDeletePost() gin.HandlerFunc {
	return func(c *gin.Context) {
		postID := c.Param("id")
		userID := middleware.GetUserID(c)

		p, err := s.fetchPost(c.Request.Context(), postID)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "投稿が見つかりません"})
			return
		}
		if err != nil {
			log.Printf("投稿の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "投稿の削除に失敗しました"})
			return
		}
		if p.UserID != userID {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "この投稿を削除する権限がありません"})
			return
		}

		_, err = s.db.ExecContext(c.Request.Context(),
			"DELETE FROM posts WHERE id = ?", postID)
		if err != nil {
			log.Printf("投稿の削除に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "投稿の削除に失敗しました"})
			return
		}

		if err := s.invalidatePostCache(c.Request.Context()); err != nil {
			log.Printf("%v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "投稿の削除に失敗しました"})
			return
		}

		// 行の削除確定後にイベントを発行する。発行に失敗しても削除自体は
		// 完了しているため成功応答を返し、ログから突き合わせできるようにする。
		err = s.publisher.Publish(c.Request.Context(), string(event.TypePostDeleted), event.PostDeletedData{
			PostID:   postID,
			UserID:   userID,
			MediaIDs: p.MediaIDs,
		})
		if err != nil {
			log.Printf("post-deletedイベントの発行に失敗（要突き合わせ）: postID=%s, mediaIDs=%v, error=%v",
				postID, p.MediaIDs, err)
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "message": "投稿を削除しました"})
	}
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
