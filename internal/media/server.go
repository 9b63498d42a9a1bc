package media

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nao1215/snshub/pkg/middleware"
	_ "modernc.org/sqlite"
)

// maxUploadSize はアップロード可能なファイルサイズの上限（10MB）。
const maxUploadSize = 10 << 20

// Server はメディアサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sql.DB
	// objects はファイル本体の保存先。
	objects ObjectStore
}

// NewServer は新しいメディアサーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func NewServer(port string, objects ObjectStore) (*Server, error) {
	dbPath := getEnvOr("MEDIA_DB_PATH", "/data/media.db")
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
		router:  router,
		port:    port,
		db:      sqlDB,
		objects: objects,
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
	media := s.router.Group("/api/media")
	media.Use(middleware.RequireUserID())
	{
		// メディアアップロード（マルチパート）
		media.POST("/upload", s.handleUpload())
		// ユーザーのメディア一覧取得
		media.GET("", s.handleList())
		media.GET("/list", s.handleList())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "media"})
	})
}

// Media はメディアメタデータのAPI表現。
type Media struct {
	// ID はメディアの一意識別子。
	ID string `json:"id"`
	// UserID はアップロードしたユーザーのID。
	UserID string `json:"user_id"`
	// FileName は元のファイル名。
	FileName string `json:"file_name"`
	// MimeType はMIMEタイプ。
	MimeType string `json:"mime_type"`
	// Size はファイルサイズ（バイト）。
	Size int64 `json:"size"`
	// CreatedAt は作成日時。
	CreatedAt string `json:"created_at"`
}

// allowedMimeType は画像または動画のMIMEタイプのみ許可する。
func allowedMimeType(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/") || strings.HasPrefix(mimeType, "video/")
}

// handleUpload はメディアアップロードを処理するハンドラを返す。
// マルチパートフォームの "file" フィールドを受け取り、本体をオブジェクト
// ストアに保存してからメタデータをSQLiteに記録する。
func (s *Server) handleUpload() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "fileフィールドが必要です"})
			return
		}

		mimeType := fileHeader.Header.Get("Content-Type")
		if !allowedMimeType(mimeType) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "画像または動画のみアップロードできます"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			log.Printf("アップロードファイルのオープンに失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "アップロードに失敗しました"})
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			log.Printf("アップロードファイルの読み取りに失敗: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "ファイルサイズが上限を超えています"})
			return
		}

		userID := middleware.GetUserID(c)
		mediaID := uuid.New().String()

		// 本体を先に保存する。メタデータの記録に失敗した場合は孤児オブジェクトが
		// 残るが、参照されないため害はなくログから特定できる。
		if err := s.objects.Upload(c.Request.Context(), mediaID, mimeType, data); err != nil {
			log.Printf("オブジェクトの保存に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "アップロードに失敗しました"})
			return
		}

		_, err = s.db.ExecContext(c.Request.Context(),
			"INSERT INTO media (id, user_id, file_name, mime_type, size) VALUES (?, ?, ?, ?, ?)",
			mediaID, userID, fileHeader.Filename, mimeType, fileHeader.Size)
		if err != nil {
			log.Printf("メディアメタデータの保存に失敗（孤児オブジェクト: %s）: %v", mediaID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "アップロードに失敗しました"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"success":  true,
			"message":  "アップロードが完了しました",
			"media_id": mediaID,
		})
	}
}

// handleList はユーザーのメディア一覧取得を処理するハンドラを返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		rows, err := s.db.QueryContext(c.Request.Context(),
			"SELECT id, user_id, file_name, mime_type, size, created_at FROM media WHERE user_id = ? ORDER BY created_at DESC",
			userID)
		if err != nil {
			log.Printf("メディア一覧の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "メディア一覧の取得に失敗しました"})
			return
		}
		defer rows.Close()

		items := []Media{}
		for rows.Next() {
			var m Media
			if err := rows.Scan(&m.ID, &m.UserID, &m.FileName, &m.MimeType, &m.Size, &m.CreatedAt); err != nil {
				log.Printf("メディア行の読み取りに失敗: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "メディア一覧の取得に失敗しました"})
				return
			}
			items = append(items, m)
		}
		if err := rows.Err(); err != nil {
			log.Printf("メディア一覧の走査に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "メディア一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "media": items})
	}
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
