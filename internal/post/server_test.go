package post

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/snshub/pkg/cache"
	"github.com/nao1215/snshub/pkg/event"
	"github.com/nao1215/snshub/pkg/middleware"
	_ "modernc.org/sqlite"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakePublisher は発行されたイベントを記録するPublisherの実装。
type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	routingKey string
	payload    any
}

func (p *fakePublisher) Publish(_ context.Context, routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{routingKey: routingKey, payload: payload})
	return nil
}

func (p *fakePublisher) published() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

// newTestServer はテスト用の投稿サーバーを生成する。
// 一時ディレクトリ上のSQLiteとインメモリキャッシュを使用する。
func newTestServer(t *testing.T) (*Server, *fakePublisher) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "post.db")
	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("テスト用データベースのオープンに失敗: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}

	publisher := &fakePublisher{}
	s := &Server{
		router:    gin.New(),
		port:      "0",
		db:        sqlDB,
		cache:     cache.NewMemoryStore(),
		publisher: publisher,
	}
	s.setupRoutes()

	return s, publisher
}

// doJSON はユーザーIDヘッダーとJSONボディ付きのリクエストを実行するヘルパー。
func doJSON(t *testing.T, s *Server, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("リクエストボディのシリアライズに失敗: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(middleware.HeaderKeyUserID, userID)
	}
	s.router.ServeHTTP(w, req)

	return w
}

// createTestPost は投稿を作成してIDを返すヘルパー。
func createTestPost(t *testing.T, s *Server, userID, content string, mediaIDs []string) string {
	t.Helper()

	w := doJSON(t, s, http.MethodPost, "/api/posts/create-post", userID, map[string]any{
		"content":   content,
		"media_ids": mediaIDs,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("テスト投稿作成のステータスコード = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("レスポンスのデシリアライズに失敗: %v", err)
	}
	postID, _ := resp["post_id"].(string)
	if postID == "" {
		t.Fatal("post_idが空")
	}
	return postID
}

// TestRequireUserID は検証済みユーザーIDなしのリクエストの拒否を検証する。
func TestRequireUserID(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/posts/all-posts", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// TestCreateAndGetPost は投稿の作成と取得を検証する。
func TestCreateAndGetPost(t *testing.T) {
	s, _ := newTestServer(t)

	postID := createTestPost(t, s, "user-1", "こんにちは", []string{"media-1", "media-2"})

	w := doJSON(t, s, http.MethodGet, "/api/posts/"+postID, "user-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Post    Post `json:"post"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("レスポンスのデシリアライズに失敗: %v", err)
	}
	if resp.Post.Content != "こんにちは" {
		t.Errorf("content = %q, want %q", resp.Post.Content, "こんにちは")
	}
	if resp.Post.UserID != "user-1" {
		t.Errorf("user_id = %q, want %q", resp.Post.UserID, "user-1")
	}
	if len(resp.Post.MediaIDs) != 2 {
		t.Errorf("media_idsの件数 = %d, want 2", len(resp.Post.MediaIDs))
	}
}

// TestGetPostNotFound は存在しない投稿の取得を検証する。
func TestGetPostNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/posts/no-such-id", "user-1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// TestAllPostsCaching は一覧取得のキャッシュと書き込み時の無効化を検証する。
// 書き込み直後の読み取りが古いキャッシュを返さないこと（ゼロ・ステイルネス）が要点。
func TestAllPostsCaching(t *testing.T) {
	s, _ := newTestServer(t)

	createTestPost(t, s, "user-1", "1件目", nil)

	// 1回目の読み取りでキャッシュが温まる
	w := doJSON(t, s, http.MethodGet, "/api/posts/all-posts", "user-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}

	// キャッシュが温かい状態で2件目を書き込む
	createTestPost(t, s, "user-1", "2件目", nil)

	// 書き込み直後の読み取りに新しい投稿が含まれること
	w = doJSON(t, s, http.MethodGet, "/api/posts/all-posts", "user-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Posts []Post `json:"posts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("レスポンスのデシリアライズに失敗: %v", err)
	}
	if len(resp.Posts) != 2 {
		t.Fatalf("書き込み後の投稿件数 = %d, want 2（古いキャッシュが提供された可能性）", len(resp.Posts))
	}
}

// TestAllPostsPagination は一覧取得のページネーションを検証する。
func TestAllPostsPagination(t *testing.T) {
	s, _ := newTestServer(t)

	for i := 0; i < 5; i++ {
		createTestPost(t, s, "user-1", "投稿", nil)
	}

	w := doJSON(t, s, http.MethodGet, "/api/posts/all-posts?page=1&limit=3", "user-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Posts []Post `json:"posts"`
		Page  int    `json:"page"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("レスポンスのデシリアライズに失敗: %v", err)
	}
	if len(resp.Posts) != 3 {
		t.Errorf("1ページ目の件数 = %d, want 3", len(resp.Posts))
	}

	w = doJSON(t, s, http.MethodGet, "/api/posts/all-posts?page=2&limit=3", "user-1", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("レスポンスのデシリアライズに失敗: %v", err)
	}
	if len(resp.Posts) != 2 {
		t.Errorf("2ページ目の件数 = %d, want 2", len(resp.Posts))
	}
}

// TestUpdatePost は投稿更新と所有者チェックを検証する。
func TestUpdatePost(t *testing.T) {
	t.Run("正常系_所有者は更新でき古いキャッシュが残らないこと", func(t *testing.T) {
		s, _ := newTestServer(t)
		postID := createTestPost(t, s, "user-1", "更新前", nil)

		// 単体取得キャッシュを温める
		doJSON(t, s, http.MethodGet, "/api/posts/"+postID, "user-1", nil)

		w := doJSON(t, s, http.MethodPut, "/api/posts/"+postID, "user-1", map[string]string{
			"content": "更新後",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
		}

		w = doJSON(t, s, http.MethodGet, "/api/posts/"+postID, "user-1", nil)
		var resp struct {
			Post Post `json:"post"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("レスポンスのデシリアライズに失敗: %v", err)
		}
		if resp.Post.Content != "更新後" {
			t.Errorf("content = %q, want %q（古いキャッシュが提供された可能性）", resp.Post.Content, "更新後")
		}
	})

	t.Run("異常系_所有者以外の更新は403になること", func(t *testing.T) {
		s, _ := newTestServer(t)
		postID := createTestPost(t, s, "user-1", "本文", nil)

		w := doJSON(t, s, http.MethodPut, "/api/posts/"+postID, "user-2", map[string]string{
			"content": "改ざん",
		})
		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}

// TestDeletePost は投稿削除とイベント発行を検証する。
func TestDeletePost(t *testing.T) {
	t.Run("正常系_削除後にpost-deletedイベントが発行されること", func(t *testing.T) {
		s, publisher := newTestServer(t)
		postID := createTestPost(t, s, "user-1", "削除対象", []string{"media-1", "media-2"})

		w := doJSON(t, s, http.MethodDelete, "/api/posts/"+postID, "user-1", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
		}

		events := publisher.published()
		if len(events) != 1 {
			t.Fatalf("発行イベント数 = %d, want 1", len(events))
		}
		if events[0].routingKey != string(event.TypePostDeleted) {
			t.Errorf("ルーティングキー = %q, want %q", events[0].routingKey, event.TypePostDeleted)
		}
		data, ok := events[0].payload.(event.PostDeletedData)
		if !ok {
			t.Fatalf("ペイロードの型 = %T, want event.PostDeletedData", events[0].payload)
		}
		if data.PostID != postID {
			t.Errorf("post_id = %q, want %q", data.PostID, postID)
		}
		if len(data.MediaIDs) != 2 {
			t.Errorf("media_idsの件数 = %d, want 2", len(data.MediaIDs))
		}

		// 削除後は404
		w = doJSON(t, s, http.MethodGet, "/api/posts/"+postID, "user-1", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("削除後の取得 = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("異常系_所有者以外の削除は403でイベントも発行されないこと", func(t *testing.T) {
		s, publisher := newTestServer(t)
		postID := createTestPost(t, s, "user-1", "本文", []string{"media-1"})

		w := doJSON(t, s, http.MethodDelete, "/api/posts/"+postID, "user-2", nil)
		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
		if len(publisher.published()) != 0 {
			t.Error("拒否された削除でイベントが発行された")
		}
	})

	t.Run("異常系_存在しない投稿の削除は404になること", func(t *testing.T) {
		s, publisher := newTestServer(t)

		w := doJSON(t, s, http.MethodDelete, "/api/posts/no-such-id", "user-1", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
		if len(publisher.published()) != 0 {
			t.Error("存在しない投稿の削除でイベントが発行された")
		}
	})
}
