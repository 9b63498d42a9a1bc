package gateway

import (
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/snshub/pkg/middleware"
)

// handleProxy は指定されたサービスにリクエストをプロキシするハンドラを返す。
func (s *Server) handleProxy(baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.doProxy(c, baseURL)
	}
}

// doProxy はリクエストを内部サービスにプロキシする共通処理。
// gateway向けの "/v1" プレフィックスをバックエンドの "/api" に書き換え、
// 検証済みユーザーIDヘッダーを注入して転送する。
// バックエンドのレスポンスはステータスコードごとそのまま返す。
// 接続失敗・タイムアウトは502の統一エンベロープに変換し、
// 生のトランスポートエラーをクライアントに漏らさない。
func (s *Server) doProxy(c *gin.Context, baseURL string) {
	path := strings.Replace(c.Request.URL.Path, "/v1", "/api", 1)
	proxyURL := baseURL + path
	if q := c.Request.URL.RawQuery; q != "" {
		proxyURL += "?" + q
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, proxyURL, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "プロキシリクエストの作成に失敗しました",
		})
		return
	}

	// マルチパートボディは境界情報を保持したまま転送し、
	// それ以外はJSONとして転送する。
	contentType := c.GetHeader("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		req.Header.Set("Content-Type", contentType)
	} else {
		req.Header.Set("Content-Type", "application/json")
	}

	if auth := c.GetHeader("Authorization"); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if userID := middleware.GetUserID(c); userID != "" {
		req.Header.Set(middleware.HeaderKeyUserID, userID)
	}

	resp, err := s.upstream.Do(req)
	if err != nil {
		log.Printf("プロキシエラー: url=%s, error=%v", proxyURL, err)
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"message": "リクエストの処理中にエラーが発生しました",
		})
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("レスポンスの読み取りに失敗: url=%s, error=%v", proxyURL, err)
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"message": "リクエストの処理中にエラーが発生しました",
		})
		return
	}

	respContentType := resp.Header.Get("Content-Type")
	if respContentType == "" {
		respContentType = "application/json"
	}
	c.Data(resp.StatusCode, respContentType, body)
}
