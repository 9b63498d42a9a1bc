package middleware

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/snshub/pkg/ratelimit"
)

// RateLimit はクライアントIPを識別子としてレートリミットを適用する
// Ginミドルウェアを返す。複数の層（グローバル層・センシティブ層）を
// 重ねた場合、いずれかが拒否すればリクエストは拒否される。
//
// カウンターストアに到達できない場合は503でフェイルクローズする。
// 黙ってフェイルオープンするとレートリミットの意味がなくなるため。
func RateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.Printf("レートリミットストアに到達できません: %v", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"success": false,
				"message": "サービスが一時的に利用できません",
			})
			return
		}

		c.Header("RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("RateLimit-Remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			retryAfter := int(d.RetryAfter.Seconds())
			c.Header("RateLimit-Reset", strconv.Itoa(retryAfter))
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			log.Printf("レートリミット超過: ip=%s, path=%s", c.ClientIP(), c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "リクエスト数が上限を超えました。しばらくしてから再試行してください。",
			})
			return
		}

		c.Next()
	}
}
