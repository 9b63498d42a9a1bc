package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireUserID はgatewayが注入した検証済みユーザーIDヘッダーを要求する
// Ginミドルウェアを返す。内部サービスはgateway経由のリクエストのみを
// 受け付ける前提のため、トークンの再検証は行わずヘッダーを信頼する。
// ヘッダーがない場合は401を返す。
func RequireUserID() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(HeaderKeyUserID)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "ユーザーIDヘッダーがありません",
			})
			return
		}

		c.Set("user_id", userID)
		c.Next()
	}
}
