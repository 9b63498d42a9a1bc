package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenTTL はアクセストークンの有効期間。
// 短命にしてリフレッシュトークンによる更新を前提とする。
const AccessTokenTTL = 5 * time.Minute

// AccessClaims はアクセストークンのクレーム（ペイロード）を表す。
// ユーザーID等の情報をサービス間で伝播するために使用する。
type AccessClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// UserName はユーザーの表示名。
	UserName string `json:"user_name"`
}

// HeaderKeyUserID はサービス間で検証済みユーザーIDを伝播するためのHTTPヘッダーキー。
// gatewayが認証後に注入し、内部サービスはこのヘッダーを信頼する。
const HeaderKeyUserID = "X-User-ID"

// GenerateAccessToken はユーザー情報からアクセストークンを生成する。
// userサービスが登録・ログイン・トークン更新時に呼び出す。
func GenerateAccessToken(secret, userID, userName string) (string, error) {
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "snshub-user",
		},
		UserID:   userID,
		UserName: userName,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("アクセストークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はBearerトークンを検証するGinミドルウェアを返す。
// 検証はプロセス全体で共有する単一の秘密鍵によるステートレスな処理で、
// ストアへの問い合わせは行わない。
// クレデンシャルなしは401、署名・有効期限の検証失敗は403を返す。
// 検証に成功した場合、コンテキストに "user_id" と "user_name" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "認証トークンが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Bearer トークン形式が不正です",
			})
			return
		}

		claims := &AccessClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "トークンが無効です",
			})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_name", claims.UserName)
		c.Next()
	}
}

// GetUserID はGinコンテキストから検証済みユーザーIDを取得する。
// JWTAuthまたはRequireUserIDミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}
