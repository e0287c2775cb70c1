package middleware

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ロール。
const (
	// RoleAdmin は管理画面を操作できるスタッフ。
	RoleAdmin = "admin"
	// RoleMember は一般の会員。
	RoleMember = "member"
)

// tokenIssuer はgatewayが発行するトークンのiss。
const tokenIssuer = "sanctuary-gateway"

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// ユーザーIDとロールをサービス間で伝播するために使用する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Role はユーザーのロール（admin / member）。
	Role string `json:"role"`
}

// Context keys.
const (
	contextKeyUserID = "user_id"
	contextKeyEmail  = "email"
	contextKeyRole   = "role"
)

// headerKeyUserID はサービス間でユーザーIDを伝播するためのHTTPヘッダーキー。
const headerKeyUserID = "X-User-ID"

// queryKeyAccessToken はヘッダーを付けられないEventSource向けのトークンのクエリパラメータ。
const queryKeyAccessToken = "access_token"

// GenerateJWT はユーザー情報からJWTトークンを生成する。有効期限は24時間。
func GenerateJWT(secret, userID, email, role string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
		UserID: userID,
		Email:  email,
		Role:   role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ParseJWT はトークン文字列を検証してクレームを返す。HS256以外の署名は拒否する。
func ParseJWT(secret, tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("トークンの検証に失敗: %w", err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("トークンが無効です")
	}
	return claims, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id" と "email" と "role" を設定する。
// Authorizationヘッダーが無いGETリクエストに限り、access_tokenクエリパラメータも受け付ける。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if Authenticate(c, secret) {
			c.Next()
		}
	}
}

// Authenticate はリクエストのトークンを検証してコンテキストにクレームを設定する。
// 失敗した場合は401を書き込んでfalseを返す。
// 公開エンドポイントと認証必須エンドポイントが同じルートを共有する場合に、ハンドラ内から使う。
func Authenticate(c *gin.Context, secret string) bool {
	tokenString, ok := bearerToken(c)
	if !ok {
		return false
	}

	claims, err := ParseJWT(secret, tokenString)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "トークンが無効です",
		})
		return false
	}

	c.Set(contextKeyUserID, claims.UserID)
	c.Set(contextKeyEmail, claims.Email)
	c.Set(contextKeyRole, claims.Role)
	c.Header(headerKeyUserID, claims.UserID)
	return true
}

// bearerToken はリクエストからトークン文字列を取り出す。失敗した場合はレスポンスを書いてfalseを返す。
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query(queryKeyAccessToken); token != "" && c.Request.Method == http.MethodGet {
			return token, true
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Authorizationヘッダーが必要です",
		})
		return "", false
	}

	tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Bearer トークン形式が不正です",
		})
		return "", false
	}
	return tokenString, true
}

// RequireRole は指定ロールのいずれかを持つユーザーだけを通すミドルウェアを返す。
// JWTAuthの後に適用すること。
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if Authorize(c, roles...) {
			c.Next()
		}
	}
}

// Authorize は認証済みユーザーが指定ロールのいずれかを持つか検証する。
// 未認証なら401、権限不足なら403を書き込んでfalseを返す。
func Authorize(c *gin.Context, roles ...string) bool {
	if GetUserID(c) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "認証が必要です",
		})
		return false
	}
	if !slices.Contains(roles, GetRole(c)) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "この操作を行う権限がありません",
		})
		return false
	}
	return true
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	return contextString(c, contextKeyUserID)
}

// GetEmail はGinコンテキストからメールアドレスを取得する。
func GetEmail(c *gin.Context) string {
	return contextString(c, contextKeyEmail)
}

// GetRole はGinコンテキストからロールを取得する。
func GetRole(c *gin.Context) string {
	return contextString(c, contextKeyRole)
}

func contextString(c *gin.Context, key string) string {
	v, _ := c.Get(key)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
