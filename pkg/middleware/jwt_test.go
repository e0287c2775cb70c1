package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSecret はテスト用のJWTシークレット。
const testSecret = "test-secret-key-for-unit-tests"

// newAuthRouter はJWTAuthを適用し、コンテキストの値をJSONで返すルーターを生成する。
func newAuthRouter(extra ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(JWTAuth(testSecret))
	router.Use(extra...)
	handler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id": GetUserID(c),
			"email":   GetEmail(c),
			"role":    GetRole(c),
		})
	}
	router.GET("/test", handler)
	router.POST("/test", handler)
	return router
}

func mustToken(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := GenerateJWT(testSecret, userID, userID+"@example.com", role)
	if err != nil {
		t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
	}
	return token
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗: %v", err)
	}
	return body
}

// TestGenerateJWT はGenerateJWTとParseJWTを検証する。
func TestGenerateJWT(t *testing.T) {
	t.Parallel()

	t.Run("生成したトークンからクレームを取り出せること", func(t *testing.T) {
		t.Parallel()

		before := time.Now()
		claims, err := ParseJWT(testSecret, mustToken(t, "staff-1", RoleAdmin))
		if err != nil {
			t.Fatalf("ParseJWT()でエラーが発生: %v", err)
		}

		if claims.UserID != "staff-1" {
			t.Errorf("UserID = %q, want %q", claims.UserID, "staff-1")
		}
		if claims.Email != "staff-1@example.com" {
			t.Errorf("Email = %q, want %q", claims.Email, "staff-1@example.com")
		}
		if claims.Role != RoleAdmin {
			t.Errorf("Role = %q, want %q", claims.Role, RoleAdmin)
		}
		if claims.Issuer != "sanctuary-gateway" {
			t.Errorf("Issuer = %q, want %q", claims.Issuer, "sanctuary-gateway")
		}
		// 有効期限が24時間後の前後1分以内であること
		expected := before.Add(24 * time.Hour)
		if d := claims.ExpiresAt.Sub(expected); d < -time.Minute || d > time.Minute {
			t.Errorf("ExpiresAt = %v, want about %v", claims.ExpiresAt.Time, expected)
		}
	})

	t.Run("異なるシークレットでは検証に失敗すること", func(t *testing.T) {
		t.Parallel()

		if _, err := ParseJWT("wrong-secret", mustToken(t, "staff-1", RoleAdmin)); err == nil {
			t.Fatal("異なるシークレットでの検証がエラーを返すべき")
		}
	})

	t.Run("HS256以外のアルゴリズムは拒否されること", func(t *testing.T) {
		t.Parallel()

		token := jwt.NewWithClaims(jwt.SigningMethodHS512, JWTClaims{UserID: "staff-1"})
		signed, err := token.SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("署名に失敗: %v", err)
		}
		if _, err := ParseJWT(testSecret, signed); err == nil {
			t.Fatal("HS512のトークンはエラーになるべき")
		}
	})

	t.Run("user_idが空のトークンは無効であること", func(t *testing.T) {
		t.Parallel()

		if _, err := ParseJWT(testSecret, mustToken(t, "", RoleAdmin)); err == nil {
			t.Fatal("user_idが空のトークンはエラーになるべき")
		}
	})
}

// TestJWTAuth はJWTAuthミドルウェアを検証する。
func TestJWTAuth(t *testing.T) {
	t.Parallel()

	t.Run("有効なトークンでコンテキストにクレームが設定されること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+mustToken(t, "staff-ok", RoleAdmin))
		w := httptest.NewRecorder()
		newAuthRouter().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		body := decodeBody(t, w)
		if body["user_id"] != "staff-ok" || body["role"] != RoleAdmin || body["email"] != "staff-ok@example.com" {
			t.Errorf("body = %v", body)
		}
		if got := w.Header().Get("X-User-ID"); got != "staff-ok" {
			t.Errorf("X-User-ID = %q, want %q", got, "staff-ok")
		}
	})

	t.Run("GETではaccess_tokenクエリパラメータも受け付けること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/test?access_token="+mustToken(t, "staff-sse", RoleAdmin), nil)
		w := httptest.NewRecorder()
		newAuthRouter().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("POSTではaccess_tokenクエリパラメータを受け付けないこと", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodPost, "/test?access_token="+mustToken(t, "staff-sse", RoleAdmin), nil)
		w := httptest.NewRecorder()
		newAuthRouter().ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	tests := []struct {
		name      string
		header    string
		wantError string
	}{
		{"Authorizationヘッダーが無い場合401が返ること", "", "Authorizationヘッダーが必要です"},
		{"Bearer接頭辞が無い場合401が返ること", "Token abc", "Bearer トークン形式が不正です"},
		{"無効なトークンで401が返ること", "Bearer invalid.token.value", "トークンが無効です"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			newAuthRouter().ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if got := decodeBody(t, w)["error"]; got != tt.wantError {
				t.Errorf("error = %q, want %q", got, tt.wantError)
			}
		})
	}

	t.Run("期限切れトークンで401が返ること", func(t *testing.T) {
		t.Parallel()

		claims := JWTClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
			UserID: "staff-expired",
			Role:   RoleAdmin,
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("署名に失敗: %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		w := httptest.NewRecorder()
		newAuthRouter().ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

// TestRequireRole はRequireRoleミドルウェアを検証する。
func TestRequireRole(t *testing.T) {
	t.Parallel()

	t.Run("adminロールは通過できること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+mustToken(t, "staff-1", RoleAdmin))
		w := httptest.NewRecorder()
		newAuthRouter(RequireRole(RoleAdmin)).ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("memberロールは403になること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+mustToken(t, "member-1", RoleMember))
		w := httptest.NewRecorder()
		newAuthRouter(RequireRole(RoleAdmin)).ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("JWTAuthなしでは401になること", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.GET("/test", RequireRole(RoleAdmin), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

// TestGetUserID はコンテキストからの値の取得を検証する。
func TestGetUserID(t *testing.T) {
	t.Parallel()

	t.Run("値が設定されていない場合に空文字列が返ること", func(t *testing.T) {
		t.Parallel()

		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		if got := GetUserID(c); got != "" {
			t.Errorf("GetUserID() = %q, want empty", got)
		}
	})

	t.Run("文字列以外の型の場合に空文字列が返ること", func(t *testing.T) {
		t.Parallel()

		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Set("user_id", 12345)
		c.Set("role", true)
		if got := GetUserID(c); got != "" {
			t.Errorf("GetUserID() = %q, want empty", got)
		}
		if got := GetRole(c); got != "" {
			t.Errorf("GetRole() = %q, want empty", got)
		}
	})
}
