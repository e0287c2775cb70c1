package gateway

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/sanctuary/pkg/middleware"
)

// headerKeyUserID は内部サービスに操作者を伝えるヘッダー。
const headerKeyUserID = "X-User-ID"

// newProxy はtargetにリクエストをそのまま転送するリバースプロキシを生成する。
// text/event-streamのレスポンスは逐次フラッシュされるため、SSEもそのまま中継できる。
func newProxy(target *url.URL, logger *zap.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("プロキシエラー",
				zap.String("target", target.String()),
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"内部サービスとの通信に失敗しました"}`))
		},
	}
}

// handleProxy はリクエストを内部サービスに転送するハンドラを返す。
// クライアントが付けたX-User-IDは信用せず、認証済みの場合だけ付け直す。
func (s *Server) handleProxy(proxy *httputil.ReverseProxy) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Header.Del(headerKeyUserID)
		if userID := middleware.GetUserID(c); userID != "" {
			c.Request.Header.Set(headerKeyUserID, userID)
		}
		proxy.ServeHTTP(c.Writer, c.Request)
	}
}
