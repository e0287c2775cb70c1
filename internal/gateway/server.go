package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/sanctuary/internal/config"
	"github.com/nao1215/sanctuary/pkg/event"
	"github.com/nao1215/sanctuary/pkg/httpclient"
	"github.com/nao1215/sanctuary/pkg/httpserver"
	"github.com/nao1215/sanctuary/pkg/middleware"
)

// Server はAPI Gatewayサービスの HTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// addr はサーバーのリッスンアドレス。
	addr string
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// devToken がtrueの場合、開発用トークンの発行を許可する。
	devToken bool
	// identity はユーザー管理の委譲先。未設定の場合はnil。
	identity IdentityProvider
	auditor  Auditor
	records  *httputil.ReverseProxy
	// notification はSSEを含む通知APIの転送先。
	notification *httputil.ReverseProxy
	logger       *zap.Logger
}

// dependencies はGatewayが利用する外部サービス。
type dependencies struct {
	recordsURL      string
	notificationURL string
	identity        IdentityProvider
	auditor         Auditor
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	deps := dependencies{
		recordsURL:      cfg.RecordsURL,
		notificationURL: cfg.NotificationURL,
		auditor:         NewEventStoreAuditor(httpclient.New(cfg.EventStoreURL, httpclient.WithTimeout(5*time.Second))),
	}
	if cfg.IdentityURL != "" {
		deps.identity = NewIdentityClient(cfg.IdentityURL, cfg.IdentityServiceKey)
	} else {
		logger.Warn("IDENTITY_URLが未設定のため、ユーザー管理APIは無効です")
	}
	return newServer(cfg, deps, logger)
}

func newServer(cfg *config.Config, deps dependencies, logger *zap.Logger) (*Server, error) {
	recordsURL, err := url.Parse(deps.recordsURL)
	if err != nil {
		return nil, fmt.Errorf("records_urlが不正です: %w", err)
	}
	notificationURL, err := url.Parse(deps.notificationURL)
	if err != nil {
		return nil, fmt.Errorf("notification_urlが不正です: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS([]string{cfg.FrontendURL}))

	s := &Server{
		router:       router,
		addr:         cfg.Addr(),
		jwtSecret:    cfg.JWTSecret,
		devToken:     cfg.DevTokenEnabled,
		identity:     deps.identity,
		auditor:      deps.auditor,
		records:      newProxy(recordsURL, logger),
		notification: newProxy(notificationURL, logger),
		logger:       logger,
	}
	s.setupRoutes()
	return s, nil
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるまでブロックする。
func (s *Server) Run(ctx context.Context) error {
	return httpserver.Serve(ctx, s.addr, s.router, s.logger)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	if s.devToken {
		// 開発用トークン発行
		s.router.POST("/auth/dev-token", s.handleDevToken())
	}

	api := s.router.Group("/api/v1")

	// レコード（プロキシ）。公開フォームの投稿があるため認可はrecordsサービスで行う
	api.Any("/records/*path", s.handleProxy(s.records))

	authed := api.Group("")
	authed.Use(middleware.JWTAuth(s.jwtSecret))
	{
		// ユーザー情報
		authed.GET("/me", s.handleGetCurrentUser())

		admin := authed.Group("")
		admin.Use(middleware.RequireRole(middleware.RoleAdmin))
		{
			// 通知（プロキシ）
			admin.Any("/notifications", s.handleProxy(s.notification))
			admin.Any("/notifications/*path", s.handleProxy(s.notification))

			// ユーザー管理
			users := admin.Group("/admin/users")
			users.Use(s.requireIdentity())
			{
				users.GET("", s.handleListUsers())
				users.POST("", s.handleInviteUser())
				users.PUT("/:id/role", s.handleUpdateRole())
				users.DELETE("/:id", s.handleRemoveUser())
			}
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
}

// devTokenRequest は開発用トークン発行リクエストのJSON構造。全項目省略可。
type devTokenRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
// DEV_TOKEN_ENABLEDがtrueの場合のみルーティングされる。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := devTokenRequest{
			UserID: "dev-user",
			Email:  "dev@localhost",
			Role:   middleware.RoleAdmin,
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
				return
			}
		}
		if req.Role != middleware.RoleAdmin && req.Role != middleware.RoleMember {
			c.JSON(http.StatusBadRequest, gin.H{"error": "roleはadminまたはmemberを指定してください"})
			return
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, req.UserID, req.Email, req.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			s.logger.Error("JWT生成エラー", zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":   token,
			"user_id": req.UserID,
			"role":    req.Role,
		})
	}
}

// handleGetCurrentUser は認証済みユーザーの情報を返すハンドラを返す。
func (s *Server) handleGetCurrentUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"id":    middleware.GetUserID(c),
			"email": middleware.GetEmail(c),
			"role":  middleware.GetRole(c),
		})
	}
}

// requireIdentity はIDプロバイダが未設定の場合に503を返すミドルウェア。
func (s *Server) requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.identity == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "ユーザー管理は設定されていません"})
			return
		}
		c.Next()
	}
}

// inviteUserRequest はユーザー招待リクエストのJSON構造。
type inviteUserRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role" binding:"required,oneof=admin member"`
}

// updateRoleRequest はロール変更リクエストのJSON構造。
type updateRoleRequest struct {
	Role string `json:"role" binding:"required,oneof=admin member"`
}

// handleListUsers はユーザー一覧の取得を処理するハンドラを返す。
func (s *Server) handleListUsers() gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := s.identity.ListUsers(c.Request.Context())
		if err != nil {
			s.writeIdentityError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	}
}

// handleInviteUser はユーザーの招待を処理するハンドラを返す。
func (s *Server) handleInviteUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req inviteUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}

		user, err := s.identity.InviteUser(c.Request.Context(), req.Email, req.Role)
		if err != nil {
			s.writeIdentityError(c, err)
			return
		}
		s.audit(c, event.TypeUserInvited, user.ID, event.UserAuditData{Email: req.Email, Role: req.Role})
		c.JSON(http.StatusCreated, user)
	}
}

// handleUpdateRole はユーザーのロール変更を処理するハンドラを返す。
// 自分自身のロールは変更できない。
func (s *Server) handleUpdateRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("id")
		if userID == middleware.GetUserID(c) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "自分自身のロールは変更できません"})
			return
		}

		var req updateRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}

		user, err := s.identity.UpdateRole(c.Request.Context(), userID, req.Role)
		if err != nil {
			s.writeIdentityError(c, err)
			return
		}
		s.audit(c, event.TypeUserRoleChanged, userID, event.UserAuditData{Email: user.Email, Role: req.Role})
		c.JSON(http.StatusOK, user)
	}
}

// handleRemoveUser はユーザーの削除を処理するハンドラを返す。
// 自分自身は削除できない。
func (s *Server) handleRemoveUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("id")
		if userID == middleware.GetUserID(c) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "自分自身は削除できません"})
			return
		}

		if err := s.identity.RemoveUser(c.Request.Context(), userID); err != nil {
			s.writeIdentityError(c, err)
			return
		}
		s.audit(c, event.TypeUserRemoved, userID, event.UserAuditData{})
		c.Status(http.StatusNoContent)
	}
}

// audit は監査イベントを記録する。失敗してもユーザー操作は成功として扱う。
func (s *Server) audit(c *gin.Context, eventType event.Type, userID string, data event.UserAuditData) {
	data.ActorID = middleware.GetUserID(c)
	if err := s.auditor.Audit(c.Request.Context(), eventType, userID, data); err != nil {
		s.logger.Warn("監査イベントの記録に失敗しました",
			zap.String("event_type", string(eventType)),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

// writeIdentityError はIDプロバイダのエラーをレスポンスに変換する。
// 4xxはステータスをそのまま返し、それ以外は502とする。
func (s *Server) writeIdentityError(c *gin.Context, err error) {
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 {
		msg := "IDプロバイダがリクエストを拒否しました"
		switch statusErr.StatusCode {
		case http.StatusNotFound:
			msg = "ユーザーが見つかりません"
		case http.StatusConflict:
			msg = "ユーザーは既に存在します"
		}
		c.JSON(statusErr.StatusCode, gin.H{"error": msg})
		return
	}

	s.logger.Error("IDプロバイダとの通信に失敗しました", zap.Error(err))
	c.JSON(http.StatusBadGateway, gin.H{"error": "IDプロバイダとの通信に失敗しました"})
}
