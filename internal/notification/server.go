package notification

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nao1215/sanctuary/internal/config"
	"github.com/nao1215/sanctuary/pkg/feed"
	"github.com/nao1215/sanctuary/pkg/httpclient"
	"github.com/nao1215/sanctuary/pkg/httpserver"
	"github.com/nao1215/sanctuary/pkg/middleware"
	"github.com/nao1215/sanctuary/pkg/realtime"
)

const (
	// heartbeatInterval はSSE接続を維持するためのping間隔。
	heartbeatInterval = 25 * time.Second
	// reapInterval はアイドルセッションの確認間隔。
	reapInterval = time.Minute
)

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// addr はサーバーのリッスンアドレス。
	addr string
	// sessions は管理者ごとの通知フィード。
	sessions *SessionManager
	// cancel はセッションのリスナーを停止する。
	cancel    context.CancelFunc
	jwtSecret string
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewServer は新しい通知サーバーを生成する。
// 通知はEvent Storeの変更ログをポーリングして受け取る。
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	source := realtime.NewEventStoreSource(
		httpclient.New(cfg.EventStoreURL, httpclient.WithTimeout(10*time.Second)),
		realtime.WithPollInterval(cfg.Feed.PollInterval),
		realtime.WithRateLimit(rate.Limit(cfg.Feed.RateLimit), len(feed.AllStreams())),
		realtime.WithSourceLogger(logger),
	)
	return newServer(source, cfg, logger), nil
}

func newServer(source feed.Source, cfg *config.Config, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	sessions := NewSessionManager(ctx, source, cfg.Feed.Capacity, cfg.Feed.IdleTimeout, logger,
		feed.WithRetry(cfg.Feed.RetryInitial, cfg.Feed.RetryMax),
	)

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))

	s := &Server{
		router:    router,
		addr:      cfg.Addr(),
		sessions:  sessions,
		cancel:    cancel,
		jwtSecret: cfg.JWTSecret,
		heartbeat: heartbeatInterval,
		logger:    logger,
	}
	s.setupRoutes()
	return s
}

// Run はHTTPサーバーとアイドルセッションの破棄処理を起動し、ctxがキャンセルされるまでブロックする。
// 停止時には全セッションのリスナーを解除する。
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Serve(ctx, s.addr, s.router, s.logger)
	})
	g.Go(func() error {
		return s.sessions.RunReaper(ctx, reapInterval)
	})
	return g.Wait()
}

// Close は全セッションを破棄する。
func (s *Server) Close() {
	s.cancel()
	s.sessions.Close()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret), middleware.RequireRole(middleware.RoleAdmin))
	{
		notifications := api.Group("/notifications")
		{
			// フィードのマウント・状態取得・アンマウント
			notifications.POST("/session", s.handleMount())
			notifications.GET("/session", s.handleSessionStatus())
			notifications.DELETE("/session", s.handleUnmount())
			// 通知一覧取得
			notifications.GET("", s.handleList())
			// 未読通知一覧取得
			notifications.GET("/unread", s.handleListUnread())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 全通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
			// フィードを空にする
			notifications.DELETE("", s.handleClear())
			// 通知の遷移先
			notifications.GET("/:id/route", s.handleRoute())
			// トーストのSSE配信
			notifications.GET("/stream", s.handleStream())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"service":  "notification",
			"sessions": s.sessions.Len(),
		})
	})
}

// sessionResponse はセッション状態のJSONレスポンス構造。
type sessionResponse struct {
	// Connected はリスナーが登録済みのストリーム。
	Connected []feed.Stream `json:"connected"`
	// Streams は購読対象の全ストリーム数。
	Streams  int `json:"streams"`
	Capacity int `json:"capacity"`
}

// feedResponse は通知一覧のJSONレスポンス構造。
type feedResponse struct {
	Notifications []feed.Notification `json:"notifications"`
	UnreadCount   int                 `json:"unread_count"`
}

func newSessionResponse(sess *Session) sessionResponse {
	return sessionResponse{
		Connected: sess.Connected(),
		Streams:   len(feed.AllStreams()),
		Capacity:  sess.Aggregator().Feed().Capacity(),
	}
}

// session はリクエストユーザーのセッションを返す。未マウントの場合はマウントする。
func (s *Server) session(c *gin.Context) *Session {
	sess, _ := s.sessions.Mount(middleware.GetUserID(c))
	return sess
}

// handleMount はフィードのマウントを処理するハンドラを返す。既にマウント済みなら200を返す。
func (s *Server) handleMount() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, created := s.sessions.Mount(middleware.GetUserID(c))
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		c.JSON(status, newSessionResponse(sess))
	}
}

// handleSessionStatus はセッション状態の取得を処理するハンドラを返す。
func (s *Server) handleSessionStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := s.sessions.Get(middleware.GetUserID(c))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "通知フィードはマウントされていません"})
			return
		}
		c.JSON(http.StatusOK, newSessionResponse(sess))
	}
}

// handleUnmount はフィードのアンマウントを処理するハンドラを返す。
func (s *Server) handleUnmount() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.sessions.Unmount(middleware.GetUserID(c))
		c.Status(http.StatusNoContent)
	}
}

// handleList は通知一覧の取得を処理するハンドラを返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		agg := s.session(c).Aggregator()
		c.JSON(http.StatusOK, feedResponse{
			Notifications: agg.Notifications(),
			UnreadCount:   agg.UnreadCount(),
		})
	}
}

// handleListUnread は未読通知一覧の取得を処理するハンドラを返す。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		agg := s.session(c).Aggregator()
		c.JSON(http.StatusOK, feedResponse{
			Notifications: agg.Feed().Unread(),
			UnreadCount:   agg.UnreadCount(),
		})
	}
}

// handleMarkAsRead は通知の既読化を処理するハンドラを返す。存在しないIDは何もしない。
// 既読化系の操作はフィードをマウントしない。未マウントなら未読数0を返す。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := s.sessions.Get(middleware.GetUserID(c))
		if !ok {
			c.JSON(http.StatusOK, gin.H{"unread_count": 0})
			return
		}
		agg := sess.Aggregator()
		agg.MarkAsRead(c.Param("id"))
		c.JSON(http.StatusOK, gin.H{"unread_count": agg.UnreadCount()})
	}
}

// handleMarkAllAsRead は全通知の既読化を処理するハンドラを返す。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := s.sessions.Get(middleware.GetUserID(c))
		if !ok {
			c.JSON(http.StatusOK, gin.H{"unread_count": 0})
			return
		}
		agg := sess.Aggregator()
		agg.MarkAllAsRead()
		c.JSON(http.StatusOK, gin.H{"unread_count": agg.UnreadCount()})
	}
}

// handleClear はフィードを空にするハンドラを返す。未マウントなら何もしない。
func (s *Server) handleClear() gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess, ok := s.sessions.Get(middleware.GetUserID(c)); ok {
			sess.Aggregator().ClearNotifications()
		}
		c.Status(http.StatusNoContent)
	}
}

// handleRoute は通知の遷移先の取得を処理するハンドラを返す。
func (s *Server) handleRoute() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := s.sessions.Get(middleware.GetUserID(c))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			return
		}
		n, ok := sess.Aggregator().Feed().Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": n.ID, "route": feed.ResolveTargetRoute(n)})
	}
}

// handleStream は新着通知のトーストをSSEで配信するハンドラを返す。
// 接続直後に現在の未読数をreadyイベントとして送る。
func (s *Server) handleStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := s.session(c)
		toasts, stop := sess.watch()
		defer stop()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		c.SSEvent("ready", gin.H{"unread_count": sess.Aggregator().UnreadCount()})
		c.Writer.Flush()

		heartbeat := time.NewTicker(s.heartbeat)
		defer heartbeat.Stop()

		c.Stream(func(_ io.Writer) bool {
			select {
			case <-c.Request.Context().Done():
				return false
			case t, ok := <-toasts:
				if !ok {
					return false
				}
				c.SSEvent("toast", t)
				return true
			case <-heartbeat.C:
				c.SSEvent("ping", gin.H{"time": time.Now().UTC().Format(time.RFC3339)})
				return true
			}
		})
	}
}
