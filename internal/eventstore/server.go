package eventstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/nao1215/sanctuary/internal/config"
	"github.com/nao1215/sanctuary/pkg/database"
	"github.com/nao1215/sanctuary/pkg/event"
	"github.com/nao1215/sanctuary/pkg/httpserver"
	"github.com/nao1215/sanctuary/pkg/middleware"
)

const (
	// defaultAfterLimit は/afterで1回に返すイベント数の既定値。
	defaultAfterLimit = 100
	// maxAfterLimit は/afterで1回に返すイベント数の上限。
	maxAfterLimit = 500
)

// Server はイベントストアサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// addr はサーバーのリッスンアドレス。
	addr string
	// store はeventsテーブルへのアクセス。
	store *Store
	// db はSQLiteデータベース接続。
	db     *sqlx.DB
	logger *zap.Logger
}

// NewServer は新しいイベントストアサーバーを生成する。
// SQLiteデータベースを開き、マイグレーションを適用する。
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return newServer(db, cfg.Addr(), logger), nil
}

func newServer(db *sqlx.DB, addr string, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))

	s := &Server{
		router: router,
		addr:   addr,
		store:  NewStore(db),
		db:     db,
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるまでブロックする。
func (s *Server) Run(ctx context.Context) error {
	defer s.db.Close()
	return httpserver.Serve(ctx, s.addr, s.router, s.logger)
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		events := api.Group("/events")
		{
			// イベントの追記
			events.POST("", s.handleAppendEvent())
			// 全イベント取得
			events.GET("", s.handleListEvents())
			// AggregateIDによるイベント取得
			events.GET("/aggregate/:aggregate_id", s.handleGetEventsByAggregateID())
			// AggregateIDの最新バージョン取得
			events.GET("/aggregate/:aggregate_id/version", s.handleGetLatestVersion())
			// イベントタイプによるイベント取得
			events.GET("/type/:event_type", s.handleGetEventsByType())
			// 日時指定によるイベント取得（クエリパラメータ: since）
			events.GET("/since", s.handleGetEventsSince())
			// 順序番号以降のイベント取得（クエリパラメータ: after, aggregate_type, limit）
			events.GET("/after", s.handleGetEventsAfter())
			// ストリームの最新順序番号の取得（クエリパラメータ: aggregate_type）
			events.GET("/cursor", s.handleGetCursor())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "eventstore"})
	})
}

// handleAppendEvent はイベントの追記を処理するハンドラを返す。
func (s *Server) handleAppendEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req event.AppendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}

		ev, err := s.store.Append(c.Request.Context(), req)
		if err != nil {
			if errors.Is(err, ErrInvalidData) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			s.internalError(c, "イベントの追記に失敗", err)
			return
		}
		s.logger.Debug("イベントを追記しました",
			zap.Int64("seq", ev.Seq),
			zap.String("aggregate_type", string(ev.AggregateType)),
			zap.String("event_type", string(ev.EventType)),
		)
		c.JSON(http.StatusCreated, ev)
	}
}

// handleListEvents は全イベント取得を処理するハンドラを返す。
func (s *Server) handleListEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := s.store.All(c.Request.Context())
		s.respondEvents(c, events, err)
	}
}

// handleGetEventsByAggregateID はAggregateIDによるイベント取得を処理するハンドラを返す。
func (s *Server) handleGetEventsByAggregateID() gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := s.store.ByAggregateID(c.Request.Context(), c.Param("aggregate_id"))
		s.respondEvents(c, events, err)
	}
}

// handleGetLatestVersion はAggregateIDの最新バージョン取得を処理するハンドラを返す。
func (s *Server) handleGetLatestVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		aggregateID := c.Param("aggregate_id")
		version, err := s.store.LatestVersion(c.Request.Context(), aggregateID)
		if err != nil {
			s.internalError(c, "バージョンの取得に失敗", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"aggregate_id": aggregateID, "version": version})
	}
}

// handleGetEventsByType はイベントタイプによるイベント取得を処理するハンドラを返す。
func (s *Server) handleGetEventsByType() gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := s.store.ByType(c.Request.Context(), c.Param("event_type"))
		s.respondEvents(c, events, err)
	}
}

// handleGetEventsSince は日時指定によるイベント取得を処理するハンドラを返す。
func (s *Server) handleGetEventsSince() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("since")
		if raw == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sinceパラメータが必要です"})
			return
		}
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sinceはRFC3339形式で指定してください"})
			return
		}
		events, err := s.store.Since(c.Request.Context(), since)
		s.respondEvents(c, events, err)
	}
}

// handleGetEventsAfter は順序番号以降のイベント取得を処理するハンドラを返す。
func (s *Server) handleGetEventsAfter() gin.HandlerFunc {
	return func(c *gin.Context) {
		after, err := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
		if err != nil || after < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "afterは0以上の整数で指定してください"})
			return
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultAfterLimit)))
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limitは正の整数で指定してください"})
			return
		}
		limit = min(limit, maxAfterLimit)

		events, err := s.store.After(c.Request.Context(), after, c.Query("aggregate_type"), limit)
		s.respondEvents(c, events, err)
	}
}

// handleGetCursor はストリームの最新順序番号の取得を処理するハンドラを返す。
func (s *Server) handleGetCursor() gin.HandlerFunc {
	return func(c *gin.Context) {
		cur, err := s.store.Cursor(c.Request.Context(), c.Query("aggregate_type"))
		if err != nil {
			s.internalError(c, "カーソルの取得に失敗", err)
			return
		}
		c.JSON(http.StatusOK, cur)
	}
}

func (s *Server) respondEvents(c *gin.Context, events []event.Event, err error) {
	if err != nil {
		s.internalError(c, "イベントの取得に失敗", err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	_ = c.Error(fmt.Errorf("%s: %w", msg, err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
