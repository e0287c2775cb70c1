package records

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/nao1215/sanctuary/internal/config"
	"github.com/nao1215/sanctuary/pkg/database"
	"github.com/nao1215/sanctuary/pkg/feed"
	"github.com/nao1215/sanctuary/pkg/httpclient"
	"github.com/nao1215/sanctuary/pkg/httpserver"
	"github.com/nao1215/sanctuary/pkg/middleware"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// contextKeyStream は解析済みのストリームを保持するコンテキストキー。
const contextKeyStream = "stream"

// Server はレコード受付サービスのHTTPサーバー。
type Server struct {
	router    *gin.Engine
	addr      string
	store     *Store
	db        *sqlx.DB
	publisher Publisher
	jwtSecret string
	logger    *zap.Logger
	now       func() time.Time
}

// NewServer は新しいレコード受付サーバーを生成する。
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	publisher := NewEventStorePublisher(httpclient.New(cfg.EventStoreURL, httpclient.WithTimeout(5*time.Second)))
	return newServer(db, publisher, cfg.JWTSecret, cfg.Addr(), logger), nil
}

func newServer(db *sqlx.DB, publisher Publisher, jwtSecret, addr string, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))

	s := &Server{
		router:    router,
		addr:      addr,
		store:     NewStore(db),
		db:        db,
		publisher: publisher,
		jwtSecret: jwtSecret,
		logger:    logger,
		now:       time.Now,
	}
	s.setupRoutes()
	return s
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるまでブロックする。
func (s *Server) Run(ctx context.Context) error {
	defer s.db.Close()
	return httpserver.Serve(ctx, s.addr, s.router, s.logger)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	records := s.router.Group("/api/v1/records/:stream")
	records.Use(s.streamAccess())
	{
		// レコードの登録（公開ストリームは未認証で可）
		records.POST("", s.handleCreate())
		// レコード一覧（管理者のみ）
		records.GET("", s.handleList())
		// レコード取得（管理者のみ）
		records.GET("/:id", s.handleGet())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "records"})
	})
}

// streamAccess はストリーム名を検証し、公開ストリームへの登録以外は管理者に限定する。
func (s *Server) streamAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		stream, err := feed.ParseStream(c.Param("stream"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.Set(contextKeyStream, stream)

		if c.Request.Method == http.MethodPost && stream.Public() {
			c.Next()
			return
		}
		if !middleware.Authenticate(c, s.jwtSecret) || !middleware.Authorize(c, middleware.RoleAdmin) {
			return
		}
		c.Next()
	}
}

func streamFrom(c *gin.Context) feed.Stream {
	v, _ := c.Get(contextKeyStream)
	stream, _ := v.(feed.Stream)
	return stream
}

// handleCreate はレコードの登録を処理するハンドラを返す。
// 保存後のイベント送信に失敗してもレコードは登録済みとして扱う。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		stream := streamFrom(c)

		var r feed.Record
		if err := c.ShouldBindJSON(&r); err != nil || r == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストボディはJSONオブジェクトである必要があります"})
			return
		}
		if r.String("id") == "" {
			r["id"] = uuid.New().String()
		} else {
			r["id"] = r.String("id")
		}
		r["created_at"] = s.now().UTC().Format(time.RFC3339Nano)

		if err := validate(stream, r); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := s.store.Insert(c.Request.Context(), stream, r); err != nil {
			if errors.Is(err, ErrDuplicate) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "レコードの保存に失敗しました"})
			return
		}

		if err := s.publisher.PublishInsert(c.Request.Context(), stream, r); err != nil {
			s.logger.Error("RowInsertedイベントの送信に失敗",
				zap.String("stream", string(stream)),
				zap.String("id", r.String("id")),
				zap.Error(err),
			)
		}
		c.JSON(http.StatusCreated, r)
	}
}

// handleList はレコード一覧を処理するハンドラを返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limitは正の整数で指定してください"})
			return
		}

		list, err := s.store.List(c.Request.Context(), streamFrom(c), min(limit, maxListLimit))
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "レコードの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// handleGet はレコード取得を処理するハンドラを返す。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		r, err := s.store.Get(c.Request.Context(), streamFrom(c), c.Param("id"))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			_ = c.Error(fmt.Errorf("レコードの取得に失敗: %w", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "レコードの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, r)
	}
}
