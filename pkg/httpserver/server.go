// Package httpserver はコンテキストのキャンセルで安全に停止するHTTPサーバーを提供する。
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// shutdownTimeout は停止時に処理中のリクエストを待つ最大時間。
const shutdownTimeout = 10 * time.Second

// Serve はaddrでhandlerを公開し、ctxがキャンセルされるとグレースフルに停止する。
// 正常に停止した場合はnilを返す。
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s のリッスンに失敗: %w", addr, err)
	}
	return ServeListener(ctx, ln, handler, logger)
}

// ServeListener はServeと同じだが、既に開いているリスナーを使う。
func ServeListener(ctx context.Context, ln net.Listener, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTPサーバーを起動します", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTPサーバーが異常終了: %w", err)
	case <-ctx.Done():
	}

	logger.Info("HTTPサーバーを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTPサーバーが異常終了: %w", err)
	}
	return nil
}
