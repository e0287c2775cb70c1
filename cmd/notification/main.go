// 通知サービスのエントリポイント。
// 管理者ごとに通知フィードをマウントし、変更ログの挿入イベントをトーストとして配信する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/sanctuary/internal/config"
	"github.com/nao1215/sanctuary/internal/notification"
	"github.com/nao1215/sanctuary/pkg/logging"
)

func main() {
	cfg, err := config.Load(config.ServiceNotification)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	logger, err := logging.New(cfg.Service, cfg.LogLevel)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	server, err := notification.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("通知サーバーの初期化に失敗", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("通知サービスを起動します", zap.String("addr", cfg.Addr()))
	if err := server.Run(ctx); err != nil {
		logger.Fatal("通知サービスが異常終了しました", zap.Error(err))
	}
	logger.Info("通知サービスを停止しました")
}
