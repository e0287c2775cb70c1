// イベントストアサービスのエントリポイント。
// レコードの挿入と管理操作を変更ログとして永続化し、通知サービスに配信する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/sanctuary/internal/config"
	"github.com/nao1215/sanctuary/internal/eventstore"
	"github.com/nao1215/sanctuary/pkg/logging"
)

func main() {
	cfg, err := config.Load(config.ServiceEventStore)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	logger, err := logging.New(cfg.Service, cfg.LogLevel)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	server, err := eventstore.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("イベントストアサーバーの初期化に失敗", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("イベントストアサービスを起動します", zap.String("addr", cfg.Addr()))
	if err := server.Run(ctx); err != nil {
		logger.Fatal("イベントストアサービスが異常終了しました", zap.Error(err))
	}
	logger.Info("イベントストアサービスを停止しました")
}
