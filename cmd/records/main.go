// レコード受付サービスのエントリポイント。
// 公開フォームと管理画面からの投稿を保存し、挿入イベントを変更ログに流す。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/sanctuary/internal/config"
	"github.com/nao1215/sanctuary/internal/records"
	"github.com/nao1215/sanctuary/pkg/logging"
)

func main() {
	cfg, err := config.Load(config.ServiceRecords)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	logger, err := logging.New(cfg.Service, cfg.LogLevel)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	server, err := records.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("レコード受付サーバーの初期化に失敗", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("レコード受付サービスを起動します", zap.String("addr", cfg.Addr()))
	if err := server.Run(ctx); err != nil {
		logger.Fatal("レコード受付サービスが異常終了しました", zap.Error(err))
	}
	logger.Info("レコード受付サービスを停止しました")
}
