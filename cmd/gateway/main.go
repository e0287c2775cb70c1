// API Gatewayサービスのエントリポイント。
// 外部からの唯一の入口として認証・転送・ユーザー管理を担当する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/sanctuary/internal/config"
	"github.com/nao1215/sanctuary/internal/gateway"
	"github.com/nao1215/sanctuary/pkg/logging"
)

func main() {
	cfg, err := config.Load(config.ServiceGateway)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	logger, err := logging.New(cfg.Service, cfg.LogLevel)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	server, err := gateway.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("Gatewayサーバーの初期化に失敗", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Gatewayサービスを起動します", zap.String("addr", cfg.Addr()))
	if err := server.Run(ctx); err != nil {
		logger.Fatal("Gatewayサービスが異常終了しました", zap.Error(err))
	}
	logger.Info("Gatewayサービスを停止しました")
}
