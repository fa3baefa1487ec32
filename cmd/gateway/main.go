// レジュメビルダー認証ゲートウェイのエントリポイント。
// Google OAuth2によるログイン、JWT発行、レート制限、レジュメサービスへの転送を担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/resumebuilder/internal/gateway"
	"github.com/nao1215/resumebuilder/internal/logger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Gatewayサービスが異常終了しました", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := gateway.LoadConfig()
	if err != nil {
		return err
	}

	log := logger.SetupDefault(os.Stdout, logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := gateway.NewServer(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer server.Close()

	return server.Run(ctx)
}
