package main

import (
	"fmt"

	"github.com/nao1215/hrgate/internal/config"
	"github.com/nao1215/hrgate/internal/database"
	"github.com/nao1215/hrgate/internal/gateway"
	"github.com/nao1215/hrgate/pkg/logger"
	"github.com/spf13/cobra"
)

// newServeCmd はHTTPサーバーを起動するコマンドを生成する。
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logger.New(cfg.Env)

			ctx := cmd.Context()
			db, err := database.Open(ctx, cfg.DatabasePath, log)
			if err != nil {
				return err
			}
			defer db.Close()

			server, err := gateway.NewServer(cfg, db, log)
			if err != nil {
				return fmt.Errorf("サーバーの初期化に失敗: %w", err)
			}
			if !cfg.HasTestUpstream() {
				log.Info().Msg("IHRIS_TEST_API_BASE_URL が未設定のため /test-api は無効です")
			}
			return server.Run(ctx)
		},
	}
}
