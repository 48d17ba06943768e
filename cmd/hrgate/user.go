package main

import (
	"fmt"

	"github.com/nao1215/hrgate/internal/config"
	"github.com/nao1215/hrgate/internal/database"
	"github.com/nao1215/hrgate/internal/localauth"
	"github.com/nao1215/hrgate/pkg/logger"
	"github.com/spf13/cobra"
)

// newUserCmd はローカルユーザーを管理するコマンドを生成する。
func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage local users",
	}
	cmd.AddCommand(newUserAddCmd())
	return cmd
}

// newUserAddCmd はローカルユーザーを追加するコマンドを生成する。
func newUserAddCmd() *cobra.Command {
	var name, email, password string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a local user that can log in without the upstream API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, err := database.Open(ctx, cfg.DatabasePath, logger.New(cfg.Env))
			if err != nil {
				return err
			}
			defer db.Close()

			user, err := localauth.NewStore(db).Create(ctx, name, email, password)
			if err != nil {
				return fmt.Errorf("ユーザーの作成に失敗: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %d <%s>\n", user.ID, user.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "login email address")
	cmd.Flags().StringVar(&password, "password", "", "login password (8 characters or more)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
