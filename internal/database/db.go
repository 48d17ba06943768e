// Package database はSQLiteデータベースの接続とスキーマ適用を行う。
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/nao1215/hrgate/pkg/migration"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// MemoryPath はインメモリデータベースを表すパス。
const MemoryPath = ":memory:"

//go:embed migrations/*.up.sql
var migrations embed.FS

// Open はSQLiteデータベースを開き、マイグレーションを適用する。
func Open(ctx context.Context, path string, logger zerolog.Logger) (*sql.DB, error) {
	dsn := path
	if path != MemoryPath {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// SQLiteは書き込みが単一のため接続を1つに制限する。
	// インメモリDBは接続ごとに別のDBになるため、この制限が必須。
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベース接続の確認に失敗: %w", err)
	}

	if err := migration.Run(ctx, db, migrations, "migrations", logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return db, nil
}
