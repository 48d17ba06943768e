package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

// TestOpen はデータベースの初期化を検証する。
func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("インメモリDBにusersとsessionsテーブルが作成されること", func(t *testing.T) {
		t.Parallel()

		db, err := Open(context.Background(), MemoryPath, zerolog.Nop())
		if err != nil {
			t.Fatalf("Open()でエラーが発生: %v", err)
		}
		t.Cleanup(func() { db.Close() })

		for _, table := range []string{"users", "sessions"} {
			var name string
			err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
			if err != nil {
				t.Errorf("%sテーブルが存在しない: %v", table, err)
			}
		}
	})

	t.Run("ファイルDBを再度開いてもマイグレーションが重複適用されないこと", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "hrgate.db")
		for i := 0; i < 2; i++ {
			db, err := Open(context.Background(), path, zerolog.Nop())
			if err != nil {
				t.Fatalf("%d回目のOpen()でエラーが発生: %v", i+1, err)
			}
			db.Close()
		}
	})
}
