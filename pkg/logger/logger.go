// Package logger はzerologベースの構造化ロガーを生成する。
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New は実行環境に応じたログレベルのロガーを生成する。
// envが "dev" の場合はデバッグログも出力する。
func New(env string) zerolog.Logger {
	return NewWithWriter(env, os.Stdout)
}

// NewWithWriter は出力先を指定してロガーを生成する。
func NewWithWriter(env string, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	l := zerolog.New(w).With().Timestamp().Str("service", "hrgate").Logger()
	if env == "dev" {
		return l.Level(zerolog.DebugLevel)
	}
	return l.Level(zerolog.InfoLevel)
}

// TokenPreview はトークンの先頭20文字だけをログ出力用に返す。
// 空文字列の場合は空文字列を返す。
func TokenPreview(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 20 {
		return token + "..."
	}
	return token[:20] + "..."
}
