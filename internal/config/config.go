// Package config はhrgateの設定を読み込む。
//
// 環境変数を基本とし、カレントディレクトリの .env と
// HRGATE_CONFIG で指定したYAMLファイルも読み込む。
// 環境変数が最優先となる。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// defaultSessionSecret は開発環境用のセッション署名鍵。
const defaultSessionSecret = "dev-secret-key"

// Config はアプリケーション全体の設定。
type Config struct {
	// Env は実行環境（dev / production など）。
	Env string
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// DatabasePath はSQLiteデータベースのパス。
	DatabasePath string
	// CORSOrigins はCORSで許可するオリジン。
	CORSOrigins []string
	// Upstream はアップストリームAPIの設定。
	Upstream Upstream
	// Session はセッションの設定。
	Session Session
}

// Upstream はアップストリームのHRIS APIの設定。
type Upstream struct {
	// BaseURL は本番APIのベースURL。
	BaseURL string
	// TestBaseURL はテスト環境APIのベースURL。
	TestBaseURL string
	// ServiceEmail はサービスアカウントのメールアドレス。
	ServiceEmail string
	// ServicePassword はサービスアカウントのパスワード。
	ServicePassword string
	// Timeout はアップストリームへのリクエストのタイムアウト。
	Timeout time.Duration
}

// Session はブラウザセッションの設定。
type Session struct {
	// Secret はセッションCookieの署名鍵。
	Secret string
	// Lifetime はセッションの有効期間。
	Lifetime time.Duration
	// Secure はCookieにSecure属性を付与するかどうか。
	Secure bool
}

// Load は .env、設定ファイル、環境変数から設定を読み込む。
func Load() (*Config, error) {
	// .env は任意。存在しなくてもエラーにしない
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if path := v.GetString("HRGATE_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}
	return fromViper(v)
}

// setDefaults は既定値を設定する。
// キーは環境変数名と同じ大文字で統一する。
func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_PATH", "hrgate.db")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("IHRIS_API_BASE_URL", "https://testihris.bayambang.gov.ph/api")
	v.SetDefault("IHRIS_TEST_API_BASE_URL", "")
	v.SetDefault("IHRIS_SERVICE_EMAIL", "")
	v.SetDefault("IHRIS_SERVICE_PASSWORD", "")
	v.SetDefault("UPSTREAM_TIMEOUT", "30s")
	v.SetDefault("SESSION_SECRET", defaultSessionSecret)
	v.SetDefault("SESSION_LIFETIME", "120m")
	v.SetDefault("SESSION_SECURE", false)
}

// fromViper はviperの値からConfigを組み立てて検証する。
func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Env:          v.GetString("APP_ENV"),
		Port:         v.GetString("PORT"),
		DatabasePath: v.GetString("DATABASE_PATH"),
		CORSOrigins:  splitList(v.GetString("CORS_ORIGINS")),
		Upstream: Upstream{
			BaseURL:         strings.TrimRight(v.GetString("IHRIS_API_BASE_URL"), "/"),
			TestBaseURL:     strings.TrimRight(v.GetString("IHRIS_TEST_API_BASE_URL"), "/"),
			ServiceEmail:    v.GetString("IHRIS_SERVICE_EMAIL"),
			ServicePassword: v.GetString("IHRIS_SERVICE_PASSWORD"),
			Timeout:         v.GetDuration("UPSTREAM_TIMEOUT"),
		},
		Session: Session{
			Secret:   v.GetString("SESSION_SECRET"),
			Lifetime: v.GetDuration("SESSION_LIFETIME"),
			Secure:   v.GetBool("SESSION_SECURE"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は設定値を検証する。
func (c *Config) validate() error {
	var errs []error
	if c.Upstream.BaseURL == "" {
		errs = append(errs, errors.New("IHRIS_API_BASE_URL は必須です"))
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, errors.New("UPSTREAM_TIMEOUT は正の値を指定してください"))
	}
	if c.Session.Lifetime <= 0 {
		errs = append(errs, errors.New("SESSION_LIFETIME は正の値を指定してください"))
	}
	if !c.IsDev() && c.Session.Secret == defaultSessionSecret {
		errs = append(errs, errors.New("dev以外の環境では SESSION_SECRET を設定してください"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("設定が不正です: %w", err)
	}
	return nil
}

// IsDev は開発環境かどうかを返す。
func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

// HasTestUpstream はテスト環境APIが設定されているかを返す。
func (c *Config) HasTestUpstream() bool {
	return c.Upstream.TestBaseURL != ""
}

// splitList はカンマ区切りの文字列を分割し、空要素を除く。
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
