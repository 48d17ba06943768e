package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/nao1215/hrgate/internal/localauth"
	"github.com/nao1215/hrgate/pkg/httpclient"
	"github.com/nao1215/hrgate/pkg/logger"
	"github.com/nao1215/hrgate/pkg/metrics"
	"github.com/rs/zerolog"
)

// LocalTokenPrefix はローカルユーザーに発行するトークンの接頭辞。
// この接頭辞を持つトークンはアップストリームでは使用できない。
const LocalTokenPrefix = "local-token-"

// MaxPages はページング集約で発行するリクエスト数の上限。401の再試行も含む。
const MaxPages = 50

// Session はゲートウェイが使用するセッションの操作。
type Session interface {
	// Get はキーに対応する値を返す。
	Get(key string) (string, bool)
	// Put はキーに値を保存する。
	Put(key, value string)
	// Forget は指定したキーを削除する。
	Forget(keys ...string)
	// Has はキーに空でない値が保存されているかを返す。
	Has(key string) bool
}

// regenerator はセッションIDを再発行できるセッション。
type regenerator interface {
	Regenerate()
}

// invalidator はセッションを破棄してCSRFトークンを再発行できるセッション。
type invalidator interface {
	Invalidate()
	RegenerateToken()
}

// CredentialVerifier はローカルの資格情報を照合する。
// 一致しない場合は (nil, nil) を返す。
type CredentialVerifier interface {
	Verify(ctx context.Context, email, password string) (*localauth.User, error)
}

// Keys はゲートウェイが使用するセッションキー。
type Keys struct {
	// Token はエンドユーザーのアクセストークンのキー。
	Token string
	// User はユーザー情報（JSON）のキー。
	User string
	// ServiceToken はサービスアカウントのトークンのキー。
	ServiceToken string
}

// LiveKeys は本番APIで使用するセッションキー。
var LiveKeys = Keys{
	Token:        "api_token",
	User:         "api_user",
	ServiceToken: "service_token",
}

// TestKeys はテスト環境APIで使用するセッションキー。
// ユーザー情報は本番と共有する。
var TestKeys = Keys{
	Token:        "test_api_token",
	User:         "api_user",
	ServiceToken: "test_service_token",
}

// Options はGatewayの設定。
type Options struct {
	// Name はメトリクスとログに付与するアップストリーム名（"live" / "test"）。
	Name string
	// BaseURL はアップストリームAPIのベースURL。
	BaseURL string
	// Timeout はアップストリームへのリクエストのタイムアウト。
	Timeout time.Duration
	// ServiceEmail はサービスアカウントのメールアドレス。
	ServiceEmail string
	// ServicePassword はサービスアカウントのパスワード。
	ServicePassword string
	// Keys はセッションキー。空の場合はLiveKeysを使用する。
	Keys Keys
	// Users はローカルユーザーの照合先。nilの場合はアップストリームのみでログインする。
	Users CredentialVerifier
	// Logger はロガー。
	Logger zerolog.Logger
	// Metrics はメトリクス。nilでもよい。
	Metrics *metrics.Metrics
}

// Gateway は1つのアップストリームAPIに対する認証とデータ取得を行う。
type Gateway struct {
	name            string
	client          *httpclient.Client
	serviceEmail    string
	servicePassword string
	keys            Keys
	users           CredentialVerifier
	logger          zerolog.Logger
	metrics         *metrics.Metrics
}

// New は新しいGatewayを生成する。
func New(opts Options) *Gateway {
	if opts.Name == "" {
		opts.Name = "live"
	}
	if opts.Keys == (Keys{}) {
		opts.Keys = LiveKeys
	}
	return &Gateway{
		name:            opts.Name,
		client:          httpclient.New(opts.BaseURL, opts.Timeout),
		serviceEmail:    opts.ServiceEmail,
		servicePassword: opts.ServicePassword,
		keys:            opts.Keys,
		users:           opts.Users,
		logger:          opts.Logger.With().Str("upstream", opts.Name).Logger(),
		metrics:         opts.Metrics,
	}
}

// Keys はこのGatewayが使用するセッションキーを返す。
func (g *Gateway) Keys() Keys {
	return g.keys
}

// URL はアップストリームAPIのパスを絶対URLに変換する。
func (g *Gateway) URL(path string) string {
	return g.client.URL(path)
}

// IsLocalToken はトークンがローカルユーザーに発行されたものかを返す。
func IsLocalToken(token string) bool {
	return strings.HasPrefix(token, LocalTokenPrefix)
}

// get はアップストリームにGETリクエストを送り、結果を記録する。
func (g *Gateway) get(ctx context.Context, target, token string) (*httpclient.Response, error) {
	g.logger.Debug().
		Str("url", target).
		Bool("has_token", token != "").
		Str("token_preview", logger.TokenPreview(token)).
		Msg("アップストリームにリクエストします")

	start := time.Now()
	resp, err := g.client.Get(ctx, target, token)
	if err != nil {
		g.metrics.ObserveUpstream(g.name, "GET", 0, time.Since(start))
		g.logger.Error().Err(err).Str("url", target).Msg("アップストリームとの通信に失敗")
		return nil, err
	}
	g.metrics.ObserveUpstream(g.name, "GET", resp.StatusCode, time.Since(start))
	g.logger.Debug().Str("url", target).Int("status", resp.StatusCode).Msg("アップストリームから応答を受信")
	return resp, nil
}

// post はアップストリームにJSONをPOSTし、結果を記録する。
func (g *Gateway) post(ctx context.Context, path string, body any) (*httpclient.Response, error) {
	start := time.Now()
	resp, err := g.client.PostJSON(ctx, path, body)
	if err != nil {
		g.metrics.ObserveUpstream(g.name, "POST", 0, time.Since(start))
		return nil, err
	}
	g.metrics.ObserveUpstream(g.name, "POST", resp.StatusCode, time.Since(start))
	return resp, nil
}
