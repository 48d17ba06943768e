package gateway

import (
	"context"
	"fmt"
)

// serviceCredentials はサービスアカウントのログインリクエスト。
type serviceCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ResolveUsableToken はアップストリームに送るトークンを返す。
//
// セッションにトークンが無い場合は空文字列を返す。
// アップストリームで発行されたトークンはそのまま返し、ローカルユーザーの
// トークンの場合はサービスアカウントのトークンを返す。
// サービスアカウントのログインに失敗した場合は空文字列を返す。
func (g *Gateway) ResolveUsableToken(ctx context.Context, sess Session) string {
	token, _ := sess.Get(g.keys.Token)
	if token == "" {
		return ""
	}
	if !IsLocalToken(token) {
		return token
	}
	return g.DelegatedToken(ctx, sess)
}

// DelegatedToken はセッションにキャッシュしたサービスアカウントのトークンを返す。
// キャッシュが無い場合はサービスアカウントでログインする。
func (g *Gateway) DelegatedToken(ctx context.Context, sess Session) string {
	if token, ok := sess.Get(g.keys.ServiceToken); ok && token != "" {
		return token
	}
	return g.RefreshServiceToken(ctx, sess)
}

// RefreshServiceToken はサービスアカウントで再ログインし、トークンをセッションに保存する。
// 失敗した場合はキャッシュを破棄して空文字列を返す。
func (g *Gateway) RefreshServiceToken(ctx context.Context, sess Session) string {
	token, err := g.serviceLogin(ctx)
	if err != nil {
		g.metrics.IncServiceLogin(g.name, false)
		g.logger.Error().Err(err).Msg("サービスアカウントのトークンを取得できませんでした")
		sess.Forget(g.keys.ServiceToken)
		return ""
	}
	g.metrics.IncServiceLogin(g.name, true)
	sess.Put(g.keys.ServiceToken, token)
	return token
}

// serviceLogin はサービスアカウントでアップストリームにログインする。
func (g *Gateway) serviceLogin(ctx context.Context) (string, error) {
	if g.serviceEmail == "" {
		return "", fmt.Errorf("%w: 資格情報が設定されていません", ErrServiceAccount)
	}

	resp, err := g.post(ctx, "/login", serviceCredentials{
		Email:    g.serviceEmail,
		Password: g.servicePassword,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrServiceAccount, err)
	}
	if !resp.Successful() {
		return "", fmt.Errorf("%w: status=%d, body=%s", ErrServiceAccount, resp.StatusCode, string(resp.Body))
	}

	body, err := decodeObject(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrServiceAccount, err)
	}
	token := extractToken(body)
	if token == "" {
		return "", fmt.Errorf("%w: レスポンスにトークンが含まれていません", ErrServiceAccount)
	}
	return token, nil
}
