package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Credentials はエンドユーザーのログイン資格情報。
type Credentials struct {
	// Email はメールアドレス。
	Email string `json:"email" form:"email" binding:"required,email"`
	// Password はパスワード。
	Password string `json:"password" form:"password" binding:"required"`
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	// Token はセッションに保存したアクセストークン。
	Token string
	// User はセッションに保存したユーザー情報。
	User any
	// Local はローカルユーザーとしてログインしたかどうか。
	Local bool
}

// Login はローカルユーザー、アップストリームAPIの順に資格情報を照合する。
// ローカルで一致した場合、アップストリームには問い合わせない。
// どちらでも認証できない場合は *AuthError を返す。
func (g *Gateway) Login(ctx context.Context, sess Session, cred Credentials) (*LoginResult, error) {
	if result := g.loginLocal(ctx, sess, cred); result != nil {
		return result, nil
	}
	return g.loginUpstream(ctx, sess, cred)
}

// loginLocal はローカルユーザーとして照合する。
// 一致しない場合や照合に失敗した場合はnilを返す。
func (g *Gateway) loginLocal(ctx context.Context, sess Session, cred Credentials) *LoginResult {
	if g.users == nil {
		return nil
	}
	user, err := g.users.Verify(ctx, cred.Email, cred.Password)
	if err != nil {
		g.logger.Error().Err(err).Msg("ローカルユーザーの照合に失敗したためアップストリームで認証します")
		return nil
	}
	if user == nil {
		return nil
	}

	token := LocalTokenPrefix + strconv.FormatInt(user.ID, 10)
	profile := user.Profile()
	if err := g.storeLogin(sess, token, profile); err != nil {
		g.logger.Error().Err(err).Msg("ユーザー情報の保存に失敗")
		return nil
	}
	g.metrics.IncLogin("local", true)
	g.logger.Info().Int64("user_id", user.ID).Msg("ローカルユーザーでログインしました")
	return &LoginResult{Token: token, User: profile, Local: true}
}

// loginUpstream はアップストリームAPIの /login に資格情報を転送する。
func (g *Gateway) loginUpstream(ctx context.Context, sess Session, cred Credentials) (*LoginResult, error) {
	resp, err := g.post(ctx, "/login", cred)
	if err != nil {
		g.metrics.IncLogin("upstream", false)
		g.logger.Error().Err(err).Msg("アップストリームへのログインリクエストに失敗")
		return nil, &AuthError{Message: DefaultAuthMessage}
	}

	if !resp.Successful() {
		g.metrics.IncLogin("upstream", false)
		message := extractMessage(resp.Body)
		if message == "" {
			message = DefaultAuthMessage
		}
		g.logger.Info().Int("status", resp.StatusCode).Msg("アップストリームでのログインに失敗")
		return nil, &AuthError{Message: message, Status: resp.StatusCode}
	}

	body, err := decodeObject(resp.Body)
	if err != nil {
		g.metrics.IncLogin("upstream", false)
		g.logger.Error().Err(err).Str("body", string(resp.Body)).Msg("ログインレスポンスの解析に失敗")
		return nil, &AuthError{Message: DefaultAuthMessage, Status: resp.StatusCode}
	}
	token := extractToken(body)
	if token == "" {
		g.metrics.IncLogin("upstream", false)
		g.logger.Error().Str("body", string(resp.Body)).Msg("ログインレスポンスにトークンが含まれていません")
		return nil, &AuthError{Message: DefaultAuthMessage, Status: resp.StatusCode}
	}

	user := extractUser(body)
	if err := g.storeLogin(sess, token, user); err != nil {
		g.metrics.IncLogin("upstream", false)
		return nil, fmt.Errorf("ユーザー情報の保存に失敗: %w", err)
	}
	g.metrics.IncLogin("upstream", true)
	g.logger.Info().Msg("アップストリームでログインしました")
	return &LoginResult{Token: token, User: user}, nil
}

// storeLogin はトークンとユーザー情報をセッションに保存し、セッションIDを再発行する。
// 以前のユーザーのサービスアカウントトークンは破棄する。
func (g *Gateway) storeLogin(sess Session, token string, user any) error {
	encoded, err := json.Marshal(user)
	if err != nil {
		return err
	}
	sess.Forget(g.keys.ServiceToken)
	sess.Put(g.keys.Token, token)
	sess.Put(g.keys.User, string(encoded))
	if r, ok := sess.(regenerator); ok {
		r.Regenerate()
	}
	return nil
}

// Logout はセッションからトークンとユーザー情報を削除し、セッションを破棄する。
func (g *Gateway) Logout(sess Session) {
	sess.Forget(g.keys.Token, g.keys.User, g.keys.ServiceToken)
	if inv, ok := sess.(invalidator); ok {
		inv.Invalidate()
		inv.RegenerateToken()
	}
}

// User はセッションに保存されたユーザー情報を返す。
// 保存されていない場合や解析できない場合はnilを返す。
func (g *Gateway) User(sess Session) any {
	raw, ok := sess.Get(g.keys.User)
	if !ok || raw == "" {
		return nil
	}
	v, err := decodeJSON([]byte(raw))
	if err != nil {
		return nil
	}
	return v
}
