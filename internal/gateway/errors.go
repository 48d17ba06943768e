package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultAuthMessage はアップストリームがメッセージを返さなかった場合のログイン失敗メッセージ。
const DefaultAuthMessage = "Invalid credentials. Please try again."

// ErrServiceAccount はサービスアカウントでのログインに失敗したことを表す。
var ErrServiceAccount = errors.New("サービスアカウントのログインに失敗しました")

// AuthError はエンドユーザーのログイン失敗。
// Messageはそのまま利用者に表示する。
type AuthError struct {
	// Message は利用者に表示するメッセージ。
	Message string
	// Status はアップストリームのステータスコード。通信エラーの場合は0。
	Status int
}

func (e *AuthError) Error() string {
	return e.Message
}

// UpstreamError はアップストリームが成功以外の応答を返したことを表す。
// 通信エラーはステータス502、ボディはエラーメッセージとして扱う。
type UpstreamError struct {
	// Status はアップストリームのステータスコード。
	Status int
	// Body はアップストリームのレスポンスボディ。
	Body []byte
	// URL はリクエスト先のURL。
	URL string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("アップストリームがエラーを返しました: url=%s, status=%d", e.URL, e.Status)
}

// BodyValue はレスポンスボディをJSONレスポンスに埋め込める値として返す。
// 有効なJSONであればそのまま、それ以外は文字列として扱う。
func (e *UpstreamError) BodyValue() any {
	if len(e.Body) == 0 {
		return nil
	}
	if json.Valid(e.Body) {
		return json.RawMessage(e.Body)
	}
	return string(e.Body)
}
