// Package session はブラウザセッション単位のキーバリューストアを提供する。
//
// セッションデータはSQLiteのsessionsテーブルに保存し、ブラウザには
// セッションIDを含む署名付きJWTをCookieとして渡す。
package session

import (
	"github.com/google/uuid"
)

// tokenKey はCSRF対策トークンを保存するキー。
const tokenKey = "_token"

// flashPrefix はフラッシュデータのキー接頭辞。
const flashPrefix = "_flash."

// Session は1つのブラウザセッションのデータ。
// 1リクエスト内で逐次的に使用される前提のため排他制御は行わない。
type Session struct {
	// id はセッションID。
	id string
	// values はセッションに保存された値。
	values map[string]string
	// isNew はこのリクエストで新規作成されたセッションかどうか。
	isNew bool
	// dirty は値が変更されたかどうか。
	dirty bool
	// staleIDs は再生成により破棄すべき旧セッションID。
	staleIDs []string
}

// New は空の新規セッションを生成する。
func New() *Session {
	return &Session{
		id:     uuid.NewString(),
		values: make(map[string]string),
		isNew:  true,
	}
}

// restore は保存済みのデータからセッションを復元する。
func restore(id string, values map[string]string) *Session {
	if values == nil {
		values = make(map[string]string)
	}
	return &Session{id: id, values: values}
}

// ID はセッションIDを返す。
func (s *Session) ID() string {
	return s.id
}

// Get はキーに対応する値を返す。
func (s *Session) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Put はキーに値を保存する。
func (s *Session) Put(key, value string) {
	s.values[key] = value
	s.dirty = true
}

// Forget は指定したキーを削除する。
func (s *Session) Forget(keys ...string) {
	for _, k := range keys {
		if _, ok := s.values[k]; ok {
			delete(s.values, k)
			s.dirty = true
		}
	}
}

// Has はキーに空でない値が保存されているかを返す。
func (s *Session) Has(key string) bool {
	v, ok := s.values[key]
	return ok && v != ""
}

// Pull は値を取り出して削除する。
func (s *Session) Pull(key string) (string, bool) {
	v, ok := s.values[key]
	if ok {
		s.Forget(key)
	}
	return v, ok
}

// Flash は次のリクエストで1回だけ読み出す値を保存する。
func (s *Session) Flash(key, value string) {
	s.Put(flashPrefix+key, value)
}

// PullFlash はフラッシュデータを取り出して削除する。
func (s *Session) PullFlash(key string) (string, bool) {
	return s.Pull(flashPrefix + key)
}

// Token はCSRF対策トークンを返す。未発行の場合は発行する。
func (s *Session) Token() string {
	if t, ok := s.values[tokenKey]; ok && t != "" {
		return t
	}
	s.RegenerateToken()
	return s.values[tokenKey]
}

// RegenerateToken はCSRF対策トークンを再発行する。
func (s *Session) RegenerateToken() {
	s.Put(tokenKey, uuid.NewString())
}

// Regenerate はデータを保持したままセッションIDを再発行する。
// ログイン成功時のセッション固定攻撃対策に使用する。
func (s *Session) Regenerate() {
	if !s.isNew {
		s.staleIDs = append(s.staleIDs, s.id)
	}
	s.id = uuid.NewString()
	s.isNew = false
	s.dirty = true
}

// Invalidate はデータを全て破棄してセッションIDを再発行する。
func (s *Session) Invalidate() {
	s.values = make(map[string]string)
	s.Regenerate()
}
