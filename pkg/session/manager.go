package session

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// contextKey はGinコンテキストにセッションを格納するキー。
const contextKey = "session"

// Options はセッションCookieの設定。
type Options struct {
	// CookieName はCookie名。
	CookieName string
	// Secret はCookieに格納するJWTの署名鍵。
	Secret string
	// Lifetime は最終アクセスからの有効期間。
	Lifetime time.Duration
	// Secure はCookieにSecure属性を付与するかどうか。
	Secure bool
}

// Manager はリクエストごとのセッションの読み込みと保存を行う。
type Manager struct {
	store  *Store
	opts   Options
	logger zerolog.Logger
}

// NewManager は新しいManagerを生成する。
func NewManager(store *Store, opts Options, logger zerolog.Logger) *Manager {
	if opts.CookieName == "" {
		opts.CookieName = "hrgate_session"
	}
	if opts.Lifetime <= 0 {
		opts.Lifetime = 2 * time.Hour
	}
	return &Manager{store: store, opts: opts, logger: logger}
}

// Middleware はセッションを読み込んでコンテキストに設定するGinミドルウェアを返す。
// レスポンスヘッダーの送信直前にセッションを保存し、Cookieを設定する。
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := m.load(c)
		Set(c, sess)

		w := &committingWriter{ResponseWriter: c.Writer}
		w.commit = func() { m.commit(c, w.ResponseWriter, sess) }
		c.Writer = w

		c.Next()

		// ボディを書き込まなかったハンドラ向け
		w.commitOnce()
	}
}

// Set はGinコンテキストにセッションを設定する。
func Set(c *gin.Context, sess *Session) {
	c.Set(contextKey, sess)
}

// FromContext はGinコンテキストからセッションを取得する。
// Middlewareが適用されていない場合はnilを返す。
func FromContext(c *gin.Context) *Session {
	v, ok := c.Get(contextKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*Session)
	return sess
}

// load はCookieからセッションを復元する。復元できない場合は新規セッションを返す。
func (m *Manager) load(c *gin.Context) *Session {
	raw, err := c.Cookie(m.opts.CookieName)
	if err != nil || raw == "" {
		return New()
	}

	id, err := parseSessionID(m.opts.Secret, raw)
	if err != nil {
		m.logger.Debug().Err(err).Msg("セッションCookieを破棄します")
		return New()
	}

	sess, err := m.store.Load(c.Request.Context(), id)
	if err != nil {
		m.logger.Error().Err(err).Msg("セッションの読み込みに失敗")
		return New()
	}
	if sess == nil {
		return New()
	}
	return sess
}

// commit はセッションを保存し、Cookieをレスポンスヘッダーに設定する。
func (m *Manager) commit(c *gin.Context, w http.ResponseWriter, sess *Session) {
	ctx := c.Request.Context()
	for _, id := range sess.staleIDs {
		if err := m.store.Delete(ctx, id); err != nil {
			m.logger.Error().Err(err).Msg("旧セッションの削除に失敗")
		}
	}
	sess.staleIDs = nil

	// 何も保存していない新規セッションはCookieを発行しない
	if sess.isNew && !sess.dirty {
		return
	}

	if err := m.store.Save(ctx, sess, m.opts.Lifetime); err != nil {
		m.logger.Error().Err(err).Str("session_id", sess.id).Msg("セッションの保存に失敗")
		return
	}

	signed, err := signSessionID(m.opts.Secret, sess.id, m.opts.Lifetime)
	if err != nil {
		m.logger.Error().Err(err).Msg("セッションCookieの生成に失敗")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(m.opts.Lifetime.Seconds()),
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// committingWriter は最初の書き込み直前に一度だけcommitを呼ぶResponseWriter。
type committingWriter struct {
	gin.ResponseWriter
	commit func()
	once   sync.Once
}

func (w *committingWriter) commitOnce() {
	w.once.Do(w.commit)
}

func (w *committingWriter) WriteHeader(code int) {
	w.commitOnce()
	w.ResponseWriter.WriteHeader(code)
}

func (w *committingWriter) WriteHeaderNow() {
	w.commitOnce()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *committingWriter) Write(data []byte) (int, error) {
	w.commitOnce()
	return w.ResponseWriter.Write(data)
}

func (w *committingWriter) WriteString(s string) (int, error) {
	w.commitOnce()
	return w.ResponseWriter.WriteString(s)
}
