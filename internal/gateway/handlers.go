package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/nao1215/hrgate/pkg/middleware"
	"github.com/nao1215/hrgate/pkg/session"
)

const (
	// errFetchEmployees は職員一覧の取得失敗時のエラーメッセージ。
	errFetchEmployees = "Failed to fetch employees"
	// errFetchOffices は部署一覧の取得失敗時のエラーメッセージ。
	errFetchOffices = "Failed to fetch offices"
)

// headerPartialResult は集約が途中で打ち切られたことを示すレスポンスヘッダー。
const headerPartialResult = "X-Partial-Result"

// flashErrors はログインエラーを保存するフラッシュデータのキー。
const flashErrors = "errors"

// handleShowLogin はログイン画面を表示するハンドラを返す。
// ログイン済みの場合はダッシュボードにリダイレクトする。
func (s *Server) handleShowLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := session.FromContext(c)
		if sess.Has(s.live.Keys().Token) {
			c.Redirect(http.StatusFound, "/dashboard")
			return
		}

		errs := map[string]string{}
		if raw, ok := sess.PullFlash(flashErrors); ok {
			if err := json.Unmarshal([]byte(raw), &errs); err != nil {
				s.logger.Debug().Err(err).Msg("フラッシュデータの解析に失敗")
			}
		}
		s.view.Render(c, "Auth/Login", map[string]any{"errors": errs}, sess.Token())
	}
}

// handleLogin はログインを処理するハンドラを返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := session.FromContext(c)

		var cred Credentials
		if err := c.ShouldBind(&cred); err != nil {
			s.loginFailed(c, sess, validationErrors(err))
			return
		}

		if _, err := s.live.Login(c.Request.Context(), sess, cred); err != nil {
			message := DefaultAuthMessage
			var authErr *AuthError
			if errors.As(err, &authErr) {
				message = authErr.Message
			} else {
				s.logger.Error().Err(err).Msg("ログイン処理に失敗")
			}
			s.loginFailed(c, sess, map[string]string{"email": message})
			return
		}

		c.Redirect(http.StatusFound, "/dashboard")
	}
}

// loginFailed はログイン失敗を応答する。
// JSONを期待するクライアントには422を、それ以外にはエラーをフラッシュに保存してログイン画面に戻す。
func (s *Server) loginFailed(c *gin.Context, sess *session.Session, errs map[string]string) {
	if middleware.ExpectsJSON(c) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"message": firstMessage(errs),
			"errors":  errs,
		})
		return
	}
	encoded, err := json.Marshal(errs)
	if err == nil {
		sess.Flash(flashErrors, string(encoded))
	}
	c.Redirect(http.StatusFound, "/login")
}

// handleLogout はログアウトを処理するハンドラを返す。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.live.Logout(session.FromContext(c))
		c.Redirect(http.StatusFound, "/login")
	}
}

// handleDashboard はダッシュボードを表示するハンドラを返す。
func (s *Server) handleDashboard() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := session.FromContext(c)
		s.view.Render(c, "Dashboard", map[string]any{
			"authUser": s.live.User(sess),
		}, sess.Token())
	}
}

// handleOfficesPage は部署一覧画面を表示するハンドラを返す。
// 取得に失敗した場合もエラー内容をpropsに含めて画面を表示する。
func (s *Server) handleOfficesPage() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := session.FromContext(c)
		props := map[string]any{
			"authUser": s.live.User(sess),
			"offices":  []any{},
			"error":    nil,
		}

		token := s.live.ResolveUsableToken(c.Request.Context(), sess)
		result, err := s.live.FetchAllPages(c.Request.Context(), sess, s.live.URL("/offices"), token)
		var upErr *UpstreamError
		switch {
		case errors.As(err, &upErr):
			props["error"] = gin.H{"error": errFetchOffices, "status": upErr.Status}
		case err != nil:
			props["error"] = gin.H{"error": errFetchOffices, "status": http.StatusBadGateway}
		default:
			props["offices"] = result.Records
			props["partial"] = result.Partial
		}
		s.view.Render(c, "Offices", props, sess.Token())
	}
}

// handleListOffices は全ページ分の部署一覧を返すハンドラを返す。
func (s *Server) handleListOffices() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, ok := s.aggregate(c, "/offices", errFetchOffices)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, result.Records)
	}
}

// handleOfficeEmployees は指定した部署に所属する職員を返すハンドラを返す。
func (s *Server) handleOfficeEmployees() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, ok := s.aggregate(c, "/employees", errFetchEmployees)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, FilterByOffice(result.Records, c.Param("officeUuid")))
	}
}

// handlePermanentEmployees は正職員を返すハンドラを返す。
func (s *Server) handlePermanentEmployees() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, ok := s.aggregate(c, "/employees", errFetchEmployees)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, FilterPermanent(result.Records))
	}
}

// aggregate は本番APIのpathを全ページ取得する。
// 最初のページで失敗した場合はエラーを応答してfalseを返す。
func (s *Server) aggregate(c *gin.Context, path, failure string) (*PageResult, bool) {
	sess := session.FromContext(c)
	ctx := c.Request.Context()

	token := s.live.ResolveUsableToken(ctx, sess)
	result, err := s.live.FetchAllPages(ctx, sess, s.live.URL(path), token)
	if err != nil {
		var upErr *UpstreamError
		if errors.As(err, &upErr) {
			c.JSON(upErr.Status, gin.H{
				"error":  failure,
				"status": upErr.Status,
				"body":   upErr.BodyValue(),
			})
			return nil, false
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error":  failure,
			"status": http.StatusBadGateway,
			"body":   err.Error(),
		})
		return nil, false
	}
	if result.Partial {
		c.Header(headerPartialResult, "true")
	}
	return result, true
}

// handleTestProxy はテスト環境APIに1回だけリクエストを転送するハンドラを返す。
// テスト環境用のセッションキーに保存したサービスアカウントのトークンを使用する。
func (s *Server) handleTestProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.test == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Test API is not configured"})
			return
		}
		sess := session.FromContext(c)
		ctx := c.Request.Context()

		token := s.test.ResolveUsableToken(ctx, sess)
		if token == "" {
			token = s.test.DelegatedToken(ctx, sess)
		}

		status, body, err := s.test.Proxy(ctx, c.Param("endpoint"), c.Request.URL.Query(), token)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":  "Failed to reach test API",
				"status": http.StatusBadGateway,
				"body":   err.Error(),
			})
			return
		}

		contentType := "text/plain; charset=utf-8"
		if json.Valid(body) {
			contentType = "application/json"
		}
		c.Data(status, contentType, body)
	}
}

// validationErrors は入力検証エラーをフィールド名ごとのメッセージに変換する。
func validationErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"email": DefaultAuthMessage}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		if _, ok := out[field]; ok {
			continue
		}
		switch fe.Tag() {
		case "required":
			out[field] = "The " + field + " field is required."
		case "email":
			out[field] = "The " + field + " field must be a valid email address."
		default:
			out[field] = "The " + field + " field is invalid."
		}
	}
	return out
}

// firstMessage はemail、passwordの順にエラーメッセージを1つ返す。
func firstMessage(errs map[string]string) string {
	for _, k := range []string{"email", "password"} {
		if m, ok := errs[k]; ok {
			return m
		}
	}
	for _, m := range errs {
		return m
	}
	return DefaultAuthMessage
}
