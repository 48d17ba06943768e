package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/hrgate/pkg/session"
)

// RequireSessionKey はセッションに指定キーの値が無いリクエストを拒否するGinミドルウェアを返す。
// JSONを期待するクライアントには401を、それ以外にはloginURLへのリダイレクトを返す。
func RequireSessionKey(key, loginURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := session.FromContext(c)
		if sess == nil || !sess.Has(key) {
			if ExpectsJSON(c) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"message": "Unauthenticated.",
				})
				return
			}
			c.Redirect(http.StatusFound, loginURL)
			c.Abort()
			return
		}
		c.Next()
	}
}

// ExpectsJSON はクライアントがJSONレスポンスを期待しているかを返す。
// XHRリクエスト、またはAcceptヘッダーにjsonを含む場合にtrueとなる。
func ExpectsJSON(c *gin.Context) bool {
	if c.GetHeader("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	accept := c.GetHeader("Accept")
	return strings.Contains(accept, "/json") || strings.Contains(accept, "+json")
}
