// Package view はフロントエンドのページコンポーネントを描画する。
//
// サーバーはコンポーネント名とpropsだけを渡し、画面の組み立ては
// ブラウザ側のアプリケーションが行う。
package view

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
)

//go:embed templates/*.html
var templateFS embed.FS

// headerPage はページオブジェクトをJSONで要求するリクエストヘッダー。
const headerPage = "X-Page"

// Page はフロントエンドに渡すページオブジェクト。
type Page struct {
	// Component は描画するコンポーネント名。
	Component string `json:"component"`
	// Props はコンポーネントに渡す値。
	Props map[string]any `json:"props"`
	// URL はリクエストされたURL。
	URL string `json:"url"`
}

// layoutData はレイアウトテンプレートに渡すデータ。
type layoutData struct {
	Title     string
	CSRFToken string
	PageJSON  string
}

// Renderer はページを描画する。
type Renderer struct {
	tmpl  *template.Template
	title string
}

// New は埋め込みテンプレートを読み込んだRendererを生成する。
func New(title string) (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("テンプレートの読み込みに失敗: %w", err)
	}
	return &Renderer{tmpl: tmpl, title: title}, nil
}

// Render はコンポーネントをpropsとともに描画する。
// X-Pageヘッダー付きのリクエストにはページオブジェクトをJSONで返す。
func (r *Renderer) Render(c *gin.Context, component string, props map[string]any, csrfToken string) {
	if props == nil {
		props = map[string]any{}
	}
	page := Page{
		Component: component,
		Props:     props,
		URL:       c.Request.URL.RequestURI(),
	}

	if c.GetHeader(headerPage) != "" {
		c.Header("Vary", headerPage)
		c.Header(headerPage, "true")
		c.JSON(http.StatusOK, page)
		return
	}

	encoded, err := json.Marshal(page)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ページの生成に失敗しました"})
		return
	}
	c.Render(http.StatusOK, render.HTML{
		Template: r.tmpl,
		Name:     "app.html",
		Data: layoutData{
			Title:     r.title,
			CSRFToken: csrfToken,
			PageJSON:  string(encoded),
		},
	})
}
