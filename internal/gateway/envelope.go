package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// page はアップストリームの1ページ分のレスポンス。
type page struct {
	// Items はページに含まれるレコード。
	Items []any
	// Next は次ページのURL。最終ページの場合は空文字列。
	Next string
}

// decodeJSON は数値を json.Number のまま保持してJSONをデコードする。
// 数値IDを文字列として比較するため、float64への変換を避ける。
func decodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// decodePage はページングされたレスポンスを解釈する。
//
//   - {"data": [...], "links": {"next": ...}} または {"data": [...], "next_page_url": ...}
//   - [...]（単一ページ）
//
// それ以外の形式はレコードなしの最終ページとして扱う。
func decodePage(body []byte) page {
	v, err := decodeJSON(body)
	if err != nil {
		return page{}
	}
	switch t := v.(type) {
	case []any:
		return page{Items: t}
	case map[string]any:
		data, ok := t["data"].([]any)
		if !ok {
			return page{}
		}
		return page{Items: data, Next: nextLink(t)}
	default:
		return page{}
	}
}

// nextLink は links.next、next_page_url の順に次ページのURLを探す。
// nullでない最初の値を採用する。
func nextLink(envelope map[string]any) string {
	if links, ok := envelope["links"].(map[string]any); ok {
		if v, ok := links["next"]; ok && v != nil {
			s, _ := v.(string)
			return s
		}
	}
	s, _ := envelope["next_page_url"].(string)
	return s
}

// resolveNext は次ページのURLを現在のURLを基準に解決する。
// 解決できない場合や別のホストを指す場合は空文字列を返し、集約を終了させる。
func resolveNext(current, next string) string {
	if next == "" {
		return ""
	}
	base, err := url.Parse(current)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(next)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != base.Scheme || resolved.Host != base.Host {
		return ""
	}
	return resolved.String()
}

// coalesce はnullでない最初の値を返す。全てnullまたは未定義の場合はnilを返す。
func coalesce(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// extractToken はログインレスポンスから token、access_token の順にトークンを取り出す。
func extractToken(body map[string]any) string {
	s, _ := coalesce(body, "token", "access_token").(string)
	return s
}

// extractUser はログインレスポンスから user、data の順にユーザー情報を取り出す。
// どちらも無い場合はレスポンス全体をユーザー情報とする。
func extractUser(body map[string]any) any {
	if v := coalesce(body, "user", "data"); v != nil {
		return v
	}
	return body
}

// extractMessage はエラーレスポンスの message を取り出す。
func extractMessage(body []byte) string {
	v, err := decodeJSON(body)
	if err != nil {
		return ""
	}
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m["message"].(string)
	return s
}

// decodeObject はJSONオブジェクトをデコードする。
func decodeObject(body []byte) (map[string]any, error) {
	v, err := decodeJSON(body)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("JSONオブジェクトではありません: %T", v)
	}
	return m, nil
}

// scalarString はJSONのスカラー値を比較用の文字列に変換する。
// オブジェクトや配列、nullの場合はfalseを返す。
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}
