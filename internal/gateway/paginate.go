package gateway

import (
	"context"
	"net/http"
)

// PageResult はページング集約の結果。
type PageResult struct {
	// Records は全ページのレコードを取得順に連結したもの。
	Records []any
	// Pages は取得に成功したページ数。
	Pages int
	// Partial は途中のページで失敗し、結果が打ち切られたかどうか。
	Partial bool
}

// FetchAllPages はtargetから次ページのリンクを辿り、全ページのレコードを集約する。
//
// 401が返り、かつセッションのトークンがローカルユーザーのものである場合は
// サービスアカウントのトークンを再取得して同じページを1回だけ再試行する。
// 最初のページが失敗した場合は *UpstreamError を返す。2ページ目以降が
// 失敗した場合はそこまでの結果を Partial として返す。
// 再試行を含めたリクエスト数は MaxPages を上限とする。
// 次ページのURLが別のホストを指す場合はトークンを送らずに終了する。
func (g *Gateway) FetchAllPages(ctx context.Context, sess Session, target, token string) (*PageResult, error) {
	primary, _ := sess.Get(g.keys.Token)
	local := IsLocalToken(primary)

	result := &PageResult{Records: []any{}}
	// 再試行を含めたリクエスト数の上限
	budget := MaxPages
	next := target
	for n := 0; next != "" && budget > 0; n++ {
		status, body := g.fetchPage(ctx, next, token)
		budget--
		if status == http.StatusUnauthorized && local && budget > 0 {
			g.logger.Info().Str("url", next).Msg("401のためサービスアカウントのトークンを再取得します")
			if refreshed := g.RefreshServiceToken(ctx, sess); refreshed != "" {
				token = refreshed
				status, body = g.fetchPage(ctx, next, token)
				budget--
			}
		}

		if status < 200 || status >= 300 {
			g.logger.Error().
				Str("url", next).
				Int("status", status).
				Str("body", string(body)).
				Int("page", n+1).
				Msg("アップストリームからのページ取得に失敗")
			if n == 0 {
				return nil, &UpstreamError{Status: status, Body: body, URL: next}
			}
			result.Partial = true
			g.metrics.IncPartial(g.name)
			g.logger.Warn().
				Int("pages", result.Pages).
				Int("records", len(result.Records)).
				Msg("集約を途中で打ち切りました")
			break
		}

		result.Pages++
		p := decodePage(body)
		result.Records = append(result.Records, p.Items...)
		resolved := resolveNext(next, p.Next)
		if p.Next != "" && resolved == "" {
			g.logger.Warn().Str("url", next).Str("next", p.Next).Msg("次ページのURLを辿れないため集約を終了します")
		}
		next = resolved
	}

	g.metrics.AddPages(g.name, result.Pages)
	return result, nil
}

// fetchPage は1ページを取得してステータスとボディを返す。
// 通信エラーはステータス502、ボディはエラーメッセージとして扱う。
func (g *Gateway) fetchPage(ctx context.Context, target, token string) (int, []byte) {
	resp, err := g.get(ctx, target, token)
	if err != nil {
		return http.StatusBadGateway, []byte(err.Error())
	}
	return resp.StatusCode, resp.Body
}
