package gateway

import (
	"context"
	"net/url"
	"strings"
)

// Proxy はアップストリームの endpoint に1回だけGETリクエストを転送し、
// ステータスコードとボディをそのまま返す。ページングと再試行は行わない。
func (g *Gateway) Proxy(ctx context.Context, endpoint string, query url.Values, token string) (int, []byte, error) {
	// 絶対URLを渡されてもベースURL配下にしか転送しない
	target := g.client.BaseURL() + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	g.logger.Debug().Str("url", target).Msg("プロキシリクエスト")
	resp, err := g.get(ctx, target, token)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, resp.Body, nil
}
