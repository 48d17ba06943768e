package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nao1215/hrgate/pkg/session"
)

// pagedUpstream はページングされた /employees と /login を返すテスト用アップストリーム。
type pagedUpstream struct {
	mu sync.Mutex
	// pages はページ番号ごとのレスポンス生成関数。
	pages func(page int, base string) (int, string)
	// pageTokens はページリクエストごとのトークン。
	pageTokens []string
	// logins はサービスアカウントのログイン回数。
	logins atomic.Int32
	// loginStatus はサービスアカウントのログインのステータス。0の場合は200。
	loginStatus int
}

func (u *pagedUpstream) server(t *testing.T) string {
	t.Helper()

	ts := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			n := u.logins.Add(1)
			if u.loginStatus != 0 {
				writeJSON(w, u.loginStatus, `{"message":"no"}`)
				return
			}
			writeJSON(w, http.StatusOK, fmt.Sprintf(`{"token":"svc-%d"}`, n))
			return
		}

		u.mu.Lock()
		u.pageTokens = append(u.pageTokens, r.Header.Get("Authorization"))
		u.mu.Unlock()

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 0 {
			page = 1
		}
		status, body := u.pages(page, "http://"+r.Host)
		writeJSON(w, status, body)
	})
	return ts.URL
}

func (u *pagedUpstream) requests() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.pageTokens...)
}

// TestFetchAllPages はFetchAllPagesを検証する。
func TestFetchAllPages(t *testing.T) {
	t.Parallel()

	t.Run("links.nextを辿って全ページを順に連結すること", func(t *testing.T) {
		t.Parallel()

		up := &pagedUpstream{pages: func(page int, base string) (int, string) {
			if page < 3 {
				return http.StatusOK, fmt.Sprintf(`{"data":[{"id":%d},{"id":%d}],"links":{"next":"%s/employees?page=%d"}}`, page*10, page*10+1, base, page+1)
			}
			return http.StatusOK, `{"data":[{"id":30}],"links":{"next":null}}`
		}}
		base := up.server(t)
		gw := newTestGateway(t, base, nil)

		sess := session.New()
		sess.Put("api_token", "native")
		result, err := gw.FetchAllPages(context.Background(), sess, base+"/employees", "native")
		if err != nil {
			t.Fatalf("FetchAllPages()でエラーが発生: %v", err)
		}
		if got := mustJSON(t, result.Records); got != `[{"id":10},{"id":11},{"id":20},{"id":21},{"id":30}]` {
			t.Errorf("Records = %s", got)
		}
		if result.Pages != 3 {
			t.Errorf("Pages = %d, want 3", result.Pages)
		}
		if result.Partial {
			t.Error("Partial = true, want false")
		}
		for i, auth := range up.requests() {
			if auth != "Bearer native" {
				t.Errorf("%dページ目のAuthorization = %q", i+1, auth)
			}
		}
	})

	t.Run("next_page_urlと相対URLを辿ること", func(t *testing.T) {
		t.Parallel()

		up := &pagedUpstream{pages: func(page int, _ string) (int, string) {
			if page == 1 {
				return http.StatusOK, `{"data":[{"id":1}],"next_page_url":"/employees?page=2"}`
			}
			return http.StatusOK, `{"data":[{"id":2}],"next_page_url":null}`
		}}
		base := up.server(t)
		gw := newTestGateway(t, base, nil)

		result, err := gw.FetchAllPages(context.Background(), session.New(), base+"/employees", "tok")
		if err != nil {
			t.Fatalf("FetchAllPages()でエラーが発生: %v", err)
		}
		if got := mustJSON(t, result.Records); got != `[{"id":1},{"id":2}]` {
			t.Errorf("Records = %s", got)
		}
	})

	t.Run("配列のレスポンスは1ページで終了すること", func(t *testing.T) {
		t.Parallel()

		up := &pagedUpstream{pages: func(int, string) (int, string) {
			return http.StatusOK, `[{"id":1},{"id":2}]`
		}}
		base := up.server(t)
		gw := newTestGateway(t, base, nil)

		result, err := gw.FetchAllPages(context.Background(), session.New(), base+"/offices", "tok")
		if err != nil {
			t.Fatalf("FetchAllPages()でエラーが発生: %v", err)
		}
		if got := mustJSON(t, result.Records); got != `[{"id":1},{"id":2}]` {
			t.Errorf("Records = %s", got)
		}
		if len(up.requests()) != 1 {
			t.Errorf("リクエスト回数 = %d, want 1", len(up.requests()))
		}
	})

	t.Run("未知の形式は空の最終ページとして扱うこと", func(t *testing.T) {
		t.Parallel()

		up := &pagedUpstream{pages: func(int, string) (int, string) {
			return http.StatusOK, `{"message":"ok","items":[{"id":1}]}`
		}}
		base := up.server(t)
		gw := newTestGateway(t, base, nil)

		result, err := gw.FetchAllPages(context.Background(), session.New(), base+"/offices", "tok")
		if err != nil {
			t.Fatalf("FetchAllPages()でエラーが発生: %v", err)
		}
		if result.Records == nil || len(result.Records) != 0 {
			t.Errorf("Records = %v, want empty", result.Records)
		}
		if got := mustJSON(t, result.Records); got != `[]` {
			t.Errorf("Records = %s, want []", got)
		}
	})

	t.Run("nextリンクが続いても50ページで打ち切ること", func(t *testing.T) {
		t.Parallel()

		up := &pagedUpstream{pages: func(page int, base string) (int, string) {
			return http.StatusOK, fmt.Sprintf(`{"data":[{"id":%d}],"links":{"next":"%s/employees?page=%d"}}`, page, base, page+1)
		}}
		base := up.server(t)
		gw := newTestGateway(t, base, nil)

		result, err := gw.FetchAllPages(context.Background(), session.New(), base+"/employees", "tok")
		if err != nil {
			t.Fatalf("FetchAllPages()でエラーが発生: %v", err)
		}
		if n := len(up.requests()); n != MaxPages {
			t.Errorf("リクエスト回数 = %d, want %d", n, MaxPages)
		}
		if len(result.Records) != MaxPages {
			t.Errorf("レコード数 = %d, want %d", len(result.Records), MaxPages)
		}
		if result.Partial {
			t.Error("上限による打ち切りはPartialにしない")
		}
	})

	t.Run("401の再試行もリクエスト回数の上限に含めること", func(t *testing.T) {
		t.Parallel()

		var mu sync.Mutex
		attempts := map[int]int{}
		up := &pagedUpstream{}
		up.pages = func(page int, base string) (int, string) {
			mu.Lock()
			attempts[page]++
			first := attempts[page] == 1
			mu.Unlock()
			if first {
				return http.StatusUnauthorized, `{"message":"Unauthenticated."}`
			}
			return http.StatusOK, fmt.Sprintf(`{"data":[{"id":%d}],"links":{"next":"%s/employees?page=%d"}}`, page, base, page+1)
		}
		base := up.server(t)
		gw := newTestGateway(t, base, nil)

		sess := session.New()
		sess.Put("api_token", "local-token-1")
		result, err := gw.FetchAllPages(context.Background(), sess, base+"/employees", "expired")
		if err != nil {
			t.Fatalf("FetchAllPages()でエラーが発生: %v", err)
		}
		if n := len(up.requests()); n > MaxPages {
			t.Errorf("ページリクエスト回数 = %d, want <= %d", n, MaxPages)
		}
		if len(result.Records) != MaxPages/2 {
			t.Errorf("レコード数 = %d, want %d", len(result.Records), MaxPages/2)
		}
	})

	t.Run("別のホストを指すnextリンクは辿らないこと", func(t *testing.T) {
		t.Parallel()

		var foreignCalls atomic.Int32
		foreign := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
			foreignCalls.Add(1)
			writeJSON(w, http.StatusOK, `{"data":[{"id":99}]}`)
		})
		up := &pagedUpstream{pages: func(int, string) (int, string) {
			return http.StatusOK, fmt.Sprintf(`{"data":[{"id":1}],"links":{"next":"%s/employees?page=2"}}`, foreign.URL)
		}}
		base := up.server(t)
		gw := newTestGateway(t, base, nil)

		result, err := gw.FetchAllPages(context.Background(), session.New(), base+"/employees", "secret")
		if err != nil {
			t.Fatalf("FetchAllPages()でエラーが発生: %v", err)
		}
		if foreignCalls.Load() != 0 {
			t.Errorf("別のホストへのリクエスト回数 = %d, want 0", foreignCalls.Load())
		}
		if got := mustJSON(t, result.Records); got != `[{"id":1}]` {
			t.Errorf("Records = %s", got)
		}
		if result.Partial {
			t.Error("Partial = true, want false")
		}
	})

	t.Run("最初のページが失敗した場合はUpstreamErrorを返すこと", func(t *testing.T) {
		t.Parallel()

		up := &pagedUpstream{pages: func(int, string) (int, string) {
			return http.StatusInternalServerError, `{"message":"Server Error"}`
		}}
		base := up.server(t)
		gw := newTestGateway(t, base, nil)

		_, err := gw.FetchAllPages(context.Background(), session.New(), base+"/employees", "tok")
		var upErr *UpstreamError
		if !errors.As(err, &upErr) {
			t.Fatalf("エラーの型 = %T, want *UpstreamError", err)
		}
		if upErr.Status != http.StatusInternalServerError {
			t.Errorf("Status = %d, want 500", upErr.Status)
		}
		if string(upErr.Body) != `{"message":"Server Error"}` {
			t.Errorf("Body = %s", upErr.Body)
		}
		if upErr.URL != base+"/employees" {
			t.Errorf("URL = %q", upErr.URL)
		}
	})

	t.Run("途中のページが失敗した場合はそこまでの結果を返すこと", func(t *testing.T) {
		t.Parallel()

		up := &pagedUpstream{pages: func(page int, base string) (int, string) {
			if page == 3 {
				return http.StatusServiceUnavailable, `down`
			}
			return http.StatusOK, fmt.Sprintf(`{"data":[{"id":%d}],"links":{"next":"%s/employees?page=%d"}}`, page, base, page+1)
		}}
		base := up.server(t)
		gw := newTestGateway(t, base, nil)

		result, err := gw.FetchAllPages(context.Background(), session.New(), base+"/employees", "tok")
		if err != nil {
			t.Fatalf("FetchAllPages()でエラーが発生: %v", err)
		}
		if got := mustJSON(t, result.Records); got != `[{"id":1},{"id":2}]` {
			t.Errorf("Records = %s", got)
		}
		if !result.Partial {
			t.Error("Partial = false, want true")
		}
		if result.Pages != 2 {
			t.Errorf("Pages = %d, want 2", result.Pages)
		}
	})

	t.Run("ローカルユーザーの401はトークンを再取得して1回だけ再試行すること", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		up := &pagedUpstream{}
		up.pages = func(int, string) (int, string) {
			if calls.Add(1) == 1 {
				return http.StatusUnauthorized, `{"message":"Unauthenticated."}`
			}
			return http.StatusOK, `{"data":[{"id":1}]}`
		}
		base := up.server(t)
		gw := newTestGateway(t, base, nil)

		sess := session.New()
		sess.Put("api_token", "local-token-1")
		sess.Put("service_token", "expired")
		result, err := gw.FetchAllPages(context.Background(), sess, base+"/employees", "expired")
		if err != nil {
			t.Fatalf("FetchAllPages()でエラーが発生: %v", err)
		}
		if len(result.Records) != 1 {
			t.Errorf("レコード数 = %d, want 1", len(result.Records))
		}
		if up.logins.Load() != 1 {
			t.Errorf("サービスアカウントのログイン回数 = %d, want 1", up.logins.Load())
		}
		reqs := up.requests()
		if len(reqs) != 2 || reqs[0] != "Bearer expired" || reqs[1] != "Bearer svc-1" {
			t.Errorf("ページリクエスト = %v", reqs)
		}
		if cached, _ := sess.Get("service_token"); cached != "svc-1" {
			t.Errorf("service_token = %q, want %q", cached, "svc-1")
		}
	})

	t.Run("再試行後も401の場合はそれ以上再試行しないこと", func(t *testing.T) {
		t.Parallel()

		up := &pagedUpstream{pages: func(int, string) (int, string) {
			return http.StatusUnauthorized, `{"message":"Unauthenticated."}`
		}}
		base := up.server(t)
		gw := newTestGateway(t, base, nil)

		sess := session.New()
		sess.Put("api_token", "local-token-1")
		_, err := gw.FetchAllPages(context.Background(), sess, base+"/employees", "expired")
		var upErr *UpstreamError
		if !errors.As(err, &upErr) || upErr.Status != http.StatusUnauthorized {
			t.Fatalf("エラー = %v, want 401のUpstreamError", err)
		}
		if n := len(up.requests()); n != 2 {
			t.Errorf("ページリクエスト回数 = %d, want 2", n)
		}
		if up.logins.Load() != 1 {
			t.Errorf("サービスアカウントのログイン回数 = %d, want 1", up.logins.Load())
		}
	})

	t.Run("途中のページの401も1回だけ再試行すること", func(t *testing.T) {
		t.Parallel()

		var secondPageCalls atomic.Int32
		up := &pagedUpstream{}
		up.pages = func(page int, base string) (int, string) {
			if page == 1 {
				return http.StatusOK, fmt.Sprintf(`{"data":[{"id":1}],"links":{"next":"%s/employees?page=2"}}`, base)
			}
			if secondPageCalls.Add(1) == 1 {
				return http.StatusUnauthorized, `{}`
			}
			return http.StatusOK, `{"data":[{"id":2}]}`
		}
		base := up.server(t)
		gw := newTestGateway(t, base, nil)

		sess := session.New()
		sess.Put("api_token", "local-token-1")
		result, err := gw.FetchAllPages(context.Background(), sess, base+"/employees", "svc-old")
		if err != nil {
			t.Fatalf("FetchAllPages()でエラーが発生: %v", err)
		}
		if got := mustJSON(t, result.Records); got != `[{"id":1},{"id":2}]` {
			t.Errorf("Records = %s", got)
		}
		if secondPageCalls.Load() != 2 {
			t.Errorf("2ページ目のリクエスト回数 = %d, want 2", secondPageCalls.Load())
		}
	})

	t.Run("アップストリームのトークンの401は再試行しないこと", func(t *testing.T) {
		t.Parallel()

		up := &pagedUpstream{pages: func(int, string) (int, string) {
			return http.StatusUnauthorized, `{"message":"Unauthenticated."}`
		}}
		base := up.server(t)
		gw := newTestGateway(t, base, nil)

		sess := session.New()
		sess.Put("api_token", "native")
		_, err := gw.FetchAllPages(context.Background(), sess, base+"/employees", "native")
		var upErr *UpstreamError
		if !errors.As(err, &upErr) || upErr.Status != http.StatusUnauthorized {
			t.Fatalf("エラー = %v, want 401のUpstreamError", err)
		}
		if n := len(up.requests()); n != 1 {
			t.Errorf("ページリクエスト回数 = %d, want 1", n)
		}
		if up.logins.Load() != 0 {
			t.Errorf("サービスアカウントのログイン回数 = %d, want 0", up.logins.Load())
		}
	})

	t.Run("トークンの再取得に失敗した場合は再試行しないこと", func(t *testing.T) {
		t.Parallel()

		up := &pagedUpstream{loginStatus: http.StatusUnauthorized, pages: func(int, string) (int, string) {
			return http.StatusUnauthorized, `{}`
		}}
		base := up.server(t)
		gw := newTestGateway(t, base, nil)

		sess := session.New()
		sess.Put("api_token", "local-token-1")
		_, err := gw.FetchAllPages(context.Background(), sess, base+"/employees", "")
		var upErr *UpstreamError
		if !errors.As(err, &upErr) {
			t.Fatalf("エラーの型 = %T, want *UpstreamError", err)
		}
		if n := len(up.requests()); n != 1 {
			t.Errorf("ページリクエスト回数 = %d, want 1", n)
		}
	})

	t.Run("接続できない場合は502のUpstreamErrorを返すこと", func(t *testing.T) {
		t.Parallel()

		gw := newTestGateway(t, "http://127.0.0.1:1", nil)
		_, err := gw.FetchAllPages(context.Background(), session.New(), "http://127.0.0.1:1/employees", "tok")
		var upErr *UpstreamError
		if !errors.As(err, &upErr) {
			t.Fatalf("エラーの型 = %T, want *UpstreamError", err)
		}
		if upErr.Status != http.StatusBadGateway {
			t.Errorf("Status = %d, want 502", upErr.Status)
		}
		if len(upErr.Body) == 0 {
			t.Error("Bodyにエラーメッセージが含まれていない")
		}
	})
}
