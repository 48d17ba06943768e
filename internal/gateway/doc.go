// Package gateway はHRダッシュボードとアップストリームのHRIS APIの間に立つ
// プロキシ兼セッションゲートウェイを提供する。
//
// ローカルユーザーまたはアップストリームAPIでログインし、セッションに
// アクセストークンを保持する。ローカルユーザーのトークンはアップストリームで
// 使えないため、サービスアカウントのトークンで代理アクセスする。
// 職員・部署の一覧はページングされたレスポンスを全ページ集約して返す。
package gateway
