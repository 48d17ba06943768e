// Package middleware はhrgateのHTTPルーターで使用する共通Ginミドルウェアを提供する。
//
// パニックリカバリ、CORS設定、リクエストIDの付与、構造化アクセスログ、
// セッションに保存されたAPIトークンによる認証ガードを含む。
package middleware
