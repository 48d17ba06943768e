// Package httpclient はアップストリームのHRIS APIと通信するHTTPクライアントを提供する。
//
// レスポンスはデシリアライズせずにステータスコードとボディのまま返す。
// ページング集約やエラーレスポンスの透過転送など、呼び出し側が
// 生のボディを必要とする用途に合わせている。
package httpclient
