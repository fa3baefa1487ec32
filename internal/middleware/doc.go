// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// Bearerトークンの検証、クライアントごとのレート制限とセキュリティヘッダー、
// リクエストログ、パニックリカバリ、CORS設定を含む。
// エラーレスポンスはすべて {"detail": "..."} 形式で返す。
package middleware
