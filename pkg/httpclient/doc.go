// Package httpclient は外部サービスとのHTTP通信を行うクライアントを提供する。
//
// Googleのユーザー情報エンドポイントの呼び出しや、レジュメサービスへの
// リクエスト転送に使用する。2xx以外のレスポンスはStatusErrorとして返し、
// 呼び出し側が失敗の種類を判別できるようにする。
package httpclient
