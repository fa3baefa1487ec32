// Package gateway はレジュメビルダーの認証ゲートウェイの内部実装を提供する。
//
// Google OAuth2によるログイン、アクセストークンとリフレッシュトークンの発行と検証、
// クライアントごとのレート制限を担当する。外部からアクセス可能な唯一のサービスであり、
// 認証済みリクエストにユーザーのメールアドレスを付与してレジュメサービスに転送する。
package gateway
