// Package auth は認証ゲートウェイの中核を提供する。
//
// Google OAuth2の認可コード交換（LoginService, GoogleProvider）、
// アクセストークンとリフレッシュトークンの発行・検証・更新（TokenService）、
// 失敗の種類を表すエラー分類（Kind, Error）を含む。
// トークンは自己完結した署名付きJWTであり、検証にデータベースを必要としない。
// サーバー側の失効リストは持たないため、アクセストークンは短命に保つ。
package auth
