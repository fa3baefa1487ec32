// Package identity はIDプロバイダーの外部IDとローカルユーザー（Principal）の対応を管理する。
//
// メールアドレスとexternal_idの一意制約をデータベースに持たせ、
// 作成は挿入か取得かの単一操作で行う。ユーザーを削除することはない。
package identity
