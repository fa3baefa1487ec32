package auth

import (
	"context"
	"time"
)

// Principal は認証済みユーザーのローカル表現。
// 作成と検索はIdentity Resolverのみが行い、Token Serviceは読み取るだけ。
type Principal struct {
	// ID はローカルの一意識別子（UUID）。
	ID string `json:"id"`
	// Email はメールアドレス。一意かつ必須。
	Email string `json:"email"`
	// DisplayName は表示名。
	DisplayName string `json:"full_name"`
	// ExternalID はGoogleのsubject ID。一意。
	ExternalID string `json:"google_id"`
	// AvatarURI はプロフィール画像のURI。未設定の場合は空文字列。
	AvatarURI string `json:"picture"`
	// Active はユーザーが有効かどうか。
	Active bool `json:"active"`
	// CreatedAt は作成日時。
	CreatedAt time.Time `json:"created_at"`
}

// ExternalIdentity はIDプロバイダーから取得した正規化済みのユーザー情報。
// 事実のみを保持し、ユーザー作成などの判断は含まない。
type ExternalIdentity struct {
	// ExternalID はプロバイダー内で一意なユーザーID。
	ExternalID string
	// Email はプロバイダーが返したメールアドレス。
	Email string
	// DisplayName はプロバイダーが返した表示名。
	DisplayName string
	// AvatarURI はプロバイダーが返したプロフィール画像のURI。
	AvatarURI string
}

// PrincipalFinder はメールアドレスからPrincipalを検索する。
// 見つからない場合はPrincipalNotFoundを返す。
type PrincipalFinder interface {
	FindByEmail(ctx context.Context, email string) (*Principal, error)
}

// PrincipalResolver は外部IDからPrincipalを取得し、存在しなければ作成する。
type PrincipalResolver interface {
	GetOrCreate(ctx context.Context, identity ExternalIdentity) (*Principal, error)
}
