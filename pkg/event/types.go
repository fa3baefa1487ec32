package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypePrincipal は認証済みユーザーを表す。
	AggregateTypePrincipal AggregateType = "Principal"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypePrincipalCreated は初回ログインでユーザーが作成されたことを表す。
	TypePrincipalCreated Type = "PrincipalCreated"
	// TypeLoginSucceeded はOAuth2ログインが成功したことを表す。
	TypeLoginSucceeded Type = "LoginSucceeded"
	// TypeTokensRefreshed はリフレッシュトークンで新しいトークンペアが発行されたことを表す。
	TypeTokensRefreshed Type = "TokensRefreshed"
)

// Event は認証に関する不変のイベントレコードを表す。
// 監査目的で追記のみ行い、更新や削除はしない。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// PrincipalCreatedData はPrincipalCreatedイベントのデータ。
type PrincipalCreatedData struct {
	// Email は作成されたユーザーのメールアドレス。
	Email string `json:"email"`
	// ExternalID はIDプロバイダー側のユーザーID。
	ExternalID string `json:"external_id"`
}

// LoginSucceededData はLoginSucceededイベントのデータ。
type LoginSucceededData struct {
	// Email はログインしたユーザーのメールアドレス。
	Email string `json:"email"`
	// Provider はログインに使用したIDプロバイダー名。
	Provider string `json:"provider"`
}

// TokensRefreshedData はTokensRefreshedイベントのデータ。
type TokensRefreshedData struct {
	// Email はトークンを更新したユーザーのメールアドレス。
	Email string `json:"email"`
}
