package auth

import (
	"errors"
	"fmt"
)

// Kind は認証・受付処理で発生する失敗の種類を表す。
// 呼び出し側はエラーメッセージではなくKindで分岐する。
type Kind int

const (
	// KindUnknown は分類されていない失敗を表す。
	KindUnknown Kind = iota
	// KindAuthorizationDenied はIDプロバイダーが認可を拒否したことを表す。
	KindAuthorizationDenied
	// KindMissingAuthorizationCode はコールバックに認可コードが含まれていないことを表す。
	KindMissingAuthorizationCode
	// KindUpstreamTimeout はIDプロバイダーへの呼び出しがタイムアウトしたことを表す。
	KindUpstreamTimeout
	// KindUpstreamRejected はIDプロバイダーが2xx以外を返したことを表す。
	KindUpstreamRejected
	// KindUpstreamUnreachable はIDプロバイダーに到達できなかったことを表す。
	KindUpstreamUnreachable
	// KindIdentityIncomplete はユーザー情報にメールアドレスが含まれていないことを表す。
	KindIdentityIncomplete
	// KindTokenMalformed はトークンの署名または構造が不正であることを表す。
	KindTokenMalformed
	// KindTokenExpired はトークンの有効期限が切れていることを表す。
	KindTokenExpired
	// KindTokenTypeMismatch はトークン種別が要求された種別と異なることを表す。
	KindTokenTypeMismatch
	// KindPrincipalNotFound はトークンのsubjectに対応するユーザーが存在しないことを表す。
	KindPrincipalNotFound
	// KindRateLimitExceeded はレート制限を超えたことを表す。
	KindRateLimitExceeded
	// KindStoreWriteFailed はユーザーストアへの書き込みに失敗したことを表す。
	KindStoreWriteFailed
)

var kindNames = map[Kind]string{
	KindUnknown:                  "Unknown",
	KindAuthorizationDenied:      "AuthorizationDenied",
	KindMissingAuthorizationCode: "MissingAuthorizationCode",
	KindUpstreamTimeout:          "UpstreamTimeout",
	KindUpstreamRejected:         "UpstreamRejected",
	KindUpstreamUnreachable:      "UpstreamUnreachable",
	KindIdentityIncomplete:       "IdentityIncomplete",
	KindTokenMalformed:           "TokenMalformed",
	KindTokenExpired:             "TokenExpired",
	KindTokenTypeMismatch:        "TokenTypeMismatch",
	KindPrincipalNotFound:        "PrincipalNotFound",
	KindRateLimitExceeded:        "RateLimitExceeded",
	KindStoreWriteFailed:         "StoreWriteFailed",
}

// String はKindの名前を返す。
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error は種類付きのエラー。
// Detailはクライアントに返してよい文言のみを保持し、内部情報はErrに格納する。
type Error struct {
	// Kind は失敗の種類。
	Kind Kind
	// Detail はレスポンスのdetailに使用する人間向けの文言。
	Detail string
	// Err は原因となったエラー。ログ出力専用。
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap は原因となったエラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// Is はKindが一致する*Errorを同一とみなす。
// errors.Is(err, ErrTokenExpired) のような判定に使用する。
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// newError はKindと文言から*Errorを生成する。
func newError(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

// 各Kindの比較用センチネル。
var (
	ErrAuthorizationDenied      = &Error{Kind: KindAuthorizationDenied, Detail: "Authentication failed"}
	ErrMissingAuthorizationCode = &Error{Kind: KindMissingAuthorizationCode, Detail: "No authorization code provided"}
	ErrUpstreamTimeout          = &Error{Kind: KindUpstreamTimeout, Detail: "Authentication request timed out"}
	ErrUpstreamRejected         = &Error{Kind: KindUpstreamRejected, Detail: "Failed to obtain access token"}
	ErrUpstreamUnreachable      = &Error{Kind: KindUpstreamUnreachable, Detail: "Could not communicate with authentication server"}
	ErrIdentityIncomplete       = &Error{Kind: KindIdentityIncomplete, Detail: "Email not provided by Google"}
	ErrTokenMalformed           = &Error{Kind: KindTokenMalformed, Detail: "Invalid token"}
	ErrTokenExpired             = &Error{Kind: KindTokenExpired, Detail: "Token has expired"}
	ErrTokenTypeMismatch        = &Error{Kind: KindTokenTypeMismatch, Detail: "Invalid token type"}
	ErrPrincipalNotFound        = &Error{Kind: KindPrincipalNotFound, Detail: "User not found"}
	ErrRateLimitExceeded        = &Error{Kind: KindRateLimitExceeded, Detail: "Too many requests"}
	ErrStoreWriteFailed         = &Error{Kind: KindStoreWriteFailed, Detail: "Database error while creating user"}
)

// KindOf はエラーチェーンから*Errorを探し、そのKindを返す。
// *Errorが含まれていない場合はKindUnknownとfalseを返す。
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindUnknown, false
}

// DetailOf はクライアントに返すdetail文言を返す。
// *Errorでないエラーは内部情報を漏らさないよう固定文言にする。
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Detail != "" {
		return e.Detail
	}
	return "Internal server error"
}

// WrapStoreWriteFailed はユーザーストアの書き込み失敗をStoreWriteFailedとして包む。
func WrapStoreWriteFailed(cause error) error {
	return newError(KindStoreWriteFailed, ErrStoreWriteFailed.Detail, cause)
}

// NotFound はPrincipalNotFoundを返す。
func NotFound(email string) error {
	return newError(KindPrincipalNotFound, ErrPrincipalNotFound.Detail, fmt.Errorf("email=%q", email))
}
