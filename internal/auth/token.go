package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType はセッショントークンの種別。
type TokenType string

const (
	// TokenTypeAccess は個々のリクエストを認可する短命のトークン。
	TokenTypeAccess TokenType = "access"
	// TokenTypeRefresh は新しいトークンペアの発行にのみ使用する長命のトークン。
	TokenTypeRefresh TokenType = "refresh"
)

const (
	// DefaultAccessTokenTTL はアクセストークンの既定の有効期間。
	DefaultAccessTokenTTL = 30 * time.Minute
	// DefaultRefreshTokenTTL はリフレッシュトークンの既定の有効期間。
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Claims はセッショントークンのクレーム。
// subにはPrincipalのメールアドレスを格納する。
type Claims struct {
	jwt.RegisteredClaims
	// ExternalID はGoogleのsubject ID。
	ExternalID string `json:"google_id"`
	// DisplayName は表示名。
	DisplayName string `json:"full_name"`
	// Type はトークン種別。
	Type TokenType `json:"type"`
}

// TokenPair はアクセストークンとリフレッシュトークンの組。
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenConfig はToken Serviceの設定。
type TokenConfig struct {
	// Secret はHMAC署名用の秘密鍵。ログに出力してはならない。
	Secret string
	// AccessTTL はアクセストークンの有効期間。0の場合は既定値を使う。
	AccessTTL time.Duration
	// RefreshTTL はリフレッシュトークンの有効期間。0の場合は既定値を使う。
	RefreshTTL time.Duration
}

// TokenOption はTokenServiceの生成オプション。
type TokenOption func(*TokenService)

// WithClock は発行と検証に使う時刻関数を差し替える。
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

// WithPrincipalFinder はRefreshでsubjectを再解決するためのFinderを設定する。
func WithPrincipalFinder(finder PrincipalFinder) TokenOption {
	return func(s *TokenService) {
		s.finder = finder
	}
}

// TokenService はセッショントークンの発行、検証、更新を行う。
// 検証はローカルのCPU処理のみで完結し、外部I/Oを伴わない。
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	finder     PrincipalFinder
}

// NewTokenService はTokenServiceを生成する。
// 秘密鍵が空の場合は起動時エラーとする。
func NewTokenService(cfg TokenConfig, opts ...TokenOption) (*TokenService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("トークン署名用の秘密鍵が設定されていません")
	}
	s := &TokenService{
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
	if s.accessTTL <= 0 {
		s.accessTTL = DefaultAccessTokenTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = DefaultRefreshTokenTTL
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueAccess はアクセストークンを発行する。
func (s *TokenService) IssueAccess(p Principal) (string, error) {
	return s.issue(p, TokenTypeAccess, s.accessTTL)
}

// IssueRefresh はリフレッシュトークンを発行する。
func (s *TokenService) IssueRefresh(p Principal) (string, error) {
	return s.issue(p, TokenTypeRefresh, s.refreshTTL)
}

// IssuePair はアクセストークンとリフレッシュトークンを同じ時刻で発行する。
func (s *TokenService) IssuePair(p Principal) (TokenPair, error) {
	access, err := s.IssueAccess(p)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.IssueRefresh(p)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// issue は種別と有効期間を指定してトークンに署名する。
// jtiのような乱数を含めないため、同じ時刻なら同じトークンになる。
func (s *TokenService) issue(p Principal, typ TokenType, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		ExternalID:  p.ExternalID,
		DisplayName: p.DisplayName,
		Type:        typ,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("%sトークンの署名に失敗: %w", typ, err)
	}
	return signed, nil
}

// Verify はトークンを検証し、クレームを返す。
// 署名や構造が不正ならTokenMalformed、期限切れならTokenExpired、
// 種別が異なればTokenTypeMismatchを返す。
func (s *TokenService) Verify(tokenString string, expected TokenType) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("想定外の署名アルゴリズム: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, newError(KindTokenExpired, ErrTokenExpired.Detail, err)
		}
		return nil, newError(KindTokenMalformed, ErrTokenMalformed.Detail, err)
	}

	if claims.Subject == "" {
		return nil, newError(KindTokenMalformed, ErrTokenMalformed.Detail, errors.New("subが空"))
	}
	if claims.Type != expected {
		return nil, newError(KindTokenTypeMismatch, ErrTokenTypeMismatch.Detail,
			fmt.Errorf("got %q, want %q", claims.Type, expected))
	}
	return claims, nil
}

// Refresh はリフレッシュトークンを検証し、新しいトークンペアを発行する。
// プロフィール変更を反映するため、subjectからPrincipalを再解決する。
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (TokenPair, *Principal, error) {
	claims, err := s.Verify(refreshToken, TokenTypeRefresh)
	if err != nil {
		return TokenPair{}, nil, err
	}
	if s.finder == nil {
		return TokenPair{}, nil, errors.New("PrincipalFinderが設定されていません")
	}

	p, err := s.finder.FindByEmail(ctx, claims.Subject)
	if err != nil {
		return TokenPair{}, nil, err
	}
	if !p.Active {
		return TokenPair{}, nil, NotFound(claims.Subject)
	}

	pair, err := s.IssuePair(*p)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, p, nil
}
