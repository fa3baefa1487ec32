package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/nao1215/resumebuilder/pkg/httpclient"
	"golang.org/x/oauth2"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v1/userinfo"

	// DefaultUpstreamTimeout はGoogleへの各呼び出しのタイムアウト。
	DefaultUpstreamTimeout = 10 * time.Second
)

// GoogleConfig はGoogle OAuth2プロバイダーの設定。
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Timeout はトークン交換とユーザー情報取得のそれぞれに適用するタイムアウト。
	Timeout time.Duration

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// IdentityProvider は外部IDプロバイダーとの認可コードフローを表す。
// 返すのは事実としてのユーザー情報のみで、ユーザー作成やトークン発行は行わない。
type IdentityProvider interface {
	// AuthCodeURL は認可画面のURLを返す。I/Oは行わない。
	AuthCodeURL() string
	// Exchange は認可コードをユーザー情報に交換する。
	Exchange(ctx context.Context, code string) (*ExternalIdentity, error)
}

// GoogleProvider はGoogle OAuth2による認可コードフローを実装する。
type GoogleProvider struct {
	oauthConfig *oauth2.Config
	userInfoURL string
	timeout     time.Duration
	client      *httpclient.Client
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
// v1はid、v3はsubにユーザーIDを返す。
type googleUserInfo struct {
	ID      string `json:"id"`
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// NewGoogleProvider はGoogleProviderを生成する。
// 必須設定が欠けている場合は起動時エラーとする。
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RedirectURL == "" {
		return nil, errors.New("Google OAuth2の設定が不足しています（client id, client secret, redirect uri）")
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultGoogleAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultGoogleTokenURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = defaultGoogleUserInfoURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultUpstreamTimeout
	}

	return &GoogleProvider{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: cfg.UserInfoURL,
		timeout:     cfg.Timeout,
		// タイムアウトはリクエストごとのコンテキストで制御する
		client: httpclient.New("", httpclient.WithTimeout(0)),
	}, nil
}

// AuthCodeURL はアカウント選択画面を伴うGoogleの認可URLを返す。
func (p *GoogleProvider) AuthCodeURL() string {
	return p.oauthConfig.AuthCodeURL("", oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
// 2回の呼び出しはそれぞれ独立にタイムアウトする。
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*ExternalIdentity, error) {
	// 1. 認可コードをアクセストークンに交換
	token, err := p.exchangeToken(ctx, code)
	if err != nil {
		return nil, classifyUpstream(err, "Failed to obtain access token")
	}

	// 2. アクセストークンでユーザー情報を取得
	info, err := p.fetchUserInfo(ctx, token.AccessToken)
	if err != nil {
		return nil, classifyUpstream(err, "Failed to get user info")
	}

	if info.Email == "" {
		return nil, newError(KindIdentityIncomplete, ErrIdentityIncomplete.Detail, nil)
	}
	externalID := info.ID
	if externalID == "" {
		externalID = info.Sub
	}
	if externalID == "" {
		return nil, newError(KindIdentityIncomplete, "Account id not provided by Google", nil)
	}

	return &ExternalIdentity{
		ExternalID:  externalID,
		Email:       info.Email,
		DisplayName: info.Name,
		AvatarURI:   info.Picture,
	}, nil
}

// exchangeToken は認可コードをアクセストークンに交換する。
func (p *GoogleProvider) exchangeToken(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client.HTTPClient())
	token, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("トークン交換に失敗: %w", err)
	}
	return token, nil
}

// fetchUserInfo はアクセストークンでGoogleのユーザー情報を取得する。
func (p *GoogleProvider) fetchUserInfo(ctx context.Context, accessToken string) (*googleUserInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var info googleUserInfo
	if err := p.client.GetJSON(ctx, p.userInfoURL, &info, httpclient.WithBearer(accessToken)); err != nil {
		return nil, fmt.Errorf("ユーザー情報の取得に失敗: %w", err)
	}
	return &info, nil
}

// classifyUpstream はGoogle呼び出しの失敗をUpstream系のエラーに分類する。
// タイムアウト、2xx以外の応答、到達不能の順に判定する。
func classifyUpstream(err error, rejectedDetail string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindUpstreamTimeout, ErrUpstreamTimeout.Detail, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(KindUpstreamTimeout, ErrUpstreamTimeout.Detail, err)
	}

	var retrieveErr *oauth2.RetrieveError
	var statusErr *httpclient.StatusError
	if errors.As(err, &retrieveErr) || errors.As(err, &statusErr) {
		return newError(KindUpstreamRejected, rejectedDetail, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return newError(KindUpstreamUnreachable, ErrUpstreamUnreachable.Detail, err)
	}

	// 応答は得られたが内容が解釈できない場合
	return newError(KindUpstreamRejected, rejectedDetail, err)
}

var _ IdentityProvider = (*GoogleProvider)(nil)
