package auth

import (
	"context"
	"log/slog"

	"github.com/nao1215/resumebuilder/pkg/event"
)

// denialReasons はIDプロバイダーが返すerrorパラメータと表示文言の対応表。
var denialReasons = map[string]string{
	"access_denied":   "User denied access",
	"invalid_request": "Invalid request",
	"invalid_scope":   "Invalid scope",
	"server_error":    "Server error during authentication",
}

// DenialReason はerrorパラメータに対応する文言を返す。
// 未知の値はunknownとして扱う。
func DenialReason(providerError string) string {
	if reason, ok := denialReasons[providerError]; ok {
		return reason
	}
	return ErrAuthorizationDenied.Detail
}

// EventRecorder は認証イベントを記録する。
type EventRecorder interface {
	Append(ctx context.Context, ev *event.Event) error
}

// LoginMetrics はログイン結果を集計する。
type LoginMetrics interface {
	RecordLogin(outcome string)
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	// Principal は解決済みのユーザー。
	Principal *Principal
	// Tokens は発行したトークンペア。
	Tokens TokenPair
}

// LoginService はOAuth2の認可コードをセッショントークンに交換する。
// コールバック経路でのみIDプロバイダーとToken Serviceを組み合わせて使う。
type LoginService struct {
	provider IdentityProvider
	resolver PrincipalResolver
	tokens   *TokenService
	logger   *slog.Logger

	events  EventRecorder
	metrics LoginMetrics
}

// LoginOption はLoginServiceの生成オプション。
type LoginOption func(*LoginService)

// WithEventRecorder は監査イベントの記録先を設定する。
func WithEventRecorder(r EventRecorder) LoginOption {
	return func(s *LoginService) { s.events = r }
}

// WithLoginMetrics はログイン結果の集計先を設定する。
func WithLoginMetrics(m LoginMetrics) LoginOption {
	return func(s *LoginService) { s.metrics = m }
}

// NewLoginService はLoginServiceを生成する。
func NewLoginService(provider IdentityProvider, resolver PrincipalResolver, tokens *TokenService, logger *slog.Logger, opts ...LoginOption) *LoginService {
	s := &LoginService{
		provider: provider,
		resolver: resolver,
		tokens:   tokens,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BeginLogin はIDプロバイダーの認可URLを返す。
func (s *LoginService) BeginLogin() string {
	return s.provider.AuthCodeURL()
}

// CompleteLogin はコールバックのcodeとerrorを処理し、ユーザーとトークンペアを返す。
func (s *LoginService) CompleteLogin(ctx context.Context, code, providerError string) (*LoginResult, error) {
	result, err := s.completeLogin(ctx, code, providerError)
	if s.metrics != nil {
		outcome := "success"
		if err != nil {
			kind, _ := KindOf(err)
			outcome = kind.String()
		}
		s.metrics.RecordLogin(outcome)
	}
	return result, err
}

func (s *LoginService) completeLogin(ctx context.Context, code, providerError string) (*LoginResult, error) {
	if providerError != "" {
		s.logger.Info("IDプロバイダーが認可を拒否しました", slog.String("provider_error", providerError))
		return nil, newError(KindAuthorizationDenied, DenialReason(providerError), nil)
	}
	if code == "" {
		return nil, newError(KindMissingAuthorizationCode, ErrMissingAuthorizationCode.Detail, nil)
	}

	identity, err := s.provider.Exchange(ctx, code)
	if err != nil {
		s.logger.Warn("認可コードの交換に失敗しました", slog.String("error", err.Error()))
		return nil, err
	}

	principal, err := s.resolver.GetOrCreate(ctx, *identity)
	if err != nil {
		s.logger.Error("ユーザーの解決に失敗しました", slog.String("error", err.Error()))
		return nil, err
	}

	tokens, err := s.tokens.IssuePair(*principal)
	if err != nil {
		return nil, err
	}

	s.afterLogin(ctx, principal)
	s.logger.Info("ログインに成功しました", slog.String("principal_id", principal.ID))

	return &LoginResult{Principal: principal, Tokens: tokens}, nil
}

// afterLogin はログイン成功を監査イベントとして記録する。
// ユーザーストアには書き込まない。記録に失敗してもログインは成功として扱う。
func (s *LoginService) afterLogin(ctx context.Context, p *Principal) {
	if s.events == nil {
		return
	}
	ev, err := event.Record(p.ID, event.LoginSucceededData{
		Email:    p.Email,
		Provider: "google",
	}, s.tokens.now())
	if err != nil {
		s.logger.Warn("監査イベントの生成に失敗しました", slog.String("error", err.Error()))
		return
	}
	if err := s.events.Append(ctx, ev); err != nil {
		s.logger.Warn("監査イベントの記録に失敗しました", slog.String("error", err.Error()))
	}
}
