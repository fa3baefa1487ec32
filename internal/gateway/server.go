package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/resumebuilder/internal/audit"
	"github.com/nao1215/resumebuilder/internal/auth"
	"github.com/nao1215/resumebuilder/internal/database"
	"github.com/nao1215/resumebuilder/internal/identity"
	"github.com/nao1215/resumebuilder/pkg/event"
	"github.com/nao1215/resumebuilder/pkg/httpclient"
	"github.com/nao1215/resumebuilder/pkg/metrics"
	"github.com/nao1215/resumebuilder/internal/middleware"
	"github.com/nao1215/resumebuilder/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 10 * time.Second

// Server はゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sql.DB

	tokens   *auth.TokenService
	login    *auth.LoginService
	identity *identity.Store
	audit    *audit.Store
	gate     *ratelimit.SlidingWindow
	metrics  *metrics.Collector
	registry *prometheus.Registry
	resume   *httpclient.Client
	logger   *slog.Logger
	now      func() time.Time
}

// serverOptions はNewServerのオプション。主にテストでの差し替えに使う。
type serverOptions struct {
	now         func() time.Time
	authURL     string
	tokenURL    string
	userInfoURL string
}

// Option はNewServerのオプション。
type Option func(*serverOptions)

// WithClock はトークン発行、ユーザー作成、監査イベント、レート制限に使う時刻関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(o *serverOptions) { o.now = now }
}

// WithGoogleEndpoints はGoogleの認可、トークン、ユーザー情報のURLを差し替える。
func WithGoogleEndpoints(authURL, tokenURL, userInfoURL string) Option {
	return func(o *serverOptions) {
		o.authURL = authURL
		o.tokenURL = tokenURL
		o.userInfoURL = userInfoURL
	}
}

// NewServer は新しいGatewayサーバーを生成する。
// データベースへの接続とマイグレーションもここで行う。
func NewServer(ctx context.Context, cfg Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	o := serverOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := database.Open(ctx, database.DSN(cfg.DatabasePath))
	if err != nil {
		return nil, err
	}

	s, err := newServer(cfg, db, logger, o)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func newServer(cfg Config, db *sql.DB, logger *slog.Logger, o serverOptions) (*Server, error) {
	identityStore := identity.NewStore(db, identity.WithClock(o.now))
	auditStore := audit.NewStore(db)

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:     cfg.SecretKey,
		AccessTTL:  cfg.AccessTokenTTL(),
		RefreshTTL: cfg.RefreshTokenTTL(),
	}, auth.WithClock(o.now), auth.WithPrincipalFinder(identityStore))
	if err != nil {
		return nil, fmt.Errorf("Token Serviceの初期化に失敗: %w", err)
	}

	provider, err := auth.NewGoogleProvider(auth.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURI,
		Timeout:      cfg.OAuthTimeout,
		AuthURL:      o.authURL,
		TokenURL:     o.tokenURL,
		UserInfoURL:  o.userInfoURL,
	})
	if err != nil {
		return nil, fmt.Errorf("Googleプロバイダーの初期化に失敗: %w", err)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	gate := ratelimit.New(cfg.RateLimitPerMinute, time.Minute, ratelimit.WithClock(o.now))
	collector.WatchAdmissionWindows(gate.Len)

	login := auth.NewLoginService(provider, identityStore, tokens, logger,
		auth.WithEventRecorder(auditStore),
		auth.WithLoginMetrics(collector),
	)

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("信頼するプロキシの設定に失敗: %w", err)
	}
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(cfg.CORSOrigins))
	router.Use(middleware.Admission(gate, collector, logger))
	router.Use(middleware.Preflight())

	s := &Server{
		router:   router,
		port:     cfg.Port,
		db:       db,
		tokens:   tokens,
		login:    login,
		identity: identityStore,
		audit:    auditStore,
		gate:     gate,
		metrics:  collector,
		registry: registry,
		resume:   httpclient.New(cfg.ResumeServiceURL),
		logger:   logger,
		now:      o.now,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はルーティング済みのHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルに停止する。
// レート制限の掃除ループもctxの終了まで動かす。
func (s *Server) Run(ctx context.Context) error {
	go s.gate.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Gatewayサービスを起動します", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Gatewayサービスを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}

// Close はデータベース接続を閉じる。
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	bearer := middleware.BearerAuth(s.tokens, s.identity, s.metrics)

	// 認証エンドポイント
	authGroup := s.router.Group("/api/v1/auth")
	{
		authGroup.GET("/login/google", s.handleGoogleLogin())
		authGroup.GET("/callback", s.handleCallback())
		authGroup.POST("/refresh-token", s.handleRefreshToken())
		authGroup.GET("/verify-token", bearer, s.handleVerifyToken())
	}

	// 認証必須のAPIエンドポイント
	api := s.router.Group("/api/v1")
	api.Use(bearer)
	{
		api.GET("/me", s.handleGetCurrentUser())
		api.GET("/me/events", s.handleGetAuthEvents())
		api.Any("/resumes/*path", s.handleResumeProxy())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
	s.router.GET("/metrics", gin.WrapH(metrics.Handler(s.registry)))
}

// handleGoogleLogin はGoogleの認可URLを返すハンドラを返す。
func (s *Server) handleGoogleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"auth_url": s.login.BeginLogin()})
	}
}

// handleCallback はOAuth2コールバックを処理し、トークンペアを返すハンドラを返す。
func (s *Server) handleCallback() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := s.login.CompleteLogin(c.Request.Context(), c.Query("code"), c.Query("error"))
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"access_token":  result.Tokens.AccessToken,
			"refresh_token": result.Tokens.RefreshToken,
			"token_type":    "bearer",
			"user":          profile(result.Principal),
		})
	}
}

// refreshRequest はリフレッシュトークンのJSONリクエストボディ。
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// handleRefreshToken はリフレッシュトークンから新しいトークンペアを発行するハンドラを返す。
// refresh_tokenはクエリ、フォーム、JSONボディのいずれかで受け取る。
func (s *Server) handleRefreshToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := refreshTokenFrom(c)
		if token == "" {
			middleware.AbortWithError(c, auth.ErrTokenMalformed)
			return
		}

		pair, p, err := s.tokens.Refresh(c.Request.Context(), token)
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		s.recordRefresh(c.Request.Context(), p)

		c.JSON(http.StatusOK, gin.H{
			"access_token":  pair.AccessToken,
			"refresh_token": pair.RefreshToken,
			"token_type":    "bearer",
		})
	}
}

func refreshTokenFrom(c *gin.Context) string {
	if token := c.Query("refresh_token"); token != "" {
		return token
	}
	if token := c.PostForm("refresh_token"); token != "" {
		return token
	}
	if c.ContentType() == gin.MIMEJSON {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err == nil {
			return req.RefreshToken
		}
	}
	return ""
}

// recordRefresh はTokensRefreshedイベントを記録する。失敗はログに残すだけ。
func (s *Server) recordRefresh(ctx context.Context, p *auth.Principal) {
	ev, err := event.Record(p.ID, event.TokensRefreshedData{Email: p.Email}, s.now())
	if err == nil {
		err = s.audit.Append(ctx, ev)
	}
	if err != nil {
		s.logger.Warn("トークン更新イベントの記録に失敗しました",
			slog.String("principal_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}

// handleVerifyToken はアクセストークンの持ち主のプロフィールを返すハンドラを返す。
func (s *Server) handleVerifyToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, profile(middleware.GetPrincipal(c)))
	}
}

// handleGetCurrentUser は認証済みユーザーの情報を返すハンドラを返す。
func (s *Server) handleGetCurrentUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := middleware.GetPrincipal(c)
		c.JSON(http.StatusOK, gin.H{
			"id":         p.ID,
			"email":      p.Email,
			"full_name":  p.DisplayName,
			"picture":    p.AvatarURI,
			"created_at": p.CreatedAt,
		})
	}
}

// handleGetAuthEvents は認証済みユーザー自身の認証イベント履歴を古い順に返すハンドラを返す。
func (s *Server) handleGetAuthEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := middleware.GetPrincipal(c)
		events, err := s.audit.ListByAggregate(c.Request.Context(), p.ID)
		if err != nil {
			s.logger.Error("認証イベントの取得に失敗しました",
				slog.String("principal_id", p.ID),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
			return
		}
		if events == nil {
			events = []event.Event{}
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}

// profile はクライアントに返すユーザー情報。内部IDは含めない。
func profile(p *auth.Principal) gin.H {
	return gin.H{
		"email":     p.Email,
		"full_name": p.DisplayName,
		"picture":   p.AvatarURI,
	}
}
