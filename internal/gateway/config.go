package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はゲートウェイの起動設定。環境変数から一度だけ読み込む。
type Config struct {
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURI  string `env:"GOOGLE_REDIRECT_URI" envDefault:"http://localhost:8000/api/v1/auth/callback"`

	// SecretKey はJWTの署名鍵。未設定の場合は起動しない。
	SecretKey                string `env:"SECRET_KEY,required,notEmpty"`
	AccessTokenExpireMinutes int    `env:"ACCESS_TOKEN_EXPIRE_MINUTES" envDefault:"30"`
	RefreshTokenExpireDays   int    `env:"REFRESH_TOKEN_EXPIRE_DAYS" envDefault:"7"`

	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`

	CORSOrigins    []string `env:"CORS_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	Port             string        `env:"PORT" envDefault:"8000"`
	DatabasePath     string        `env:"DATABASE_PATH" envDefault:"/data/gateway.db"`
	ResumeServiceURL string        `env:"RESUME_SERVICE_URL" envDefault:"http://localhost:8081"`
	OAuthTimeout     time.Duration `env:"OAUTH_TIMEOUT" envDefault:"10s"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadConfig は環境変数から設定を読み込み、値を検証する。
func LoadConfig() (Config, error) {
	return loadConfig(env.Options{})
}

// loadConfig はOptions.Environmentが指定されていればその値から読み込む。
func loadConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.AccessTokenExpireMinutes <= 0 {
		return errors.New("ACCESS_TOKEN_EXPIRE_MINUTES は正の値である必要があります")
	}
	if c.RefreshTokenExpireDays <= 0 {
		return errors.New("REFRESH_TOKEN_EXPIRE_DAYS は正の値である必要があります")
	}
	if c.RateLimitPerMinute <= 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE は正の値である必要があります")
	}
	return nil
}

// AccessTokenTTL はアクセストークンの有効期間を返す。
func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

// RefreshTokenTTL はリフレッシュトークンの有効期間を返す。
func (c Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenExpireDays) * 24 * time.Hour
}
