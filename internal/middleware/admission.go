package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/resumebuilder/pkg/ratelimit"
)

// AdmissionChecker はクライアントキーごとにリクエストを受け付けるかどうかを判定する。
// ratelimit.SlidingWindowが実装する。
type AdmissionChecker interface {
	Allow(key string) ratelimit.Decision
	Window() time.Duration
}

// AdmissionRecorder は受付判定の結果を集計する。
type AdmissionRecorder interface {
	RecordAdmission(allowed bool)
}

// securityHeaders はすべてのレスポンスに付与するセキュリティ関連ヘッダー。
var securityHeaders = [...][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "1; mode=block"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"Content-Security-Policy", "default-src 'self'"},
}

// IsSecurityHeader はkeyがAdmissionの付与するセキュリティヘッダーかどうかを返す。
// プロキシが下流のレスポンスヘッダーで上書きしないために使う。
func IsSecurityHeader(key string) bool {
	key = http.CanonicalHeaderKey(key)
	for _, h := range securityHeaders {
		if h[0] == key {
			return true
		}
	}
	return false
}

func setSecurityHeaders(c *gin.Context) {
	for _, h := range securityHeaders {
		c.Header(h[0], h[1])
	}
}

// Admission はクライアントIPごとのレート制限を行うGinミドルウェアを返す。
// セキュリティヘッダーは判定より先に付与するため、429レスポンスにも含まれる。
// 上限を超えたリクエストには429を返す。ボディのretry_afterはウィンドウ幅固定で、
// Retry-After ヘッダーは最古の受付がウィンドウから外れるまでの秒数（切り上げ）になる。
func Admission(gate AdmissionChecker, rec AdmissionRecorder, logger *slog.Logger) gin.HandlerFunc {
	body := gin.H{
		"detail":      "Too many requests",
		"retry_after": strconv.Itoa(int(gate.Window().Seconds())) + " seconds",
	}

	return func(c *gin.Context) {
		setSecurityHeaders(c)

		clientIP := c.ClientIP()
		d := gate.Allow(clientIP)
		if rec != nil {
			rec.RecordAdmission(d.Allowed)
		}

		if !d.Allowed {
			logger.Warn("レート制限を超えました",
				slog.String("client_ip", clientIP),
				slog.String("path", c.Request.URL.Path),
			)
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, body)
			return
		}

		c.Next()
	}
}

// retryAfterSeconds は待ち時間を1以上の整数秒に切り上げる。
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
