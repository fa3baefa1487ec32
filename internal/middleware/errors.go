package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/resumebuilder/internal/auth"
)

// StatusFor はエラーの種類に対応するHTTPステータスコードを返す。
// ステータスコードの決定はこの関数だけで行う。
func StatusFor(kind auth.Kind) int {
	switch kind {
	case auth.KindAuthorizationDenied,
		auth.KindMissingAuthorizationCode,
		auth.KindIdentityIncomplete,
		auth.KindUpstreamRejected,
		auth.KindTokenMalformed,
		auth.KindTokenExpired,
		auth.KindTokenTypeMismatch,
		auth.KindPrincipalNotFound:
		return http.StatusUnauthorized
	case auth.KindUpstreamUnreachable:
		return http.StatusBadGateway
	case auth.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case auth.KindRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// AbortWithError はエラーを {"detail": "..."} 形式のレスポンスに変換して処理を中断する。
// 401の場合はWWW-Authenticateヘッダーも付与する。
func AbortWithError(c *gin.Context, err error) {
	kind, _ := auth.KindOf(err)
	status := StatusFor(kind)
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", "Bearer")
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": auth.DetailOf(err)})
}
