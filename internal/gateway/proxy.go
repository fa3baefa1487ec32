package gateway

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/resumebuilder/internal/middleware"
)

// forwardedRequestHeaders は下流サービスへそのまま転送するリクエストヘッダー。
var forwardedRequestHeaders = []string{"Content-Type", "Authorization", "Accept"}

// hopByHopHeaders はプロキシが転送してはならないレスポンスヘッダー。
var hopByHopHeaders = map[string]struct{}{
	"Connection":        {},
	"Keep-Alive":        {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
	"Content-Length":    {},
}

// resumePrefix は転送先で許可するパスの接頭辞。
const resumePrefix = "/api/v1/resumes"

// resumePath はワイルドカード部分を正規化した転送先パスを返す。
// ドット区間の解決後に接頭辞の外へ出る場合はfalseを返す。
func resumePath(wildcard string) (string, bool) {
	joined := resumePrefix + wildcard
	cleaned := path.Clean(joined)
	if cleaned != resumePrefix && !strings.HasPrefix(cleaned, resumePrefix+"/") {
		return "", false
	}
	if strings.HasSuffix(joined, "/") {
		cleaned += "/"
	}
	return (&url.URL{Path: cleaned}).EscapedPath(), true
}

// handleResumeProxy は認証済みリクエストをレジュメサービスに転送するハンドラを返す。
// パスは /api/v1/resumes 以下に正規化し、クエリはそのまま引き継ぐ。
func (s *Server) handleResumeProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		target, ok := resumePath(c.Param("path"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": "Not found"})
			return
		}
		if c.Request.URL.RawQuery != "" {
			target += "?" + c.Request.URL.RawQuery
		}

		header := make(http.Header)
		for _, key := range forwardedRequestHeaders {
			if v := c.GetHeader(key); v != "" {
				header.Set(key, v)
			}
		}
		middleware.PropagateUser(c, header)

		resp, err := s.resume.Forward(c.Request.Context(), c.Request.Method, target, c.Request.Body, header)
		if err != nil {
			s.logger.Error("プロキシエラー",
				slog.String("method", c.Request.Method),
				slog.String("path", target),
				slog.String("error", err.Error()),
			)
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
				"detail": "Could not communicate with resume service",
			})
			return
		}
		defer resp.Body.Close()

		for key, values := range resp.Header {
			if _, skip := hopByHopHeaders[http.CanonicalHeaderKey(key)]; skip {
				continue
			}
			// セキュリティヘッダーはAdmissionが付与した値を優先する
			if middleware.IsSecurityHeader(key) {
				continue
			}
			for _, v := range values {
				c.Writer.Header().Add(key, v)
			}
		}
		c.Status(resp.StatusCode)
		if _, err := io.Copy(c.Writer, resp.Body); err != nil {
			s.logger.Warn("プロキシレスポンスの転送に失敗しました",
				slog.String("path", target),
				slog.String("error", err.Error()),
			)
		}
	}
}
