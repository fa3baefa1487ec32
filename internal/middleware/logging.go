package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestLogger はリクエストごとにJSON構造化ログを出力するGinミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、client_ipを含む。
// クエリ文字列やヘッダーはトークンを含み得るため出力しない。
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Float64("duration_ms", float64(time.Since(start).Nanoseconds())/float64(time.Millisecond)),
			slog.String("client_ip", c.ClientIP()),
		}
		if email := GetEmail(c); email != "" {
			attrs = append(attrs, slog.String("user", email))
		}

		logger.Log(c.Request.Context(), level, "http_request", attrs...)
	}
}
