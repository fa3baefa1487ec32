package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/resumebuilder/internal/auth"
)

// contextKeyPrincipal は認証済みユーザーを格納するGinコンテキストのキー。
const contextKeyPrincipal = "principal"

// headerKeyUserEmail は下流サービスへ認証済みユーザーのメールアドレスを伝播するHTTPヘッダーキー。
const headerKeyUserEmail = "X-User-Email"

// AccessVerifier はアクセストークンを検証する。auth.TokenServiceが実装する。
type AccessVerifier interface {
	Verify(tokenString string, expected auth.TokenType) (*auth.Claims, error)
}

// VerificationRecorder はトークン検証の結果を集計する。
type VerificationRecorder interface {
	RecordTokenVerification(result string)
}

// BearerAuth はAuthorizationヘッダーのBearerトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、subjectのユーザーを解決してコンテキストに設定する。
// 失敗した場合は401と {"detail": "..."} を返す。
func BearerAuth(verifier AccessVerifier, finder auth.PrincipalFinder, rec VerificationRecorder) gin.HandlerFunc {
	record := func(result string) {
		if rec != nil {
			rec.RecordTokenVerification(result)
		}
	}

	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			record("missing")
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"detail": "Not authenticated",
			})
			return
		}

		claims, err := verifier.Verify(tokenString, auth.TokenTypeAccess)
		if err != nil {
			kind, _ := auth.KindOf(err)
			record(kind.String())
			AbortWithError(c, err)
			return
		}

		p, err := finder.FindByEmail(c.Request.Context(), claims.Subject)
		if err == nil && !p.Active {
			err = auth.NotFound(claims.Subject)
		}
		if err != nil {
			kind, _ := auth.KindOf(err)
			record(kind.String())
			AbortWithError(c, err)
			return
		}

		record("success")
		c.Set(contextKeyPrincipal, p)
		c.Next()
	}
}

// bearerToken はAuthorizationヘッダーからトークン部分を取り出す。
// スキーム名の大文字小文字は区別しない。
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// GetPrincipal はGinコンテキストから認証済みユーザーを取得する。
// BearerAuthミドルウェアが事前に適用されている必要がある。
func GetPrincipal(c *gin.Context) *auth.Principal {
	v, _ := c.Get(contextKeyPrincipal)
	if p, ok := v.(*auth.Principal); ok {
		return p
	}
	return nil
}

// GetEmail はGinコンテキストから認証済みユーザーのメールアドレスを取得する。
func GetEmail(c *gin.Context) string {
	if p := GetPrincipal(c); p != nil {
		return p.Email
	}
	return ""
}

// PropagateUser は認証済みユーザーのメールアドレスを下流へのリクエストヘッダーに設定する。
// クライアントが送ってきた同名ヘッダーは上書きする。
func PropagateUser(c *gin.Context, header http.Header) {
	header.Del(headerKeyUserEmail)
	if email := GetEmail(c); email != "" {
		header.Set(headerKeyUserEmail, email)
	}
}
