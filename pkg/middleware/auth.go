package middleware

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/starterkit/pkg/envelope"
	"github.com/nao1215/starterkit/pkg/identity"
)

// principalKey はGinコンテキストにPrincipalを格納するキー。
const principalKey = "principal"

// CredentialVerifier はAuthorizationヘッダーを検証してPrincipalを返す。
type CredentialVerifier interface {
	Verify(ctx context.Context, authorization string) (identity.Principal, error)
}

// RequireAuth はBearerトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合はPrincipalをコンテキストに設定し、失敗した場合は401で中断する。
func RequireAuth(verifier CredentialVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := verifier.Verify(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			envelope.Abort(c, authFailure(err))
			return
		}

		c.Set(principalKey, p)
		c.Next()
	}
}

// RequireRole はPrincipalが許可ロールのいずれかを持つことを要求するGinミドルウェアを返す。
// RequireAuthの後に適用する。
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok {
			envelope.Abort(c, envelope.Unauthenticated("Unauthorized - User not authenticated", nil))
			return
		}
		if err := identity.RequireRole(p, roles); err != nil {
			envelope.Abort(c, envelope.Forbidden("Forbidden - Insufficient permissions"))
			return
		}
		c.Next()
	}
}

// GetPrincipal はGinコンテキストから検証済みのPrincipalを取得する。
func GetPrincipal(c *gin.Context) (identity.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return identity.Principal{}, false
	}
	p, ok := v.(identity.Principal)
	return p, ok
}

// authFailure は検証エラーを401のエンベロープに変換する。
func authFailure(err error) *envelope.Error {
	var authErr *identity.AuthError
	if errors.As(err, &authErr) && authErr.Reason == identity.ReasonInvalidToken {
		return envelope.Unauthenticated("Unauthorized - Invalid token", authErr.Detail())
	}
	if errors.As(err, &authErr) {
		return envelope.Unauthenticated("Unauthorized - Missing or invalid token format", nil)
	}
	return envelope.Unauthenticated("Unauthorized - Invalid token", err.Error())
}
