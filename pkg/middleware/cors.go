package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
)

const (
	corsAllowMethods   = "GET, POST, PUT, DELETE, PATCH, OPTIONS"
	corsAllowHeaders   = "Content-Type, Authorization"
	corsExposeHeaders  = "Content-Length, X-Request-Id"
	corsPreflightCache = "600"
)

// CORS は指定されたオリジンからのクロスオリジンリクエストを許可するGinミドルウェアを返す。
// "*" を含む場合は任意のオリジンを許可する。認証情報付きのため、オリジンは常にそのまま返す。
// 許可されたオリジンからのプリフライトには204を返し、後続のハンドラーは実行しない。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowAny := slices.Contains(allowedOrigins, "*")
	allowed := func(origin string) bool {
		if origin == "" {
			return false
		}
		return allowAny || slices.Contains(allowedOrigins, origin)
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if !allowed(origin) {
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
		h.Add("Vary", "Origin")

		if c.Request.Method != http.MethodOptions || c.GetHeader("Access-Control-Request-Method") == "" {
			c.Next()
			return
		}

		headers := c.GetHeader("Access-Control-Request-Headers")
		if headers == "" {
			headers = corsAllowHeaders
		}
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		h.Set("Access-Control-Allow-Headers", headers)
		h.Set("Access-Control-Max-Age", corsPreflightCache)
		c.AbortWithStatus(http.StatusNoContent)
	}
}
