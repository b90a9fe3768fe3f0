package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// headerRequestID はリクエストIDを伝播するHTTPヘッダーキー。
const headerRequestID = "X-Request-Id"

// RequestLogger はリクエストごとにアクセスログを出力するGinミドルウェアを返す。
// リクエストIDが無い場合は生成し、レスポンスヘッダーに設定する。
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(headerRequestID, requestID)

		c.Next()

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if p, ok := GetPrincipal(c); ok {
			fields = append(fields, zap.String("principal_id", p.ID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
			logger.Error("リクエスト処理中にエラーが発生しました", fields...)
			return
		}
		logger.Info("リクエストを処理しました", fields...)
	}
}
