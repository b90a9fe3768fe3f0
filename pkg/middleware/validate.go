package middleware

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/starterkit/pkg/envelope"
	"github.com/nao1215/starterkit/pkg/validation"
)

// payloadKey はGinコンテキストに検証済みペイロードを格納するキー。
const payloadKey = "payload"

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 1 << 20

// ValidateJSON はリクエストボディをTとして検証するGinミドルウェアを返す。
// 検証に失敗した場合は全フィールドのエラーを含む400で中断する。
func ValidateJSON[T any]() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			envelope.Abort(c, envelope.PayloadTooLarge("Payload too large", validation.FieldErrors{
				validation.BodyField: {fmt.Sprintf("Request body must not exceed %d bytes", tooLarge.Limit)},
			}))
			return
		}
		if err != nil {
			envelope.Abort(c, envelope.ValidationFailed(validation.FieldErrors{
				validation.BodyField: {"Failed to read request body"},
			}))
			return
		}

		payload := new(T)
		if errs := validation.Decode(body, payload); errs != nil {
			envelope.Abort(c, envelope.ValidationFailed(errs))
			return
		}

		c.Set(payloadKey, payload)
		c.Next()
	}
}

// Payload はValidateJSONが設定した検証済みペイロードを取得する。
// ValidateJSON[T]が事前に適用されていない場合はfalseを返す。
func Payload[T any](c *gin.Context) (*T, bool) {
	v, ok := c.Get(payloadKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*T)
	return p, ok
}
