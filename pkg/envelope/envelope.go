// Package envelope はAPIレスポンスの共通エンベロープとエラー分類を提供する。
//
// 全ハンドラはResultを返し、Handleが唯一のレスポンス直列化を行う。
// 成功時はペイロードのみ、失敗時は {error, details?} の形になる。
package envelope

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind はエラーの分類を表す。
type Kind int

const (
	// KindInternal は外部サービスの予期しない失敗を表す。
	KindInternal Kind = iota
	// KindUnauthenticated は資格情報の欠落・不正・無効を表す。
	KindUnauthenticated
	// KindForbidden は認証済みだがロールが不足していることを表す。
	KindForbidden
	// KindValidationFailed はリクエストペイロードの検証失敗を表す。
	KindValidationFailed
	// KindNotFound は参照先リソースが存在しないことを表す。
	KindNotFound
	// KindPayloadTooLarge はリクエストボディが上限を超えたことを表す。
	KindPayloadTooLarge
	// KindRateLimited はクライアントがリクエスト数の上限を超えたことを表す。
	KindRateLimited
)

// Status はエラー分類に対応するHTTPステータスコードを返す。
func (k Kind) Status() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidationFailed:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// String はエラー分類名を返す。
func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "Unauthenticated"
	case KindForbidden:
		return "Forbidden"
	case KindValidationFailed:
		return "ValidationFailed"
	case KindNotFound:
		return "NotFound"
	case KindPayloadTooLarge:
		return "PayloadTooLarge"
	case KindRateLimited:
		return "RateLimited"
	default:
		return "Internal"
	}
}

// Error はクライアントに返すエラー記述。
type Error struct {
	// Kind はエラー分類。
	Kind Kind
	// Message は人が読めるエラーメッセージ。レスポンスの "error" になる。
	Message string
	// Details は任意の補足情報。レスポンスの "details" になる。
	Details any
	// Cause は原因となったエラー。ログにのみ出力する。
	Cause error
}

// Error はエラーメッセージを返す。
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *Error) Unwrap() error {
	return e.Cause
}

// Unauthenticated は401エラーを生成する。
func Unauthenticated(message string, details any) *Error {
	return &Error{Kind: KindUnauthenticated, Message: message, Details: details}
}

// Forbidden は403エラーを生成する。
func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

// ValidationFailed は400エラーを生成する。detailsにはフィールド別のエラー集合を渡す。
func ValidationFailed(details any) *Error {
	return &Error{Kind: KindValidationFailed, Message: "Validation failed", Details: details}
}

// NotFound は404エラーを生成する。
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// PayloadTooLarge はリクエストボディの上限超過エラーを生成する。
func PayloadTooLarge(message string, details any) *Error {
	return &Error{Kind: KindPayloadTooLarge, Message: message, Details: details}
}

// RateLimited はリクエスト数の上限超過エラーを生成する。
func RateLimited(message string) *Error {
	return &Error{Kind: KindRateLimited, Message: message}
}

// Internal は500エラーを生成する。原因のメッセージを診断用にdetailsへ渡す。
func Internal(message string, cause error) *Error {
	e := &Error{Kind: KindInternal, Message: message, Cause: cause}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// body は失敗時のレスポンスボディ。
type body struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// Result はハンドラの処理結果。成功ペイロードとエラーのどちらか一方だけを持つ。
type Result struct {
	status  int
	payload any
	err     *Error
}

// OK は200の成功結果を返す。
func OK(payload any) Result {
	return Result{status: http.StatusOK, payload: payload}
}

// Created は201の成功結果を返す。
func Created(payload any) Result {
	return Result{status: http.StatusCreated, payload: payload}
}

// Fail は失敗結果を返す。*Error以外のエラーはInternalとして扱う。
func Fail(err error) Result {
	return Result{err: From(err)}
}

// Err は結果に含まれるエラーを返す。成功時はnil。
func (r Result) Err() *Error {
	return r.err
}

// Status は結果のHTTPステータスコードを返す。
func (r Result) Status() int {
	if r.err != nil {
		return r.err.Kind.Status()
	}
	return r.status
}

// From は任意のエラーを*Errorに変換する。
func From(err error) *Error {
	if err == nil {
		return Internal("Internal server error", errors.New("unknown error"))
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("Internal server error", err)
}

// Render は結果をレスポンスとして書き出す。
func Render(c *gin.Context, r Result) {
	if r.err == nil {
		c.JSON(r.status, r.payload)
		return
	}
	if r.err.Kind == KindInternal {
		_ = c.Error(r.err)
	}
	c.JSON(r.err.Kind.Status(), body{Error: r.err.Message, Details: r.err.Details})
}

// Abort はエラーエンベロープを書き出し、後続のハンドラを中断する。
// ミドルウェアから使用する。
func Abort(c *gin.Context, err error) {
	e := From(err)
	if e.Kind == KindInternal {
		_ = c.Error(e)
	}
	c.AbortWithStatusJSON(e.Kind.Status(), body{Error: e.Message, Details: e.Details})
}

// Handle はResultを返す関数をGinハンドラに変換する。
func Handle(fn func(c *gin.Context) Result) gin.HandlerFunc {
	return func(c *gin.Context) {
		Render(c, fn(c))
	}
}
