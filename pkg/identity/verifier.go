package identity

import (
	"context"
	"errors"
	"strings"
)

// Reason は認証失敗の理由を表す。
type Reason int

const (
	// ReasonMissingOrMalformed はAuthorizationヘッダーが無いか形式が不正であることを表す。
	ReasonMissingOrMalformed Reason = iota
	// ReasonInvalidToken はIDプロバイダがトークンを拒否したことを表す。
	ReasonInvalidToken
)

// AuthError は資格情報の検証失敗を表す。
type AuthError struct {
	// Reason は失敗の理由。
	Reason Reason
	// Err はIDプロバイダが返した拒否理由。
	Err error
}

// Error はエラーメッセージを返す。
func (e *AuthError) Error() string {
	switch e.Reason {
	case ReasonMissingOrMalformed:
		return "missing or malformed bearer token"
	default:
		if e.Err != nil {
			return "invalid token: " + e.Err.Error()
		}
		return "invalid token"
	}
}

// Unwrap はIDプロバイダの拒否理由を返す。
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Detail はクライアントに返す拒否理由を返す。
func (e *AuthError) Detail() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// ErrMissingOrMalformed はBearerトークンが取り出せない場合に返される。
var ErrMissingOrMalformed = &AuthError{Reason: ReasonMissingOrMalformed}

// Provider は外部IDプロバイダの検証機能。
type Provider interface {
	// VerifyToken はトークンを検証し、Principalを返す。
	VerifyToken(ctx context.Context, token string) (Principal, error)
}

// Verifier はAuthorizationヘッダーを検証してPrincipalを生成する。
type Verifier struct {
	provider Provider
}

// NewVerifier はProviderに検証を委譲するVerifierを生成する。
func NewVerifier(provider Provider) *Verifier {
	return &Verifier{provider: provider}
}

// Verify はAuthorizationヘッダーの値を検証する。
// 形式が不正な場合はIDプロバイダを呼び出さずにReasonMissingOrMalformedで失敗する。
func (v *Verifier) Verify(ctx context.Context, authorization string) (Principal, error) {
	token, err := ParseBearer(authorization)
	if err != nil {
		return Principal{}, err
	}

	p, err := v.provider.VerifyToken(ctx, token)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return Principal{}, authErr
		}
		return Principal{}, &AuthError{Reason: ReasonInvalidToken, Err: err}
	}
	return p, nil
}

// ParseBearer は "Bearer <token>" 形式のヘッダーからトークンを取り出す。
func ParseBearer(authorization string) (string, error) {
	token, found := strings.CutPrefix(authorization, "Bearer ")
	if !found || strings.TrimSpace(token) == "" {
		return "", ErrMissingOrMalformed
	}
	return strings.TrimSpace(token), nil
}
