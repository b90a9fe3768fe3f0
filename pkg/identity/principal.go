package identity

import (
	"errors"
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// ErrForbidden は認証済みのPrincipalが必要なロールを持たないことを表す。
var ErrForbidden = errors.New("insufficient permissions")

// Claims は検証済みトークンから取り出したクレーム。
// 検証時に一度だけ型が確定し、以降のロールチェックはこの構造体のみを参照する。
type Claims struct {
	// Email はユーザーのメールアドレス。
	Email string `json:"email,omitempty"`
	// EmailVerified はメールアドレスが確認済みかどうか。
	EmailVerified bool `json:"email_verified,omitempty"`
	// Roles はユーザーに付与されたロール。クレームが無い場合は空集合。
	Roles []string `json:"roles,omitempty"`
}

// Principal は検証済みの呼び出し元。リクエストの間だけ存在し、永続化されない。
type Principal struct {
	// ID はIDプロバイダ上のユーザー識別子 (sub)。
	ID string
	// Claims は検証済みのクレーム。
	Claims Claims
}

// HasAnyRole はallowedのいずれかのロールを持つかどうかを返す。
func (p Principal) HasAnyRole(allowed []string) bool {
	for _, role := range p.Claims.Roles {
		if slices.Contains(allowed, role) {
			return true
		}
	}
	return false
}

// RequireRole はPrincipalのロールとallowedに共通部分が無い場合にErrForbiddenを返す。
func RequireRole(p Principal, allowed []string) error {
	if !p.HasAnyRole(allowed) {
		return ErrForbidden
	}
	return nil
}

// principalFromClaims はJWTクレームからPrincipalを組み立てる。
// subが無い場合とrolesが文字列配列でない場合はエラーを返す。
func principalFromClaims(claims jwt.MapClaims) (Principal, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Principal{}, errors.New("token has no subject")
	}

	p := Principal{ID: sub}
	if v, ok := claims["email"]; ok {
		email, ok := v.(string)
		if !ok {
			return Principal{}, errors.New("email claim must be a string")
		}
		p.Claims.Email = email
	}
	if v, ok := claims["email_verified"]; ok {
		verified, ok := v.(bool)
		if !ok {
			return Principal{}, errors.New("email_verified claim must be a boolean")
		}
		p.Claims.EmailVerified = verified
	}
	if v, ok := claims["roles"]; ok {
		list, ok := v.([]any)
		if !ok {
			return Principal{}, errors.New("roles claim must be an array of strings")
		}
		roles := make([]string, 0, len(list))
		for i, item := range list {
			role, ok := item.(string)
			if !ok {
				return Principal{}, fmt.Errorf("roles[%d] must be a string", i)
			}
			roles = append(roles, role)
		}
		p.Claims.Roles = roles
	}
	return p, nil
}
