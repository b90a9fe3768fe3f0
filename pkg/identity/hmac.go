package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL はHMACProviderが発行するトークンの既定の有効期間。
const DefaultTokenTTL = time.Hour

// tokenClaims はHMACProviderが発行するJWTのクレーム。
type tokenClaims struct {
	jwt.RegisteredClaims
	Email         string   `json:"email,omitempty"`
	EmailVerified bool     `json:"email_verified"`
	Roles         []string `json:"roles"`
}

// HMACConfig はHMACProviderの設定。
type HMACConfig struct {
	// Secret は署名鍵。
	Secret string
	// Issuer はissクレームに設定し、検証時に照合する値。
	Issuer string
	// TTL はトークンの有効期間。0の場合はDefaultTokenTTL。
	TTL time.Duration
	// Now は現在時刻を返す関数。nilの場合はtime.Now。
	Now func() time.Time
}

// HMACProvider はHS256で署名したトークンを発行・検証するローカルIDプロバイダ。
type HMACProvider struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewHMACProvider はHMACProviderを生成する。
func NewHMACProvider(cfg HMACConfig) (*HMACProvider, error) {
	if cfg.Secret == "" {
		return nil, errors.New("JWT署名鍵が空です")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &HMACProvider{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    cfg.Now,
	}, nil
}

// Issue はsubjectとclaimsからトークンを発行し、有効期限とともに返す。
func (p *HMACProvider) Issue(subject string, claims Claims) (string, time.Time, error) {
	now := p.now()
	expiresAt := now.Add(p.ttl)
	roles := claims.Roles
	if roles == nil {
		roles = []string{}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Roles:         roles,
	})
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyToken はトークンの署名・発行者・有効期限を検証する。
func (p *HMACProvider) VerifyToken(_ context.Context, tokenString string) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, err
	}
	if !token.Valid {
		return Principal{}, jwt.ErrTokenInvalidClaims
	}
	return principalFromClaims(claims)
}
