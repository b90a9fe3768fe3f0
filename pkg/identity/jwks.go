package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// JWKSConfig はJWKSProviderの設定。
type JWKSConfig struct {
	// URL はJWKSエンドポイント。
	URL string
	// Issuer が空でない場合、issクレームを照合する。
	Issuer string
	// Audience が空でない場合、audクレームに含まれることを確認する。
	Audience string
	// HTTPClient はJWKS取得に使うクライアント。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
}

// JWKSProvider は外部IDプロバイダが公開するJWKSの鍵でトークンを検証する。
type JWKSProvider struct {
	url      string
	issuer   string
	audience string
	cache    *jwk.Cache

	mu         sync.Mutex
	registered bool
}

// NewJWKSProvider はJWKSProviderを生成する。鍵の取得は最初の検証時に行う。
func NewJWKSProvider(ctx context.Context, cfg JWKSConfig) (*JWKSProvider, error) {
	if cfg.URL == "" {
		return nil, errors.New("JWKS URLが空です")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	cache, err := jwk.NewCache(ctx, httprc.NewClient(httprc.WithHTTPClient(httpClient)))
	if err != nil {
		return nil, fmt.Errorf("JWKSキャッシュの作成に失敗: %w", err)
	}
	return &JWKSProvider{
		url:      cfg.URL,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		cache:    cache,
	}, nil
}

// ensureRegistered はJWKS URLをキャッシュに登録する。失敗した場合は次回の検証で再試行する。
func (p *JWKSProvider) ensureRegistered(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.registered {
		return nil
	}
	registerCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.cache.Register(registerCtx, p.url); err != nil {
		return fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	p.registered = true
	return nil
}

// keyFor はトークンヘッダーのkidに対応する公開鍵を返す。
func (p *JWKSProvider) keyFor(ctx context.Context, token *jwt.Token) (any, error) {
	if err := p.ensureRegistered(ctx); err != nil {
		return nil, err
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, errors.New("token header missing kid")
	}
	set, err := p.cache.Lookup(ctx, p.url)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup JWKS: %w", err)
	}
	key, found := set.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("key ID %s not found in JWKS", kid)
	}

	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}
	return raw, nil
}

// VerifyToken はトークンの署名をJWKSの鍵で検証し、発行者と対象者を照合する。
func (p *JWKSProvider) VerifyToken(ctx context.Context, tokenString string) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithExpirationRequired(),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	if p.audience != "" {
		opts = append(opts, jwt.WithAudience(p.audience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return p.keyFor(ctx, t)
	}, opts...)
	if err != nil {
		return Principal{}, err
	}
	if !token.Valid {
		return Principal{}, jwt.ErrTokenInvalidClaims
	}
	return principalFromClaims(claims)
}
