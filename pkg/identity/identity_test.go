package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

// fakeProvider は呼び出し回数を記録するテスト用Provider。
type fakeProvider struct {
	calls int
	p     Principal
	err   error
}

func (f *fakeProvider) VerifyToken(_ context.Context, _ string) (Principal, error) {
	f.calls++
	return f.p, f.err
}

func newTestHMAC(t *testing.T, now func() time.Time) *HMACProvider {
	t.Helper()
	p, err := NewHMACProvider(HMACConfig{Secret: testSecret, Issuer: "starterkit-api", TTL: time.Hour, Now: now})
	if err != nil {
		t.Fatalf("HMACProviderの生成に失敗: %v", err)
	}
	return p
}

// TestParseBearer はBearerトークンの取り出しを検証する。
func TestParseBearer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "正常なヘッダー", header: "Bearer abc.def", want: "abc.def"},
		{name: "ヘッダーなし", header: "", wantErr: true},
		{name: "Bearer以外のスキーム", header: "Basic dXNlcjpwYXNz", wantErr: true},
		{name: "トークンが空", header: "Bearer ", wantErr: true},
		{name: "トークンが空白のみ", header: "Bearer    ", wantErr: true},
		{name: "小文字のbearer", header: "bearer abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseBearer(tt.header)
			if tt.wantErr {
				if !errors.Is(err, ErrMissingOrMalformed) {
					t.Errorf("err = %v, want ErrMissingOrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("エラーが発生: %v", err)
			}
			if got != tt.want {
				t.Errorf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestVerifier はVerifierの委譲とエラー分類を検証する。
func TestVerifier(t *testing.T) {
	t.Parallel()

	t.Run("形式が不正な場合はプロバイダを呼び出さないこと", func(t *testing.T) {
		t.Parallel()

		fake := &fakeProvider{}
		v := NewVerifier(fake)
		for _, header := range []string{"", "Token x", "Bearer "} {
			_, err := v.Verify(context.Background(), header)
			var authErr *AuthError
			if !errors.As(err, &authErr) || authErr.Reason != ReasonMissingOrMalformed {
				t.Errorf("header %q: err = %v, want ReasonMissingOrMalformed", header, err)
			}
		}
		if fake.calls != 0 {
			t.Errorf("プロバイダ呼び出し回数 = %d, want 0", fake.calls)
		}
	})

	t.Run("プロバイダの拒否理由がInvalidTokenとして返ること", func(t *testing.T) {
		t.Parallel()

		fake := &fakeProvider{err: errors.New("token is expired")}
		_, err := NewVerifier(fake).Verify(context.Background(), "Bearer x")
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("err = %v, want *AuthError", err)
		}
		if authErr.Reason != ReasonInvalidToken {
			t.Errorf("Reason = %v, want ReasonInvalidToken", authErr.Reason)
		}
		if authErr.Detail() != "token is expired" {
			t.Errorf("Detail = %q, want %q", authErr.Detail(), "token is expired")
		}
		if fake.calls != 1 {
			t.Errorf("プロバイダ呼び出し回数 = %d, want 1", fake.calls)
		}
	})

	t.Run("成功時はPrincipalが返ること", func(t *testing.T) {
		t.Parallel()

		fake := &fakeProvider{p: Principal{ID: "u1"}}
		got, err := NewVerifier(fake).Verify(context.Background(), "Bearer x")
		if err != nil {
			t.Fatalf("エラーが発生: %v", err)
		}
		if got.ID != "u1" {
			t.Errorf("ID = %q, want u1", got.ID)
		}
	})
}

// TestHMACProvider はローカルトークンの発行と検証を検証する。
func TestHMACProvider(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("発行したトークンが検証できること", func(t *testing.T) {
		t.Parallel()

		p := newTestHMAC(t, clock)
		token, expiresAt, err := p.Issue("user-1", Claims{Email: "a@example.com", Roles: []string{"admin"}})
		if err != nil {
			t.Fatalf("トークン発行に失敗: %v", err)
		}
		if !expiresAt.Equal(now.Add(time.Hour)) {
			t.Errorf("expiresAt = %v, want %v", expiresAt, now.Add(time.Hour))
		}

		got, err := p.VerifyToken(context.Background(), token)
		if err != nil {
			t.Fatalf("トークン検証に失敗: %v", err)
		}
		if got.ID != "user-1" || got.Claims.Email != "a@example.com" {
			t.Errorf("Principal = %+v", got)
		}
		if !got.HasAnyRole([]string{"admin"}) {
			t.Error("adminロールが付与されていない")
		}
	})

	t.Run("期限切れのトークンが拒否されること", func(t *testing.T) {
		t.Parallel()

		issuer := newTestHMAC(t, clock)
		token, _, err := issuer.Issue("user-1", Claims{})
		if err != nil {
			t.Fatalf("トークン発行に失敗: %v", err)
		}
		later := newTestHMAC(t, func() time.Time { return now.Add(2 * time.Hour) })
		if _, err := later.VerifyToken(context.Background(), token); !errors.Is(err, jwt.ErrTokenExpired) {
			t.Errorf("err = %v, want ErrTokenExpired", err)
		}
	})

	t.Run("異なる署名鍵のトークンが拒否されること", func(t *testing.T) {
		t.Parallel()

		other, err := NewHMACProvider(HMACConfig{Secret: "other", Issuer: "starterkit-api", Now: clock})
		if err != nil {
			t.Fatalf("HMACProviderの生成に失敗: %v", err)
		}
		token, _, err := other.Issue("user-1", Claims{})
		if err != nil {
			t.Fatalf("トークン発行に失敗: %v", err)
		}
		if _, err := newTestHMAC(t, clock).VerifyToken(context.Background(), token); !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			t.Errorf("err = %v, want ErrTokenSignatureInvalid", err)
		}
	})

	t.Run("発行者が異なるトークンが拒否されること", func(t *testing.T) {
		t.Parallel()

		other, err := NewHMACProvider(HMACConfig{Secret: testSecret, Issuer: "someone-else", Now: clock})
		if err != nil {
			t.Fatalf("HMACProviderの生成に失敗: %v", err)
		}
		token, _, err := other.Issue("user-1", Claims{})
		if err != nil {
			t.Fatalf("トークン発行に失敗: %v", err)
		}
		if _, err := newTestHMAC(t, clock).VerifyToken(context.Background(), token); !errors.Is(err, jwt.ErrTokenInvalidIssuer) {
			t.Errorf("err = %v, want ErrTokenInvalidIssuer", err)
		}
	})

	t.Run("rolesが文字列配列でないトークンが拒否されること", func(t *testing.T) {
		t.Parallel()

		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":   "user-1",
			"iss":   "starterkit-api",
			"exp":   now.Add(time.Hour).Unix(),
			"roles": "admin",
		})
		signed, err := token.SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("署名に失敗: %v", err)
		}
		if _, err := newTestHMAC(t, clock).VerifyToken(context.Background(), signed); err == nil {
			t.Error("エラーが発生しなかった")
		}
	})

	t.Run("subの無いトークンが拒否されること", func(t *testing.T) {
		t.Parallel()

		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iss": "starterkit-api",
			"exp": now.Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("署名に失敗: %v", err)
		}
		if _, err := newTestHMAC(t, clock).VerifyToken(context.Background(), signed); err == nil {
			t.Error("エラーが発生しなかった")
		}
	})

	t.Run("空の署名鍵ではプロバイダを生成できないこと", func(t *testing.T) {
		t.Parallel()

		if _, err := NewHMACProvider(HMACConfig{}); err == nil {
			t.Error("エラーが発生しなかった")
		}
	})
}

// TestRequireRole はロールの集合判定を検証する。
func TestRequireRole(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		roles   []string
		allowed []string
		wantErr bool
	}{
		{name: "共通ロールあり", roles: []string{"editor", "admin"}, allowed: []string{"admin"}},
		{name: "共通ロールなし", roles: []string{"editor"}, allowed: []string{"admin"}, wantErr: true},
		{name: "ロールなしは空集合", roles: nil, allowed: []string{"admin"}, wantErr: true},
		{name: "許可ロールが空", roles: []string{"admin"}, allowed: nil, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := RequireRole(Principal{ID: "u", Claims: Claims{Roles: tt.roles}}, tt.allowed)
			if tt.wantErr != errors.Is(err, ErrForbidden) {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
