package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"github.com/nao1215/starterkit/internal/config"
	"github.com/nao1215/starterkit/internal/docstore"
	"github.com/nao1215/starterkit/internal/objectstore"
	"github.com/nao1215/starterkit/internal/userstore"
	"github.com/nao1215/starterkit/pkg/identity"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testNow はテスト中のサーバー時刻。
var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testClock() time.Time {
	return testNow
}

// fakeObjects はメモリ上で動作するテスト用のオブジェクトストア。
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string]objectstore.Object
	// calls は呼び出された操作名の履歴。
	calls []string
	// ttls は署名付きURLの発行時に指定された有効期間。
	ttls map[string]time.Duration
	// err が設定されている場合、全ての操作がこのエラーを返す。
	err error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string]objectstore.Object{}, ttls: map[string]time.Duration{}}
}

func (f *fakeObjects) record(op string) error {
	f.calls = append(f.calls, op)
	return f.err
}

func (f *fakeObjects) put(key, contentType string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = objectstore.Object{Key: key, ContentType: contentType, Size: size, CreatedAt: testNow, UpdatedAt: testNow}
}

func (f *fakeObjects) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeObjects) PresignUpload(_ context.Context, key, contentType string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("PresignUpload"); err != nil {
		return "", err
	}
	f.ttls["PUT "+key] = ttl
	return "https://signed.example.com/put/" + key + "?type=" + contentType, nil
}

func (f *fakeObjects) PresignDownload(_ context.Context, key string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("PresignDownload"); err != nil {
		return "", err
	}
	f.ttls["GET "+key] = ttl
	return "https://signed.example.com/get/" + key, nil
}

func (f *fakeObjects) List(_ context.Context, prefix string) ([]objectstore.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("List"); err != nil {
		return nil, err
	}
	var out []objectstore.Object
	for k, o := range f.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *fakeObjects) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Exists"); err != nil {
		return false, err
	}
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Delete"); err != nil {
		return err
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeObjects) PublicURL(key string) string {
	return "https://public.example.com/bucket/" + key
}

// testEnv はテスト用に組み立てたサーバーと依存サービス。
type testEnv struct {
	handler  http.Handler
	users    *userstore.Store
	docs     docstore.Store
	objects  *fakeObjects
	provider *identity.HMACProvider
}

// newTestEnv はインメモリSQLiteとフェイクのオブジェクトストアでサーバーを構築する。
func newTestEnv(t *testing.T, opts ...func(*config.Config, *Deps)) *testEnv {
	t.Helper()

	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	users, err := userstore.Open(ctx, db, userstore.Options{Now: testClock})
	if err != nil {
		t.Fatalf("ユーザーストアの生成に失敗: %v", err)
	}
	docs, err := docstore.NewSQLite(ctx, db, testClock, nil)
	if err != nil {
		t.Fatalf("ドキュメントストアの生成に失敗: %v", err)
	}
	provider, err := identity.NewHMACProvider(identity.HMACConfig{
		Secret: "test-secret",
		Issuer: "starterkit-test",
		Now:    testClock,
	})
	if err != nil {
		t.Fatalf("プロバイダの生成に失敗: %v", err)
	}

	cfg := config.Config{
		Port:           "3001",
		Host:           "127.0.0.1",
		Env:            "test",
		AllowedOrigins: []string{"http://localhost:3000"},
		AdminRoles:     []string{userstore.AdminRole},
	}
	objects := newFakeObjects()
	deps := Deps{
		Users:    users,
		Docs:     docs,
		Objects:  objects,
		Verifier: identity.NewVerifier(provider),
		Issuer:   provider,
		Now:      testClock,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	deps.Config = cfg

	return &testEnv{
		handler:  NewServer(deps).Handler(),
		users:    users,
		docs:     docs,
		objects:  objects,
		provider: provider,
	}
}

// createUser はIDディレクトリにユーザーを直接作成する。
func (e *testEnv) createUser(t *testing.T, email string) userstore.User {
	t.Helper()

	u, err := e.users.Create(context.Background(), userstore.NewUser{Email: email, Password: "password123"})
	if err != nil {
		t.Fatalf("ユーザーの作成に失敗: %v", err)
	}
	return u
}

// createAdmin は起動時と同じ経路で管理者を登録する。
func (e *testEnv) createAdmin(t *testing.T) userstore.User {
	t.Helper()

	u, err := e.users.EnsureAdmin(context.Background(), "admin@example.com", "password123")
	if err != nil {
		t.Fatalf("管理者の登録に失敗: %v", err)
	}
	return u
}

// tokenFor はユーザーのトークンを発行する。
func (e *testEnv) tokenFor(t *testing.T, u userstore.User) string {
	t.Helper()

	token, _, err := e.provider.Issue(u.UID, identity.Claims{Email: u.Email, Roles: u.Roles})
	if err != nil {
		t.Fatalf("トークンの発行に失敗: %v", err)
	}
	return token
}

// do はリクエストを送信する。tokenが空の場合はAuthorizationヘッダーを付けない。
func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

// decode はレスポンスボディをJSONオブジェクトとして解析する。
func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v (body=%s)", err, w.Body.String())
	}
	return got
}

// detailKeys はバリデーションエラーのdetailsに含まれるフィールド名を返す。
func detailKeys(t *testing.T, body map[string]any) []string {
	t.Helper()

	details, ok := body["details"].(map[string]any)
	if !ok {
		t.Fatalf("detailsがオブジェクトではない: %v", body["details"])
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestPublicEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("ルートはAPIの案内を返すこと", func(t *testing.T) {
		t.Parallel()

		w := newTestEnv(t).do(t, http.MethodGet, "/", "", "")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if got := decode(t, w); got["version"] != "1.0.0" || got["message"] == "" {
			t.Errorf("body = %v", got)
		}
	})

	t.Run("ヘルスチェックは時刻と環境を返すこと", func(t *testing.T) {
		t.Parallel()

		w := newTestEnv(t).do(t, http.MethodGet, "/api/health", "", "")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		got := decode(t, w)
		if got["status"] != "ok" {
			t.Errorf("status = %v, want ok", got["status"])
		}
		if got["timestamp"] != "2024-05-01T12:00:00.000Z" {
			t.Errorf("timestamp = %v", got["timestamp"])
		}
		env, _ := got["env"].(map[string]any)
		if env["appEnv"] != "test" || env["port"] != "3001" {
			t.Errorf("env = %v", env)
		}
	})

	t.Run("デモデータは3件返ること", func(t *testing.T) {
		t.Parallel()

		w := newTestEnv(t).do(t, http.MethodGet, "/api/data", "", "")
		items, _ := decode(t, w)["items"].([]any)
		if len(items) != 3 {
			t.Errorf("件数 = %d, want 3", len(items))
		}
	})

	t.Run("未定義のルートはエラーエンベロープの404になること", func(t *testing.T) {
		t.Parallel()

		w := newTestEnv(t).do(t, http.MethodGet, "/api/unknown", "", "")
		if w.Code != http.StatusNotFound {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
		if got := decode(t, w); got["error"] != "Not found" {
			t.Errorf("error = %v", got["error"])
		}
	})

	t.Run("メトリクスがルートテンプレート単位で公開されること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.do(t, http.MethodGet, "/api/items/abc", "", "")
		w := env.do(t, http.MethodGet, "/metrics", "", "")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if !strings.Contains(w.Body.String(), `route="/api/items/:id"`) {
			t.Errorf("メトリクスにルートテンプレートが含まれていない")
		}
	})

	t.Run("許可されたオリジンのプリフライトに204を返すこと", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodOptions, "/api/items", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		newTestEnv(t).handler.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNoContent)
		}
		if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
			t.Errorf("Access-Control-Allow-Origin = %s", w.Header().Get("Access-Control-Allow-Origin"))
		}
	})
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	t.Run("上限を超えたリクエストは429になること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, func(cfg *config.Config, _ *Deps) {
			cfg.RateLimitRPS = 0.001
			cfg.RateLimitBurst = 1
		})
		if w := env.do(t, http.MethodGet, "/api/data", "", ""); w.Code != http.StatusOK {
			t.Fatalf("1回目のステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if w := env.do(t, http.MethodGet, "/api/data", "", ""); w.Code != http.StatusTooManyRequests {
			t.Errorf("2回目のステータスコード = %d, want %d", w.Code, http.StatusTooManyRequests)
		}
	})
}

func TestAuthorizationGate(t *testing.T) {
	t.Parallel()

	protected := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/api/auth/me", ""},
		{http.MethodPatch, "/api/auth/me", `{}`},
		{http.MethodGet, "/api/auth/users/u1", ""},
		{http.MethodPatch, "/api/auth/users/u1", `{}`},
		{http.MethodDelete, "/api/auth/users/u1", ""},
		{http.MethodGet, "/api/items", ""},
		{http.MethodGet, "/api/items/x", ""},
		{http.MethodPost, "/api/items", `{"name":"a","price":1}`},
		{http.MethodPut, "/api/items/x", `{"name":"a","price":1}`},
		{http.MethodDelete, "/api/items/x", ""},
		{http.MethodPost, "/api/storage/upload-url", `{"fileName":"a.png","contentType":"image/png"}`},
		{http.MethodGet, "/api/storage/files", ""},
		{http.MethodDelete, "/api/storage/files/a.png", ""},
		{http.MethodGet, "/api/storage/download-url/uploads/u1/a.png", ""},
	}

	t.Run("認証情報が無い場合は401になり外部サービスを呼ばないこと", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		for _, r := range protected {
			w := env.do(t, r.method, r.path, r.body, "")
			if w.Code != http.StatusUnauthorized {
				t.Errorf("%s %s: ステータスコード = %d, want %d", r.method, r.path, w.Code, http.StatusUnauthorized)
				continue
			}
			if got := decode(t, w); got["error"] != "Unauthorized - Missing or invalid token format" {
				t.Errorf("%s %s: error = %v", r.method, r.path, got["error"])
			}
		}
		if n := env.objects.callCount(); n != 0 {
			t.Errorf("オブジェクトストアの呼び出し回数 = %d, want 0", n)
		}
		docs, err := env.docs.Collection(itemsCollection).List(context.Background())
		if err != nil {
			t.Fatalf("一覧取得に失敗: %v", err)
		}
		if len(docs) != 0 {
			t.Errorf("アイテム数 = %d, want 0", len(docs))
		}
	})

	t.Run("不正なトークンは理由を含む401になること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		for _, r := range protected {
			w := env.do(t, r.method, r.path, r.body, "not-a-jwt")
			if w.Code != http.StatusUnauthorized {
				t.Errorf("%s %s: ステータスコード = %d, want %d", r.method, r.path, w.Code, http.StatusUnauthorized)
				continue
			}
			got := decode(t, w)
			if got["error"] != "Unauthorized - Invalid token" {
				t.Errorf("%s %s: error = %v", r.method, r.path, got["error"])
			}
			if details, _ := got["details"].(string); details == "" {
				t.Errorf("%s %s: detailsが空", r.method, r.path)
			}
		}
	})

	t.Run("別の鍵で署名されたトークンは401になること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		other, err := identity.NewHMACProvider(identity.HMACConfig{Secret: "other", Issuer: "starterkit-test", Now: testClock})
		if err != nil {
			t.Fatalf("プロバイダの生成に失敗: %v", err)
		}
		token, _, err := other.Issue("u1", identity.Claims{})
		if err != nil {
			t.Fatalf("トークンの発行に失敗: %v", err)
		}
		if w := env.do(t, http.MethodGet, "/api/items", "", token); w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

func TestInternalErrors(t *testing.T) {
	t.Parallel()

	t.Run("外部サービスの失敗はメッセージを含む500になること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.objects.err = errors.New("bucket unavailable")
		token := env.tokenFor(t, env.createUser(t, "u@example.com"))

		w := env.do(t, http.MethodGet, "/api/storage/files", "", token)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
		}
		got := decode(t, w)
		if got["error"] != "Failed to list files" {
			t.Errorf("error = %v", got["error"])
		}
		if details, _ := got["details"].(string); !strings.Contains(details, "bucket unavailable") {
			t.Errorf("details = %v", got["details"])
		}
	})
}
