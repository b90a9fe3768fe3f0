package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// TestRequestLogger はアクセスログミドルウェアを検証する。
func TestRequestLogger(t *testing.T) {
	t.Parallel()

	t.Run("リクエストIDを生成しアクセスログを出力すること", func(t *testing.T) {
		t.Parallel()

		core, logs := observer.New(zap.InfoLevel)
		router := gin.New()
		router.Use(RequestLogger(zap.New(core)))
		router.GET("/items/:id", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/1", nil))

		if w.Header().Get("X-Request-Id") == "" {
			t.Error("X-Request-Id が設定されていない")
		}
		entries := logs.All()
		if len(entries) != 1 {
			t.Fatalf("ログ件数 = %d, want 1", len(entries))
		}
		fields := entries[0].ContextMap()
		if fields["path"] != "/items/1" {
			t.Errorf("path = %v, want /items/1", fields["path"])
		}
		if fields["status"] != int64(http.StatusOK) {
			t.Errorf("status = %v, want 200", fields["status"])
		}
	})

	t.Run("既存のリクエストIDを引き継ぎエラーをerrorレベルで出力すること", func(t *testing.T) {
		t.Parallel()

		core, logs := observer.New(zap.InfoLevel)
		router := gin.New()
		router.Use(RequestLogger(zap.New(core)))
		router.GET("/fail", func(c *gin.Context) {
			_ = c.Error(errors.New("backend down"))
			c.Status(http.StatusInternalServerError)
		})

		req := httptest.NewRequest(http.MethodGet, "/fail", nil)
		req.Header.Set("X-Request-Id", "req-1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if got := w.Header().Get("X-Request-Id"); got != "req-1" {
			t.Errorf("X-Request-Id = %q, want req-1", got)
		}
		entries := logs.FilterLevelExact(zap.ErrorLevel).All()
		if len(entries) != 1 {
			t.Fatalf("errorログ件数 = %d, want 1", len(entries))
		}
	})
}

// TestMetrics はメトリクスミドルウェアを検証する。
func TestMetrics(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")
	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/items/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	for range 3 {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/42", nil))
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(w.Body)
	if err != nil {
		t.Fatalf("レスポンスの読み込みに失敗: %v", err)
	}

	want := `test_http_requests_total{method="GET",route="/items/:id",status="200"} 3`
	if !strings.Contains(string(body), want) {
		t.Errorf("メトリクスに %q が含まれていない", want)
	}
}

// TestRateLimiter はレート制限ミドルウェアを検証する。
func TestRateLimiter(t *testing.T) {
	t.Parallel()

	router := gin.New()
	router.Use(NewRateLimiter(0.001, 2).Middleware())
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for range 3 {
		last = httptest.NewRecorder()
		router.ServeHTTP(last, httptest.NewRequest(http.MethodGet, "/test", nil))
		codes = append(codes, last.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("バースト内のステータスコード = %v, want 200", codes[:2])
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("3回目のステータスコード = %d, want %d", codes[2], http.StatusTooManyRequests)
	}
	if got := last.Body.String(); got != `{"error":"Too many requests"}` {
		t.Errorf("3回目のボディ = %s", got)
	}
}
