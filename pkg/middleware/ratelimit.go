package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/starterkit/pkg/envelope"
	"golang.org/x/time/rate"
)

// maxLimiters は保持するクライアント別リミッターの上限数。超えた場合は全て破棄する。
const maxLimiters = 10000

// RateLimiter はクライアントIPごとのトークンバケットでリクエストを制限する。
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewRateLimiter は1秒あたりrps件、バースト幅burstのRateLimiterを生成する。
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

// limiter はキーに対応するリミッターを返す。
func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= maxLimiters {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

// Middleware は上限を超えたリクエストを429で中断するGinミドルウェアを返す。
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.limiter(c.ClientIP()).Allow() {
			envelope.Abort(c, envelope.RateLimited("Too many requests"))
			return
		}
		c.Next()
	}
}
