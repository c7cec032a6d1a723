package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// WriteLimiter 按用户限制写请求频率，读请求不限
type WriteLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[uint64]*userLimiter
	lastGC   time.Time
}

type userLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

const limiterIdle = 10 * time.Minute

func NewWriteLimiter(rps float64, burst int) *WriteLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &WriteLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[uint64]*userLimiter),
		lastGC:   time.Now(),
	}
}

func (w *WriteLimiter) allow(userID uint64) bool {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	if now.Sub(w.lastGC) > limiterIdle {
		for id, l := range w.limiters {
			if now.Sub(l.seen) > limiterIdle {
				delete(w.limiters, id)
			}
		}
		w.lastGC = now
	}
	l, ok := w.limiters[userID]
	if !ok {
		l = &userLimiter{lim: rate.NewLimiter(w.rps, w.burst)}
		w.limiters[userID] = l
	}
	l.seen = now
	return l.lim.AllowN(now, 1)
}

// Middleware 必须挂在 AuthMiddleware 之后；rps<=0 时不限流
func (w *WriteLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if w.rps <= 0 || c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			c.Next()
			return
		}
		uid := c.GetUint64(ContextUserIDKey)
		if uid != 0 && !w.allow(uid) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"code": "rate_limited", "msg": "too many requests"})
			return
		}
		c.Next()
	}
}
