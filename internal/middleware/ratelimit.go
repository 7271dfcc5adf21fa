package middleware

import (
	"net/http"
	"receipt-rag-go/internal/model"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// UserRateLimiter 为每个用户维护一个令牌桶。
type UserRateLimiter struct {
	mu       sync.Mutex
	limiters map[uint]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewUserRateLimiter 创建一个每分钟 perMinute 次、突发 burst 次的限流器。
func NewUserRateLimiter(perMinute float64, burst int) *UserRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &UserRateLimiter{
		limiters: make(map[uint]*rate.Limiter),
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
	}
}

// Allow 判断该用户本次请求是否放行。
func (l *UserRateLimiter) Allow(userID uint) bool {
	l.mu.Lock()
	lim, ok := l.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// RateLimitMiddleware 按用户限流，必须在 AuthMiddleware 之后使用。
// limiter 为 nil 时不限流。
func RateLimitMiddleware(limiter *UserRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		value, _ := c.Get("user")
		user, ok := value.(*model.User)
		if !ok {
			c.Next()
			return
		}
		if !limiter.Allow(user.ID) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"code": http.StatusTooManyRequests, "message": "请求过于频繁，请稍后再试", "data": nil})
			return
		}
		c.Next()
	}
}
