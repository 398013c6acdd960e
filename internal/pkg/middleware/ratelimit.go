package middleware

import (
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimit 按登录身份限流，挂在 JWT 鉴权之后
// 每人每秒 5 次，瞬时突发 10 次；心跳 60~90 秒一次远在限额之内
// 上下文里没有 identity 时按来源 IP 兜底
func RateLimit() gin.HandlerFunc {
	var (
		mu       sync.Mutex
		limiters = map[string]*rate.Limiter{}
	)
	get := func(k string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if l, ok := limiters[k]; ok {
			return l
		}
		l := rate.NewLimiter(5, 10)
		limiters[k] = l
		return l
	}
	return func(c *gin.Context) {
		k := c.GetString("identity")
		if k == "" {
			host, _, _ := net.SplitHostPort(c.Request.RemoteAddr)
			k = host
		}
		if !get(k).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"code": 1003, "message": "请求频繁，稍后重试"})
			c.Abort()
			return
		}
		c.Next()
	}
}
