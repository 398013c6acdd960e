package utils

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// Cors CORS 中间件：允许配置的源（本地前端开发用）
// 从环境变量读取允许列表，只有在列表内的请求才会获得 CORS 头
func Cors() gin.HandlerFunc {
	allow := os.Getenv("ALLOW_ORIGINS")
	if allow == "" {
		// 默认允许常见本地开发地址
		allow = "http://localhost:3000,http://127.0.0.1:3000,http://localhost:5173,http://127.0.0.1:5173"
	}
	allowed := map[string]bool{}
	for _, a := range strings.Split(allow, ",") {
		if a = strings.TrimSpace(a); a != "" {
			allowed[a] = true
		}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		// 对 OPTIONS 预检请求直接返回 204 No Content（浏览器跨域需要）
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		c.Next()
	}
}
