package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	utils "github.com/NCUHOME-Y/WorkBeat-BE/pkg/mypubliclib/util"
)

// JWTAuth JWT鉴权：解析登录身份令牌，把 identity 放进请求上下文
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := utils.ExtractToken(c.GetHeader("Authorization"))
		if tokenStr == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 1001, "message": "缺少Token或格式错误"})
			c.Abort()
			return
		}
		claims, err := utils.ParseToken(secret, tokenStr)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 1001, "message": "Token无效或过期"})
			c.Abort()
			return
		}
		// 将用户信息放入请求的上下文
		c.Set("identity", claims.Identity)
		c.Set("is_admin", claims.IsAdmin)
		c.Next()
	}
}
