package utils

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	Identity string `json:"identity"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// GenerateToken 签发身份 Token（HS256 对称签名）
// 注意这是登录身份令牌，不是在线会话 token（那个是 uuid，由会话管理签发）
func GenerateToken(secret string, expire time.Duration, identity string, isAdmin bool) (string, error) {
	claims := &Claims{
		Identity: identity,
		IsAdmin:  isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expire)), // Token过期时间
			IssuedAt:  jwt.NewNumericDate(time.Now()),             // Token签发时间
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken 验证 Token 的签名并提取自定义声明
func ParseToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("无效的token")
	}
	return claims, nil
}

// ExtractToken 从 Authorization 头中提取 token 字符串
func ExtractToken(authHeader string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(authHeader, prefix) {
		return strings.TrimPrefix(authHeader, prefix)
	}
	return ""
}
