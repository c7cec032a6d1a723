package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"Care_Community/internal/pkg"
)

const ContextUserIDKey = "user_id"

// TokenStore 每个用户当前有效的 access token
type TokenStore interface {
	Get(ctx context.Context, userID uint64) (string, error)
	Extend(ctx context.Context, userID uint64) error
}

func AuthMiddleware(jwt *pkg.JWTManager, tokens TokenStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "msg": "missing authorization header"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "msg": "invalid authorization format"})
			return
		}
		tokenStr := parts[1]

		claims, err := jwt.ParseAccess(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "msg": "invalid or expired token"})
			return
		}

		// redis 里只保留最近一次登录的 token
		origin, err := tokens.Get(c.Request.Context(), claims.UserID)
		if err != nil || origin != tokenStr {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "msg": "account has been logged in elsewhere"})
			return
		}

		// 校验通过后更新过期时间
		if err := tokens.Extend(c.Request.Context(), claims.UserID); err != nil {
			Logger(c).WarnContext(c.Request.Context(), "extend token failed", "user_id", claims.UserID, "err", err)
		}

		c.Set(ContextUserIDKey, claims.UserID)
		c.Next()
	}
}
