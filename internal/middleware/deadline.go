package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

// Deadline 给请求上下文加超时，下游事务随之取消
func Deadline(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
