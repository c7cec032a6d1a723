package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"
	contextLogKey   = "logger"
)

// RequestLogger 给每个请求分配 request id，挂上带 id 的 logger，结束时打一行访问日志
func RequestLogger(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(RequestIDHeader, rid)
		log := base.With("request_id", rid)
		c.Set(contextLogKey, log)

		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		}
		if uid, ok := c.Get(ContextUserIDKey); ok {
			attrs = append(attrs, "user_id", uid)
		}
		switch {
		case c.Writer.Status() >= 500:
			log.ErrorContext(c.Request.Context(), "request", attrs...)
		case c.Writer.Status() >= 400:
			log.WarnContext(c.Request.Context(), "request", attrs...)
		default:
			log.InfoContext(c.Request.Context(), "request", attrs...)
		}
	}
}

// Logger 当前请求的 logger，没有经过 RequestLogger 时返回默认 logger
func Logger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(contextLogKey); ok {
		if log, ok := v.(*slog.Logger); ok {
			return log
		}
	}
	return slog.Default()
}
