package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"Care_Community/internal/errs"
	"Care_Community/internal/middleware"
	"Care_Community/internal/schedule"
)

// statusOf 业务错误分类到 HTTP 状态码
func statusOf(kind string) int {
	switch kind {
	case "invalid_argument":
		return http.StatusBadRequest
	case "not_authorized":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "rule_locked", "rule_not_active", "slot_closed", "already_checked", "invite_already_bound", "conflict":
		return http.StatusConflict
	case "invite_expired":
		return http.StatusGone
	case "deadline_exceeded":
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// fail 统一错误响应，内部错误不把细节回给客户端
func fail(c *gin.Context, err error) {
	kind := errs.Kind(err)
	status := statusOf(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		middleware.Logger(c).ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "err", err)
		msg = "internal error"
	}
	c.JSON(status, gin.H{"code": kind, "msg": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_argument", "msg": msg})
}

func currentUser(c *gin.Context) uint64 {
	return c.GetUint64(middleware.ContextUserIDKey)
}

// idParam 解析路径上的数字 id，失败时已经写好 400
func idParam(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

func queryUint(c *gin.Context, name string) (uint64, bool) {
	v := c.Query(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return n, true
}

func queryInt(c *gin.Context, name string, def int) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return n
}

// queryDate YYYY-MM-DD，缺省返回零值
func queryDate(c *gin.Context, name string) (schedule.Date, bool) {
	v := c.Query(name)
	if v == "" {
		return schedule.Date{}, true
	}
	d, err := schedule.ParseDate(v)
	if err != nil {
		badRequest(c, "invalid "+name)
		return schedule.Date{}, false
	}
	return d, true
}

// parseDuration 可选的时长，例如 48h
func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}
