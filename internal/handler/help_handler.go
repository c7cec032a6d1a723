package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"Care_Community/internal/service"
)

// HelpHandler 社区求助事件与邻里支持
type HelpHandler struct {
	svc *service.HelpService
}

type HelpCreateReq struct {
	Title   string `json:"title" binding:"required"`
	Content string `json:"content"`
}

func NewHelpHandler(svc *service.HelpService) *HelpHandler {
	return &HelpHandler{svc: svc}
}

func (h *HelpHandler) Create(c *gin.Context) {
	var req HelpCreateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}

	ev, err := h.svc.Create(c.Request.Context(), currentUser(c), req.Title, req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// ListByCommunity 游标分页，last_id/last_created_at 取上一页返回值
func (h *HelpHandler) ListByCommunity(c *gin.Context) {
	communityID, ok := idParam(c, "id")
	if !ok {
		return
	}
	lastID, ok := queryUint(c, "last_id")
	if !ok {
		return
	}
	var lastTS int64
	if v := c.Query("last_created_at"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			badRequest(c, "invalid last_created_at")
			return
		}
		lastTS = ts
	}

	page, err := h.svc.ListByCommunityCursor(c.Request.Context(), currentUser(c), communityID, lastID, lastTS, queryInt(c, "size", 10))
	if err != nil {
		fail(c, err)
		return
	}
	var nextAt string
	if page.NextCreatedAt > 0 {
		nextAt = time.Unix(page.NextCreatedAt, 0).Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, gin.H{
		"list":              page.Items,
		"next_last_id":      page.NextID,
		"next_created_at":   page.NextCreatedAt,
		"next_created_at_s": nextAt,
	})
}

func (h *HelpHandler) Delete(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), currentUser(c), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "deleted"})
}

// Resolve 作者标记已解决
func (h *HelpHandler) Resolve(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Resolve(c.Request.Context(), currentUser(c), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "ok"})
}

func (h *HelpHandler) Support(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	changed, err := h.svc.Support(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

func (h *HelpHandler) Unsupport(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	changed, err := h.svc.Unsupport(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

// Stats 支持数和我是否已支持
func (h *HelpHandler) Stats(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	cnt, err := h.svc.SupportCount(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	supported, err := h.svc.IsSupported(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": cnt, "supported": supported})
}
