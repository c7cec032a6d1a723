package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"Care_Community/internal/model"
	"Care_Community/internal/service"
)

// SupervisionHandler 监督邀请与关系管理
type SupervisionHandler struct {
	svc *service.SupervisionService
}

func NewSupervisionHandler(svc *service.SupervisionService) *SupervisionHandler {
	return &SupervisionHandler{svc: svc}
}

// InviteUserReq rule_ids 为空表示全部个人规则
type InviteUserReq struct {
	SupervisorID uint64   `json:"supervisor_user_id" binding:"required"`
	RuleIDs      []uint64 `json:"rule_ids"`
}

type InviteLinkReq struct {
	RuleIDs []uint64 `json:"rule_ids"`
	// 例如 "48h"，为空取配置
	TTL   string `json:"ttl"`
	Email string `json:"email"`
}

func (h *SupervisionHandler) InviteUser(c *gin.Context) {
	var req InviteUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}

	rels, err := h.svc.InviteUser(c.Request.Context(), currentUser(c), req.RuleIDs, req.SupervisorID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rels})
}

func (h *SupervisionHandler) InviteLink(c *gin.Context) {
	var req InviteLinkReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}
	ttl, err := parseDuration(req.TTL)
	if err != nil || ttl < 0 {
		badRequest(c, "invalid ttl")
		return
	}

	link, err := h.svc.InviteLink(c.Request.Context(), currentUser(c), req.RuleIDs, ttl, strings.TrimSpace(req.Email))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, link)
}

// Resolve 打开邀请链接，把关系绑定到当前用户
func (h *SupervisionHandler) Resolve(c *gin.Context) {
	rels, err := h.svc.Resolve(c.Request.Context(), c.Param("token"), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rels})
}

func (h *SupervisionHandler) Accept(c *gin.Context) {
	h.transition(c, h.svc.Accept)
}

func (h *SupervisionHandler) Reject(c *gin.Context) {
	h.transition(c, h.svc.Reject)
}

func (h *SupervisionHandler) Revoke(c *gin.Context) {
	h.transition(c, h.svc.Revoke)
}

func (h *SupervisionHandler) transition(c *gin.Context,
	fn func(ctx context.Context, relID, actor uint64) (*model.SupervisionRelation, error)) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	rel, err := fn(c.Request.Context(), id, currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rel)
}

// Incoming 我作为监督人的关系，?status=pending,accepted
func (h *SupervisionHandler) Incoming(c *gin.Context) {
	list, err := h.svc.ListIncoming(c.Request.Context(), currentUser(c), statusFilter(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

// Outgoing 我发出的邀请
func (h *SupervisionHandler) Outgoing(c *gin.Context) {
	list, err := h.svc.ListOutgoing(c.Request.Context(), currentUser(c), statusFilter(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

func statusFilter(c *gin.Context) []model.RelationStatus {
	raw := c.Query("status")
	if raw == "" {
		return nil
	}
	var out []model.RelationStatus
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, model.RelationStatus(s))
		}
	}
	return out
}
