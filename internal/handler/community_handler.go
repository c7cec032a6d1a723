package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"Care_Community/internal/model"
	"Care_Community/internal/service"
)

type CommunityHandler struct {
	svc        *service.CommunityService
	membership *service.MembershipService
}

type CommunityCreateReq struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

type StaffReq struct {
	UserID uint64 `json:"user_id" binding:"required"`
	// 1 工作人员，2 管理员
	Role int `json:"role" binding:"required,oneof=1 2"`
}

func NewCommunityHandler(svc *service.CommunityService, membership *service.MembershipService) *CommunityHandler {
	return &CommunityHandler{svc: svc, membership: membership}
}

func (h *CommunityHandler) Create(c *gin.Context) {
	var req CommunityCreateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}

	community, err := h.svc.CreateCommunity(c.Request.Context(), currentUser(c), req.Name, req.Description)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":          community.ID,
		"name":        community.Name,
		"description": community.Description,
	})
}

func (h *CommunityHandler) Get(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	community, err := h.svc.GetCommunity(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, community)
}

func (h *CommunityHandler) List(c *gin.Context) {
	page := queryInt(c, "page", 1)
	size := queryInt(c, "size", 10)

	list, err := h.svc.ListCommunities(c.Request.Context(), page, size)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": list})
}

// SetStatus 启用/停用社区，仅超级管理员
func (h *CommunityHandler) SetStatus(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Status model.CommunityStatus `json:"status" binding:"required,oneof=active disabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}

	if err := h.svc.SetStatus(c.Request.Context(), currentUser(c), id, req.Status); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "ok"})
}

func (h *CommunityHandler) AddStaff(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req StaffReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}

	if err := h.svc.AddStaff(c.Request.Context(), currentUser(c), id, req.UserID, req.Role); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "ok"})
}

func (h *CommunityHandler) RemoveStaff(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	userID, ok := idParam(c, "user_id")
	if !ok {
		return
	}
	if err := h.svc.RemoveStaff(c.Request.Context(), currentUser(c), id, userID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "ok"})
}

func (h *CommunityHandler) ListStaff(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	list, err := h.svc.ListStaff(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

// Members 社区成员分页
func (h *CommunityHandler) Members(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	page := queryInt(c, "page", 1)
	size := queryInt(c, "size", 20)

	users, total, err := h.membership.Members(c.Request.Context(), currentUser(c), id, page, size)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": users, "total": total, "page": page, "size": size})
}

// MoveMember 把用户迁入本社区
func (h *CommunityHandler) MoveMember(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	userID, ok := idParam(c, "user_id")
	if !ok {
		return
	}
	user, err := h.membership.Change(c.Request.Context(), currentUser(c), userID, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// RemoveMember 移出社区，用户进入沙箱社区
func (h *CommunityHandler) RemoveMember(c *gin.Context) {
	userID, ok := idParam(c, "user_id")
	if !ok {
		return
	}
	user, err := h.membership.Remove(c.Request.Context(), currentUser(c), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
