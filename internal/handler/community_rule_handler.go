package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"Care_Community/internal/service"
)

// CommunityRuleHandler 社区规则，仅社区工作人员可用
type CommunityRuleHandler struct {
	svc        *service.CommunityRuleService
	activation *service.ActivationService
}

func NewCommunityRuleHandler(svc *service.CommunityRuleService, activation *service.ActivationService) *CommunityRuleHandler {
	return &CommunityRuleHandler{svc: svc, activation: activation}
}

func (h *CommunityRuleHandler) Create(c *gin.Context) {
	communityID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req service.RuleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}

	rule, err := h.svc.Create(c.Request.Context(), currentUser(c), communityID, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// List ?draft=1 时包含草稿
func (h *CommunityRuleHandler) List(c *gin.Context) {
	communityID, ok := idParam(c, "id")
	if !ok {
		return
	}
	list, err := h.svc.List(c.Request.Context(), currentUser(c), communityID, c.Query("draft") == "1")
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

func (h *CommunityRuleHandler) Get(c *gin.Context) {
	id, ok := idParam(c, "rule_id")
	if !ok {
		return
	}
	rule, err := h.svc.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *CommunityRuleHandler) Update(c *gin.Context) {
	id, ok := idParam(c, "rule_id")
	if !ok {
		return
	}
	var req service.RuleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}

	rule, err := h.svc.Update(c.Request.Context(), currentUser(c), id, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *CommunityRuleHandler) Enable(c *gin.Context) {
	id, ok := idParam(c, "rule_id")
	if !ok {
		return
	}
	rule, err := h.svc.Enable(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *CommunityRuleHandler) Disable(c *gin.Context) {
	id, ok := idParam(c, "rule_id")
	if !ok {
		return
	}
	rule, err := h.svc.Disable(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *CommunityRuleHandler) Delete(c *gin.Context) {
	id, ok := idParam(c, "rule_id")
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), currentUser(c), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "ok"})
}

// SetMember 给单个成员开关规则
func (h *CommunityRuleHandler) SetMember(c *gin.Context) {
	ruleID, ok := idParam(c, "rule_id")
	if !ok {
		return
	}
	userID, ok := idParam(c, "user_id")
	if !ok {
		return
	}
	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}

	if err := h.activation.SetMemberActive(c.Request.Context(), currentUser(c), ruleID, userID, *req.Active); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "ok"})
}

// Members 游标分页，last_user_id 为上一页最后一个
func (h *CommunityRuleHandler) Members(c *gin.Context) {
	ruleID, ok := idParam(c, "rule_id")
	if !ok {
		return
	}
	last, ok := queryUint(c, "last_user_id")
	if !ok {
		return
	}

	ids, err := h.activation.RuleMembers(c.Request.Context(), currentUser(c), ruleID, last, queryInt(c, "limit", 100))
	if err != nil {
		fail(c, err)
		return
	}
	var next uint64
	if len(ids) > 0 {
		next = ids[len(ids)-1]
	}
	c.JSON(http.StatusOK, gin.H{"user_ids": ids, "next_user_id": next})
}
